package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

const anthropicBaseURL = "https://api.anthropic.com"

// anthropicClient speaks the Messages API.
type anthropicClient struct {
	*base
}

func (c *anthropicClient) endpoint() string {
	return strings.TrimRight(c.baseURL(anthropicBaseURL), "/")
}

func (c *anthropicClient) header() http.Header {
	h := http.Header{}
	if c.cfg.APIKey != "" {
		h.Set("X-API-Key", c.cfg.APIKey)
	}
	h.Set("anthropic-version", anthropicVersionHeader)
	return h
}

func (c *anthropicClient) Complete(ctx context.Context, req models.OptimizationRequest, complexity models.ComplexityScore) (*models.OptimizationResponse, error) {
	start := time.Now()
	body, err := c.body(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Provider: c.cfg.Name, Message: "build body: " + err.Error(), Err: err}
	}

	raw, err := c.send(ctx, http.MethodPost, c.endpoint()+"/v1/messages", body, c.header())
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	gjson.GetBytes(raw, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})

	out := completion{
		content:      text.String(),
		model:        gjson.GetBytes(raw, "model").String(),
		finishReason: gjson.GetBytes(raw, "stop_reason").String(),
	}
	if usage := gjson.GetBytes(raw, "usage"); usage.Exists() {
		out.inputTokens = usage.Get("input_tokens").Int()
		out.outputTokens = usage.Get("output_tokens").Int()
		out.hasUsage = true
	}
	return c.respond(out, complexity, start), nil
}

func (c *anthropicClient) HealthCheck(ctx context.Context) error {
	return c.probe(ctx, c.endpoint()+"/v1/models", c.header())
}

// body builds a Messages API request. The system message is a top-level
// field; history turns other than user and assistant are dropped.
func (c *anthropicClient) body(req models.OptimizationRequest) ([]byte, error) {
	body := []byte(`{"messages":[]}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", c.cfg.RecommendedModel()); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "max_tokens", c.maxTokens(req)); err != nil {
		return nil, err
	}
	if req.SystemMessage != "" {
		if body, err = sjson.SetBytes(body, "system", req.SystemMessage); err != nil {
			return nil, err
		}
	}
	for _, m := range req.History {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if body, err = sjson.SetBytes(body, "messages.-1", m); err != nil {
			return nil, err
		}
	}
	if body, err = sjson.SetBytes(body, "messages.-1", models.Message{Role: "user", Content: req.Prompt}); err != nil {
		return nil, err
	}
	if req.Temperature != nil {
		if body, err = sjson.SetBytes(body, "temperature", *req.Temperature); err != nil {
			return nil, err
		}
	}
	return body, nil
}
