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

const ollamaBaseURL = "http://localhost:11434"

// ollamaClient talks to a self-hosted Ollama server. It needs no API key.
type ollamaClient struct {
	*base
}

func (c *ollamaClient) endpoint() string {
	return strings.TrimRight(c.baseURL(ollamaBaseURL), "/")
}

func (c *ollamaClient) Complete(ctx context.Context, req models.OptimizationRequest, complexity models.ComplexityScore) (*models.OptimizationResponse, error) {
	start := time.Now()
	body, err := c.body(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Provider: c.cfg.Name, Message: "build body: " + err.Error(), Err: err}
	}

	raw, err := c.send(ctx, http.MethodPost, c.endpoint()+"/api/chat", body, nil)
	if err != nil {
		return nil, err
	}

	out := completion{
		content:      gjson.GetBytes(raw, "message.content").String(),
		model:        gjson.GetBytes(raw, "model").String(),
		finishReason: gjson.GetBytes(raw, "done_reason").String(),
	}
	in, eval := gjson.GetBytes(raw, "prompt_eval_count"), gjson.GetBytes(raw, "eval_count")
	if in.Exists() || eval.Exists() {
		out.inputTokens = in.Int()
		out.outputTokens = eval.Int()
		out.hasUsage = true
	}
	return c.respond(out, complexity, start), nil
}

func (c *ollamaClient) HealthCheck(ctx context.Context) error {
	return c.probe(ctx, c.endpoint()+"/api/tags", nil)
}

func (c *ollamaClient) body(req models.OptimizationRequest) ([]byte, error) {
	body := []byte(`{"messages":[],"stream":false}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", c.cfg.RecommendedModel()); err != nil {
		return nil, err
	}
	for _, m := range chatMessages(req) {
		if body, err = sjson.SetBytes(body, "messages.-1", m); err != nil {
			return nil, err
		}
	}
	if body, err = sjson.SetBytes(body, "options.num_predict", c.maxTokens(req)); err != nil {
		return nil, err
	}
	if req.Temperature != nil {
		if body, err = sjson.SetBytes(body, "options.temperature", *req.Temperature); err != nil {
			return nil, err
		}
	}
	return body, nil
}
