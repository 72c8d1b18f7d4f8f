package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com"

// geminiClient speaks the generateContent API.
type geminiClient struct {
	*base
}

func (c *geminiClient) endpoint() string {
	return strings.TrimRight(c.baseURL(geminiBaseURL), "/")
}

func (c *geminiClient) header() http.Header {
	h := http.Header{}
	if c.cfg.APIKey != "" {
		h.Set("X-Goog-Api-Key", c.cfg.APIKey)
	}
	return h
}

func (c *geminiClient) Complete(ctx context.Context, req models.OptimizationRequest, complexity models.ComplexityScore) (*models.OptimizationResponse, error) {
	start := time.Now()
	model := c.cfg.RecommendedModel()
	body, err := c.body(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Provider: c.cfg.Name, Message: "build body: " + err.Error(), Err: err}
	}

	target := c.endpoint() + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	raw, err := c.send(ctx, http.MethodPost, target, body, c.header())
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	gjson.GetBytes(raw, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		text.WriteString(part.Get("text").String())
		return true
	})

	out := completion{
		content:      text.String(),
		model:        gjson.GetBytes(raw, "modelVersion").String(),
		finishReason: strings.ToLower(gjson.GetBytes(raw, "candidates.0.finishReason").String()),
	}
	if out.model == "" {
		out.model = model
	}
	if meta := gjson.GetBytes(raw, "usageMetadata"); meta.Exists() {
		out.inputTokens = meta.Get("promptTokenCount").Int()
		out.outputTokens = meta.Get("candidatesTokenCount").Int()
		out.hasUsage = true
	}
	return c.respond(out, complexity, start), nil
}

func (c *geminiClient) HealthCheck(ctx context.Context) error {
	return c.probe(ctx, c.endpoint()+"/v1beta/models", c.header())
}

// body builds a generateContent request. Assistant turns use the "model" role.
func (c *geminiClient) body(req models.OptimizationRequest) ([]byte, error) {
	body := []byte(`{"contents":[]}`)
	var err error
	for _, m := range req.History {
		role := "user"
		if m.Role == "assistant" || m.Role == "model" {
			role = "model"
		}
		if body, err = appendGeminiTurn(body, role, m.Content); err != nil {
			return nil, err
		}
	}
	if body, err = appendGeminiTurn(body, "user", req.Prompt); err != nil {
		return nil, err
	}
	if req.SystemMessage != "" {
		if body, err = sjson.SetBytes(body, "systemInstruction.parts.0.text", req.SystemMessage); err != nil {
			return nil, err
		}
	}
	if body, err = sjson.SetBytes(body, "generationConfig.maxOutputTokens", c.maxTokens(req)); err != nil {
		return nil, err
	}
	if req.Temperature != nil {
		if body, err = sjson.SetBytes(body, "generationConfig.temperature", *req.Temperature); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func appendGeminiTurn(body []byte, role, text string) ([]byte, error) {
	turn := map[string]any{
		"role":  role,
		"parts": []map[string]string{{"text": text}},
	}
	return sjson.SetBytes(body, "contents.-1", turn)
}
