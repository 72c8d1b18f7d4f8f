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

const (
	openAIBaseURL = "https://api.openai.com"
	// DashScope's OpenAI-compatible mode serves the Qwen models.
	qwenBaseURL = "https://dashscope-intl.aliyuncs.com/compatible-mode"
)

// openAIClient speaks the chat completions API. Qwen is served through the
// same wire format.
type openAIClient struct {
	*base
}

func (c *openAIClient) endpoint() string {
	def := openAIBaseURL
	if c.cfg.Name == models.ProviderQwen {
		def = qwenBaseURL
	}
	return strings.TrimRight(c.baseURL(def), "/")
}

func (c *openAIClient) header() http.Header {
	h := http.Header{}
	if c.cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return h
}

func (c *openAIClient) Complete(ctx context.Context, req models.OptimizationRequest, complexity models.ComplexityScore) (*models.OptimizationResponse, error) {
	start := time.Now()
	body, err := chatBody(c.cfg.RecommendedModel(), req, c.maxTokens(req))
	if err != nil {
		return nil, &Error{Kind: KindValidation, Provider: c.cfg.Name, Message: "build body: " + err.Error(), Err: err}
	}

	raw, err := c.send(ctx, http.MethodPost, c.endpoint()+"/v1/chat/completions", body, c.header())
	if err != nil {
		return nil, err
	}

	out := completion{
		content:      gjson.GetBytes(raw, "choices.0.message.content").String(),
		model:        gjson.GetBytes(raw, "model").String(),
		finishReason: gjson.GetBytes(raw, "choices.0.finish_reason").String(),
	}
	if usage := gjson.GetBytes(raw, "usage"); usage.Exists() {
		out.inputTokens = usage.Get("prompt_tokens").Int()
		out.outputTokens = usage.Get("completion_tokens").Int()
		out.hasUsage = true
	}
	return c.respond(out, complexity, start), nil
}

func (c *openAIClient) HealthCheck(ctx context.Context) error {
	return c.probe(ctx, c.endpoint()+"/v1/models", c.header())
}

// chatBody builds a chat-completions style request: optional system message,
// history, then the prompt as the final user turn.
func chatBody(model string, req models.OptimizationRequest, maxTokens int) ([]byte, error) {
	body := []byte(`{"messages":[]}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", model); err != nil {
		return nil, err
	}
	for _, m := range chatMessages(req) {
		if body, err = sjson.SetBytes(body, "messages.-1", m); err != nil {
			return nil, err
		}
	}
	if body, err = sjson.SetBytes(body, "max_tokens", maxTokens); err != nil {
		return nil, err
	}
	if req.Temperature != nil {
		if body, err = sjson.SetBytes(body, "temperature", *req.Temperature); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func chatMessages(req models.OptimizationRequest) []models.Message {
	msgs := make([]models.Message, 0, len(req.History)+2)
	if req.SystemMessage != "" {
		msgs = append(msgs, models.Message{Role: "system", Content: req.SystemMessage})
	}
	msgs = append(msgs, req.History...)
	return append(msgs, models.Message{Role: "user", Content: req.Prompt})
}
