// Package providers implements clients for the upstream LLM completion APIs.
//
// Each client turns an OptimizationRequest into one vendor call and returns
// a fully priced OptimizationResponse. API keys live only in memory and are
// sent as request headers; they are never logged.
package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxTokens       = 1024
	maxResponseBodySize    = 10 << 20 // 10 MB
	healthCheckTimeout     = 5 * time.Second
	anthropicVersionHeader = "2023-06-01"
)

// errDeadline marks a call that ran past the provider timeout.
var errDeadline = errors.New("provider call exceeded its timeout")

// Client is a backend completion service.
type Client interface {
	Name() models.Provider
	Complete(ctx context.Context, req models.OptimizationRequest, complexity models.ComplexityScore) (*models.OptimizationResponse, error)
	HealthCheck(ctx context.Context) error
}

// Options tune every client built by New.
type Options struct {
	// HTTPClient is used for upstream calls. Defaults to a client without a
	// global timeout; per-call deadlines come from Timeout.
	HTTPClient *http.Client
	// Timeout bounds a single Complete call. Defaults to 30s.
	Timeout time.Duration
}

// New builds the client for cfg.Name.
func New(cfg models.ProviderConfig, opts Options) (Client, error) {
	b := newBase(cfg, opts)
	switch cfg.Name {
	case models.ProviderOpenAI, models.ProviderQwen:
		return &openAIClient{base: b}, nil
	case models.ProviderAnthropic:
		return &anthropicClient{base: b}, nil
	case models.ProviderGemini:
		return &geminiClient{base: b}, nil
	case models.ProviderOllama:
		return &ollamaClient{base: b}, nil
	}
	return nil, fmt.Errorf("providers: no client for provider %q", cfg.Name)
}

// NewAll builds a client for every configured provider, keyed by name.
func NewAll(cfgs []models.ProviderConfig, opts Options) (map[models.Provider]Client, error) {
	clients := make(map[models.Provider]Client, len(cfgs))
	for _, cfg := range cfgs {
		c, err := New(cfg, opts)
		if err != nil {
			return nil, err
		}
		clients[cfg.Name] = c
	}
	return clients, nil
}

// base holds what every vendor client shares: config, transport, the
// client-side rate limiter and the call timeout.
type base struct {
	cfg     models.ProviderConfig
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func newBase(cfg models.ProviderConfig, opts Options) *base {
	b := &base{cfg: cfg, http: opts.HTTPClient, timeout: opts.Timeout}
	if b.http == nil {
		b.http = &http.Client{}
	}
	if b.timeout <= 0 {
		b.timeout = defaultTimeout
	}
	if cfg.RequestsPerMinute > 0 {
		b.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return b
}

func (b *base) Name() models.Provider { return b.cfg.Name }

// send waits for the provider's client-side rate limiter and then performs
// one upstream call. Cancellation of ctx is returned as ctx.Err().
func (b *base) send(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &Error{Kind: KindRateLimit, Provider: b.cfg.Name, Message: "client-side rate limit: " + err.Error(), Err: err}
		}
	}
	return b.do(ctx, method, url, body, header)
}

// do performs one upstream HTTP call and returns the response body of a
// successful (2xx) call.
func (b *base) do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	callCtx, cancel := context.WithTimeoutCause(ctx, b.timeout, errDeadline)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, method, url, reader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Provider: b.cfg.Name, Message: "build request: " + err.Error(), Err: err}
	}
	for k, vals := range header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if context.Cause(callCtx) == errDeadline {
			err = fmt.Errorf("%w: %w", errDeadline, err)
		}
		return nil, transportError(b.cfg.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if context.Cause(callCtx) == errDeadline {
			err = fmt.Errorf("%w: %w", errDeadline, err)
		}
		return nil, transportError(b.cfg.Name, err)
	}
	if int64(len(respBody)) > maxResponseBodySize {
		return nil, &Error{Kind: KindServer, Provider: b.cfg.Name, StatusCode: resp.StatusCode, Message: "upstream response too large"}
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(b.cfg.Name, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// probe issues a short GET used by HealthCheck. Probes hit listing
// endpoints and do not take completion tokens from the rate limiter.
func (b *base) probe(ctx context.Context, url string, header http.Header) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	_, err := b.do(ctx, http.MethodGet, url, nil, header)
	return err
}

// completion is the vendor-neutral result of a successful call.
type completion struct {
	content      string
	model        string
	finishReason string
	inputTokens  int64
	outputTokens int64
	hasUsage     bool
}

// respond prices a completion and assembles the response.
func (b *base) respond(c completion, complexity models.ComplexityScore, start time.Time) *models.OptimizationResponse {
	usage := models.TokenUsage{Input: c.inputTokens, Output: c.outputTokens}
	if !c.hasUsage {
		usage.Input = int64(complexity.TokenCount)
		usage.Output = EstimateOutputTokens(c.content)
	}
	usage.Total = usage.Input + usage.Output

	model := c.model
	if model == "" {
		model = b.cfg.RecommendedModel()
	}
	cost := ComputeCost(b.cfg, usage)
	resp := &models.OptimizationResponse{
		Content:      c.content,
		Model:        model,
		Provider:     b.cfg.Name,
		Tier:         b.cfg.Tier,
		Usage:        usage,
		Cost:         cost,
		LatencyMs:    time.Since(start).Milliseconds(),
		Savings:      ComputeSavings(usage, cost),
		Complexity:   complexity,
		Timestamp:    time.Now().UTC(),
		FinishReason: c.finishReason,
	}

	log.WithFields(log.Fields{
		"component":     "providers",
		"provider":      b.cfg.Name,
		"model":         model,
		"input_tokens":  usage.Input,
		"output_tokens": usage.Output,
		"estimated":     !c.hasUsage,
		"latency_ms":    resp.LatencyMs,
	}).Debug("completion finished")
	return resp
}

func (b *base) maxTokens(req models.OptimizationRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

func (b *base) baseURL(fallback string) string {
	if b.cfg.BaseURL != "" {
		return b.cfg.BaseURL
	}
	return fallback
}
