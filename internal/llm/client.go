package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/pkg/circuitbreaker"
	"github.com/deepresearch/backend/pkg/config"
	"github.com/deepresearch/backend/pkg/logger"
	"github.com/deepresearch/backend/pkg/retry"
)

// Generator is the text-generation capability every analysis step depends
// on. Implementations must honour ctx and return an error rather than an
// empty string when nothing was produced.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

var ErrEmptyCompletion = errors.New("backend returned an empty completion")

// backend is one concrete model API.
type backend interface {
	name() string
	complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type Client struct {
	backend     backend
	model       string
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// NewClient builds a Client for the configured provider: "openai" (any
// OpenAI-compatible endpoint via BaseURL) or "gemini".
func NewClient(cfg config.LLMConfig) (*Client, error) {
	var b backend
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		b = newOpenAIBackend(cfg)
	case "gemini":
		gb, err := newGeminiBackend(cfg)
		if err != nil {
			return nil, err
		}
		b = gb
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	c := newClient(b, cfg)
	logger.Info("LLM client initialized",
		zap.String("provider", b.name()),
		zap.String("model", cfg.Model),
		zap.String("base_url", cfg.BaseURL),
	)
	return c, nil
}

func newClient(b backend, cfg config.LLMConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	cb := circuitbreaker.NewCircuitBreaker("llm-"+b.name(), circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      isRetryable,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		backend:     b,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 || maxTokens > c.maxTokens {
		maxTokens = c.maxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var text string
	err := c.cb.Execute(ctx, func() error {
		var err error
		text, err = retry.DoWithResult(ctx, c.retryConfig, func() (string, error) {
			out, err := c.backend.complete(ctx, prompt, maxTokens)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "", ErrEmptyCompletion
			}
			return out, nil
		})
		return err
	})

	name := c.backend.name()
	metrics.LLMDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues(name, "error").Inc()
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	metrics.LLMRequests.WithLabelValues(name, "ok").Inc()

	logger.Debug("LLM completion generated",
		zap.String("backend", name),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("completion_chars", len(text)),
	)
	return text, nil
}

// isRetryable retries rate limiting, server errors and transport failures.
// Other client errors will not improve on retry.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == 0 || code == 429 || code >= 500
}
