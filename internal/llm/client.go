// Package llm wraps the text-generation and embedding capabilities behind
// small, explicitly constructed clients.
//
// One Client and one Embedder are constructed at process start (see
// internal/app) and passed to each component. Nothing in this package holds
// global state; components that only need completions declare their own
// narrow Completer interface and accept *Client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// ErrEmptyCompletion indicates the model returned no usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// Config contains the required parameters for Client.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Logger    *slog.Logger

	// RateLimiter throttles completion calls (nil = default 10 req/s, burst 30).
	RateLimiter *rate.Limiter
}

// Client issues text-completion calls through Genkit.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	g         *genkit.Genkit
	modelName string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient creates a completion client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	return &Client{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		limiter:   limiter,
		logger:    cfg.Logger,
	}, nil
}

// Complete generates text for the given system and user prompts and returns
// the model's trimmed text output. An empty result is an error
// (ErrEmptyCompletion) so callers can distinguish degraded model behavior
// from an empty-but-valid answer.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	opts := []ai.GenerateOption{
		ai.WithPrompt(userPrompt),
	}
	if systemPrompt != "" {
		opts = append(opts, ai.WithSystem(systemPrompt))
	}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("completion finished",
		"prompt_length", len(userPrompt),
		"response_length", len(text),
	)
	return text, nil
}
