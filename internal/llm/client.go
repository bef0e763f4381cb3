package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/retry"
)

// Complete drains a Generate stream into a single completion.
func Complete(ctx context.Context, g Generator, req Request) (Completion, error) {
	var (
		b   strings.Builder
		out Completion
	)
	start := time.Now()
	err := g.Generate(ctx, req, func(d Delta) error {
		b.WriteString(d.Content)
		if d.PromptTokens > 0 {
			out.PromptTokens = d.PromptTokens
		}
		if d.CompletionTokens > 0 {
			out.CompletionTokens = d.CompletionTokens
		}
		return nil
	})
	if err != nil {
		return Completion{}, err
	}
	out.Text = b.String()
	out.Latency = time.Since(start)
	return out, nil
}

// Client runs generation requests with configured defaults under the retry policy.
type Client struct {
	gen         Generator
	policy      retry.Policy
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewClient(gen Generator, cfg config.LLMConfig, policy retry.Policy, logger *slog.Logger) *Client {
	return &Client{
		gen:         gen,
		policy:      policy,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With(slog.String("component", "llm-client")),
	}
}

// Ask sends a prompt and returns the generated text. Transient failures, empty
// replies included, are retried.
func (c *Client) Ask(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}
	op := "generate " + req.Task
	completion, err := retry.Do(ctx, c.policy, c.logger, op, func(ctx context.Context) (Completion, error) {
		out, err := Complete(ctx, c.gen, req)
		if err == nil && strings.TrimSpace(out.Text) == "" {
			err = failure.New(failure.KindTransientService, op, errors.New("empty response"))
		}
		return out, err
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("generation complete",
		slog.String("task", req.Task),
		slog.Int("completion_tokens", completion.CompletionTokens),
		slog.Duration("latency", completion.Latency))
	return completion.Text, nil
}
