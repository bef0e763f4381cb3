package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
)

// New builds the generator selected by cfg.Mode.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
