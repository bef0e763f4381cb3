package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
)

// New builds the synthesizer selected by cfg.Mode.
func New(ctx context.Context, cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "http":
		return NewHTTPSynth(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case "gemini":
		return NewGeminiSynth(ctx, cfg.APIKey, cfg.Model, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
