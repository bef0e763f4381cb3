package llm

import (
	"context"
	"time"
)

// Request describes one generation call.
type Request struct {
	RunID       string
	Task        string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	// Hints carry structured parameters of the task (target words, speakers, counts).
	// Remote backends ignore them; the mock backend shapes its output from them.
	Hints map[string]string
}

// Delta is a piece of streamed model output.
type Delta struct {
	RunID            string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Delta) error) error
}

// Completion is the accumulated result of one Generate call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}
