package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

type geminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini API backed generator.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (Generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGenerator{client: client, model: model}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Delta) error) error {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return errors.New("empty response from Gemini")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	delta := Delta{
		RunID:   req.RunID,
		Content: text.String(),
		Latency: time.Since(start),
	}
	if usage := result.UsageMetadata; usage != nil {
		delta.PromptTokens = int(usage.PromptTokenCount)
		delta.CompletionTokens = int(usage.CandidatesTokenCount)
	}
	return consumer(delta)
}
