package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/learnpod/internal/failure"
)

const (
	ollamaDefaultModel = "llama3.2:latest"
	ollamaChatPath     = "/api/chat"
)

// ollamaGenerator streams from a local Ollama server through the chat API so
// the system prompt travels as its own message.
type ollamaGenerator struct {
	endpoint string
	model    string
	client   *http.Client
}

func NewOllamaGenerator(endpoint, model string, timeout time.Duration) Generator {
	if model == "" {
		model = ollamaDefaultModel
	}
	return &ollamaGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatChunk struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	Error           string        `json:"error,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
}

func (g *ollamaGenerator) messages(req Request) []ollamaMessage {
	msgs := make([]ollamaMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.System})
	}
	return append(msgs, ollamaMessage{Role: "user", Content: req.Prompt})
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Delta) error) error {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    g.model,
		Messages: g.messages(req),
		Stream:   true,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+ollamaChatPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return failure.Classify("ollama chat", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &failure.StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(detail))}
	}

	start := time.Now()
	var prompt, completion int
	lines := bufio.NewScanner(resp.Body)
	lines.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lines.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := bytes.TrimSpace(lines.Bytes())
		if len(raw) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return fmt.Errorf("decode chat chunk: %w", err)
		}
		if chunk.Error != "" {
			return &failure.StatusError{Code: http.StatusBadGateway, Status: "stream error", Body: chunk.Error}
		}
		if chunk.EvalCount > 0 {
			completion = chunk.EvalCount
		}
		if chunk.PromptEvalCount > 0 {
			prompt = chunk.PromptEvalCount
		}
		if err := consumer(Delta{
			RunID:            req.RunID,
			Content:          chunk.Message.Content,
			Partial:          !chunk.Done,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			Latency:          time.Since(start),
		}); err != nil {
			return err
		}
		if chunk.Done {
			if chunk.DoneReason == "length" {
				return failure.Newf(failure.KindService, "ollama chat", "reply truncated at %d tokens", completion)
			}
			return nil
		}
	}
	if err := lines.Err(); err != nil {
		return failure.Classify("ollama chat", err)
	}
	return failure.Newf(failure.KindTransientService, "ollama chat", "stream ended before completion")
}
