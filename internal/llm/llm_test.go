package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/retry"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxTries: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestMockDialogueHonoursHints(t *testing.T) {
	out, err := Complete(context.Background(), NewMockGenerator(), Request{
		Task:  TaskScriptChunk,
		Hints: map[string]string{HintSpeakers: "Sakura,Taro", HintWords: "200", HintTopic: "enzymes"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.Text), "\n")
	if !strings.HasPrefix(lines[0], "Sakura: ") || !strings.HasPrefix(lines[1], "Taro: ") {
		t.Fatalf("expected alternating speakers, got %q", lines[:2])
	}
	words := 0
	for _, l := range lines {
		_, utterance, _ := strings.Cut(l, ": ")
		words += len(strings.Fields(utterance))
	}
	if words < 200 || words > 220 {
		t.Fatalf("expected about 200 words, got %d", words)
	}
}

func TestOllamaStreamsChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama3.2:latest" || !req.Stream || len(req.Messages) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Messages[0].Role != "system" || req.Messages[0].Content != "be brief" || req.Messages[1].Content != "hi" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Sakura: hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":true,"done_reason":"stop","eval_count":7,"prompt_eval_count":3}`)
	}))
	defer srv.Close()

	out, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, "", time.Second), Request{Prompt: "hi", System: "be brief"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "Sakura: hello" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.CompletionTokens != 7 || out.PromptTokens != 3 {
		t.Fatalf("unexpected token counts %+v", out)
	}
}

func TestOllamaTruncatedOrCutStreams(t *testing.T) {
	replies := []struct {
		name      string
		body      string
		retryable bool
	}{
		{"length", `{"message":{"content":"Sakura: hi"},"done":true,"done_reason":"length","eval_count":9}`, false},
		{"cut", `{"message":{"content":"Sakura: hi"},"done":false}`, true},
	}
	for _, tc := range replies {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintln(w, tc.body)
			}))
			defer srv.Close()
			_, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, "m", time.Second), Request{Prompt: "hi"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if failure.Retryable(err) != tc.retryable {
				t.Fatalf("retryable = %v, want %v (%v)", failure.Retryable(err), tc.retryable, err)
			}
		})
	}
}

func TestOllamaStatusIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, "m", time.Second), Request{Prompt: "hi"})
	var status *failure.StatusError
	if !errors.As(err, &status) || status.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status error, got %v", err)
	}
	if !failure.Retryable(failure.Classify("generate", err)) {
		t.Fatalf("expected 429 to be retryable")
	}
}

type flakyGenerator struct {
	failures int
	calls    int
	reply    string
}

func (f *flakyGenerator) Generate(ctx context.Context, req Request, consumer func(Delta) error) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("503 UNAVAILABLE")
	}
	return consumer(Delta{Content: f.reply})
}

func TestClientRetriesTransientFailures(t *testing.T) {
	gen := &flakyGenerator{failures: 2, reply: "done"}
	client := NewClient(gen, config.LLMConfig{MaxTokens: 10}, fastPolicy(), newLogger())
	text, err := client.Ask(context.Background(), Request{Task: TaskQA, Prompt: "p"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if text != "done" || gen.calls != 3 {
		t.Fatalf("expected success on third call, got %q after %d", text, gen.calls)
	}
}

func TestClientEmptyReplyIsTransient(t *testing.T) {
	gen := &flakyGenerator{reply: "   "}
	client := NewClient(gen, config.LLMConfig{}, fastPolicy(), newLogger())
	_, err := client.Ask(context.Background(), Request{Task: TaskExplain})
	if !failure.Retryable(err) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if gen.calls != 3 {
		t.Fatalf("expected empty reply to be retried, got %d calls", gen.calls)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(context.Background(), config.LLMConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(context.Background(), config.LLMConfig{Mode: "exec", Command: ""}); err == nil {
		t.Fatalf("expected empty exec command to fail")
	}
	if _, err := New(context.Background(), config.LLMConfig{Mode: "telepathy"}); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
}

func TestParseExecReply(t *testing.T) {
	plain, err := parseExecReply([]byte("  Sakura: hello\n"))
	if err != nil || plain.Content != "Sakura: hello" {
		t.Fatalf("expected bare text reply, got %+v, %v", plain, err)
	}
	structured, err := parseExecReply([]byte(`{"content":"Taro: hi","completion_tokens":4}`))
	if err != nil || structured.Content != "Taro: hi" || structured.CompletionTokens != 4 {
		t.Fatalf("unexpected structured reply %+v, %v", structured, err)
	}
	if _, err := parseExecReply([]byte(`{"error":"model loading","retry":true}`)); !failure.Retryable(err) {
		t.Fatalf("expected retryable reported error, got %v", err)
	}
	if _, err := parseExecReply([]byte(`{"error":"bad prompt"}`)); err == nil || failure.Retryable(err) {
		t.Fatalf("expected permanent reported error, got %v", err)
	}
}
