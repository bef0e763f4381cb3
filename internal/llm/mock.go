package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Task names understood by the mock generator.
const (
	TaskScriptChunk  = "script.chunk"
	TaskScriptRefine = "script.refine"
	TaskScriptRepair = "script.repair"
	TaskQA           = "qa"
	TaskExplain      = "explain"
)

// Hint keys.
const (
	HintSpeakers = "speakers"
	HintWords    = "words"
	HintTopic    = "topic"
	HintCount    = "count"
)

type mockGenerator struct{}

// NewMockGenerator returns a deterministic offline backend that produces
// well-formed output for every pipeline task.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Delta) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	start := time.Now()
	var content string
	switch req.Task {
	case TaskScriptChunk, TaskScriptRefine, TaskScriptRepair:
		content = mockDialogue(req.Hints)
	case TaskQA:
		content = mockQA(req.Hints)
	case TaskExplain:
		content = mockExplanation(req.Hints)
	default:
		content = "[mock completion for " + strings.TrimSpace(req.Prompt) + "]"
	}
	return consumer(Delta{
		RunID:            req.RunID,
		Content:          content,
		Partial:          false,
		CompletionTokens: len(strings.Fields(content)),
		Latency:          time.Since(start),
	})
}

func hintInt(hints map[string]string, key string, fallback int) int {
	if v, err := strconv.Atoi(hints[key]); err == nil && v > 0 {
		return v
	}
	return fallback
}

func hintSpeakers(hints map[string]string) []string {
	var out []string
	for _, s := range strings.Split(hints[HintSpeakers], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{"Host", "Guest"}
	}
	return out
}

func mockDialogue(hints map[string]string) string {
	speakers := hintSpeakers(hints)
	target := hintInt(hints, HintWords, 120)
	topic := strings.TrimSpace(hints[HintTopic])
	if topic == "" {
		topic = "this topic"
	}
	var b strings.Builder
	words := 0
	for n := 1; words < target || n <= len(speakers); n++ {
		line := fmt.Sprintf("Point %d about %s deserves a clear example so listeners remember it.", n, topic)
		fmt.Fprintf(&b, "%s: %s\n", speakers[(n-1)%len(speakers)], line)
		words += len(strings.Fields(line))
	}
	return b.String()
}

func mockQA(hints map[string]string) string {
	count := hintInt(hints, HintCount, 10)
	topic := strings.TrimSpace(hints[HintTopic])
	if topic == "" {
		topic = "the episode"
	}
	difficulties := []string{"easy", "easy", "medium", "easy", "medium", "easy", "medium", "easy", "medium", "hard"}
	var b strings.Builder
	b.WriteString("items:\n")
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "  - question: \"What is key idea %d of %s?\"\n", i+1, topic)
		fmt.Fprintf(&b, "    answer: \"Key idea %d is explained in the dialogue.\"\n", i+1)
		fmt.Fprintf(&b, "    difficulty: %s\n", difficulties[i%len(difficulties)])
		fmt.Fprintf(&b, "    explanation: \"Revisit the part of the episode covering idea %d.\"\n", i+1)
	}
	b.WriteString("flashcards:\n")
	for i := 0; i < count/2; i++ {
		fmt.Fprintf(&b, "  - id: kw%02d\n    front: \"Key idea %d\"\n    back: \"Explained in the dialogue.\"\n    category: keyword\n", i+1, i+1)
	}
	return b.String()
}

func mockExplanation(hints map[string]string) string {
	topic := strings.TrimSpace(hints[HintTopic])
	if topic == "" {
		topic = "Overview"
	}
	return fmt.Sprintf("# %s\n\n> Quoted from the script.\n\n#### Details\nA closer look at %s.\n\n\n\n#### Background\nWhere the idea comes from.\n\n#### In practice\nHow to apply it.\n", topic, topic)
}
