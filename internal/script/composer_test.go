package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/dialogue"
	"github.com/loqalabs/learnpod/internal/document"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/llm"
	"github.com/loqalabs/learnpod/internal/retry"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type askFunc func(req llm.Request) (string, error)

type recordingAsker struct {
	fn       askFunc
	requests []llm.Request
}

func (r *recordingAsker) Ask(ctx context.Context, req llm.Request) (string, error) {
	r.requests = append(r.requests, req)
	return r.fn(req)
}

func roster() dialogue.Roster {
	return dialogue.NewRoster(
		dialogue.Speaker{Label: "Sakura", Aliases: dialogue.SlotAliases("S1", 1)},
		dialogue.Speaker{Label: "Taro", Aliases: dialogue.SlotAliases("S2", 2)},
	)
}

func options(min, max int) Options {
	return Options{
		Roster:         roster(),
		Target:         Target{Min: min, Max: max},
		MaxRefinements: 3,
		GrammarRetries: 2,
		SummaryTurns:   4,
		Language:       "en",
		Audience:       "students",
	}
}

// lines renders n alternating turns of the given word count.
func lines(n, words int, speakers ...string) string {
	if len(speakers) == 0 {
		speakers = []string{"Sakura", "Taro"}
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s: %s\n", speakers[i%len(speakers)], strings.TrimSpace(strings.Repeat("word ", words)))
	}
	return b.String()
}

func oneChunk() []document.Chunk {
	return []document.Chunk{{Index: 0, Text: "# Enzymes\n\nEnzymes speed up reactions.", ApproxTokens: 10, Heading: "Enzymes"}}
}

func TestComposeThreeSectionScenarioWithMockBackend(t *testing.T) {
	client := llm.NewClient(llm.NewMockGenerator(), config.Default().LLM, retry.Policy{MaxTries: 1}, newLogger())
	composer := NewComposer(client, options(2000, 3000), newLogger())
	chunks := []document.Chunk{
		{Index: 0, Text: "# Enzymes\n\n...", ApproxTokens: 1000, Heading: "Enzymes"},
		{Index: 1, Text: "# Genetics\n\n...", ApproxTokens: 1000, Heading: "Genetics"},
		{Index: 2, Text: "# Evolution\n\n...", ApproxTokens: 1000, Heading: "Evolution"},
	}

	draft, err := composer.Compose(context.Background(), "run-1", "Biology", chunks)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if draft.WordCountOutOfRange || draft.WordCount < 2000 || draft.WordCount > 3000 {
		t.Fatalf("expected in-range draft, got %d words", draft.WordCount)
	}
	if draft.Attempts > 3 {
		t.Fatalf("expected at most 3 refinements, got %d", draft.Attempts)
	}
	if len(draft.Turns) < 20 {
		t.Fatalf("expected at least 20 turns, got %d", len(draft.Turns))
	}
	for i, turn := range draft.Turns {
		if turn.Seq != i+1 {
			t.Fatalf("turn %d has seq %d", i, turn.Seq)
		}
		if i > 0 && turn.Speaker == draft.Turns[i-1].Speaker {
			t.Fatalf("turns %d and %d share speaker %s", i, i+1, turn.Speaker)
		}
	}
	if len(draft.Speakers) != 2 {
		t.Fatalf("expected both speakers, got %v", draft.Speakers)
	}
	res := dialogue.Check(draft.Text, roster())
	if len(res.Rejected) != 0 || len(res.Turns) != len(draft.Turns) {
		t.Fatalf("final text does not satisfy the grammar: %+v", res.Rejected)
	}
}

func TestComposeRunningSummaryCarriesContext(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) { return lines(6, 10), nil }}
	composer := NewComposer(asker, options(100, 140), newLogger())
	chunks := []document.Chunk{
		{Index: 0, Text: "a", ApproxTokens: 5, Heading: "Enzymes"},
		{Index: 1, Text: "b", ApproxTokens: 5, Heading: "Genetics"},
	}
	if _, err := composer.Compose(context.Background(), "run-1", "Biology", chunks); err != nil {
		t.Fatalf("compose: %v", err)
	}
	second := asker.requests[1].Prompt
	if !strings.Contains(second, "Topics covered: Enzymes.") {
		t.Fatalf("expected covered topics in prompt:\n%s", second)
	}
	if strings.Count(second, "Sakura: word") != 2 || strings.Count(second, "Taro: word") != 2 {
		t.Fatalf("expected the last 4 turns quoted:\n%s", second)
	}
	if asker.requests[0].Hints[llm.HintWords] != "60" {
		t.Fatalf("expected half of the midpoint per chunk, got %s", asker.requests[0].Hints[llm.HintWords])
	}
}

func TestComposeRefinesTowardTarget(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) {
		if req.Task == llm.TaskScriptRefine {
			return lines(25, 10), nil
		}
		return lines(4, 10), nil
	}}
	composer := NewComposer(asker, options(200, 300), newLogger())

	draft, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if draft.WordCount != 250 || draft.Attempts != 1 || draft.WordCountOutOfRange {
		t.Fatalf("unexpected draft: %d words, %d attempts", draft.WordCount, draft.Attempts)
	}
	last := asker.requests[len(asker.requests)-1]
	if last.Task != llm.TaskScriptRefine || !strings.Contains(last.Prompt, "Expand it by about 210 words") {
		t.Fatalf("unexpected refinement prompt:\n%s", last.Prompt)
	}
}

func TestComposeCondensesLongDraft(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) {
		if req.Task == llm.TaskScriptRefine {
			return lines(24, 10), nil
		}
		return lines(50, 10), nil
	}}
	composer := NewComposer(asker, options(200, 300), newLogger())

	draft, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if draft.WordCount != 240 {
		t.Fatalf("expected 240 words, got %d", draft.WordCount)
	}
	if !strings.Contains(asker.requests[1].Prompt, "Condense it by about 250 words") {
		t.Fatalf("unexpected refinement prompt:\n%s", asker.requests[1].Prompt)
	}
}

func TestComposeAcceptsOutOfRangeAfterRefinements(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) { return lines(4, 10), nil }}
	composer := NewComposer(asker, options(200, 300), newLogger())

	draft, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !draft.WordCountOutOfRange || draft.Attempts != 3 {
		t.Fatalf("expected flagged draft after 3 attempts, got %+v", draft)
	}
	if len(asker.requests) != 4 {
		t.Fatalf("expected 1 chunk call and 3 refinements, got %d", len(asker.requests))
	}
}

func TestComposeDiscardsUngrammaticalRefinement(t *testing.T) {
	refinements := 0
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) {
		if req.Task != llm.TaskScriptRefine {
			return lines(4, 10), nil
		}
		refinements++
		if refinements == 1 {
			return "Here is the improved script!\n\n## Part one\nIt was great.", nil
		}
		return lines(22, 10), nil
	}}
	composer := NewComposer(asker, options(200, 300), newLogger())

	draft, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if draft.WordCount != 220 || draft.Attempts != 2 {
		t.Fatalf("expected second refinement to win, got %d words after %d attempts", draft.WordCount, draft.Attempts)
	}
}

func TestComposeRetriesChunkWithoutTurns(t *testing.T) {
	calls := 0
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) {
		calls++
		if calls == 1 {
			return "# Episode\nNarrator: welcome", nil
		}
		return "```\n" + lines(22, 10) + "```", nil
	}}
	composer := NewComposer(asker, options(200, 300), newLogger())

	draft, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if draft.WordCount != 220 {
		t.Fatalf("expected 220 words, got %d", draft.WordCount)
	}
	retried := asker.requests[1].Prompt
	if !strings.Contains(retried, "unknown speaker label") || !strings.Contains(retried, "Narrator: welcome") {
		t.Fatalf("expected rejected lines quoted in retry prompt:\n%s", retried)
	}
}

func TestComposeGrammarViolationWhenRetriesExhausted(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) { return "Just some prose.\nMore prose.", nil }}
	composer := NewComposer(asker, options(200, 300), newLogger())

	_, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if !errors.Is(err, failure.ErrGrammarViolation) {
		t.Fatalf("expected grammar violation, got %v", err)
	}
	if failure.Retryable(err) {
		t.Fatalf("grammar violation must not be retryable")
	}
	if len(asker.requests) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(asker.requests))
	}
}

func TestComposeRepairsMissingSpeaker(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) {
		if req.Task == llm.TaskScriptRepair {
			return lines(25, 10), nil
		}
		return lines(25, 10, "S1"), nil
	}}
	composer := NewComposer(asker, options(200, 300), newLogger())

	draft, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if draft.Attempts != 1 || len(draft.Speakers) != 2 {
		t.Fatalf("expected one repair, got %+v", draft)
	}
	if !strings.Contains(asker.requests[1].Prompt, "never talk: Taro") {
		t.Fatalf("unexpected repair prompt:\n%s", asker.requests[1].Prompt)
	}
	if !strings.HasPrefix(draft.Text, "Sakura: ") {
		t.Fatalf("expected canonical labels, got %q", draft.Text[:20])
	}
}

func TestComposeFailsWhenSpeakerNeverTalks(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) { return lines(25, 10, "Sakura"), nil }}
	composer := NewComposer(asker, options(200, 300), newLogger())

	_, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if !errors.Is(err, failure.ErrGrammarViolation) {
		t.Fatalf("expected grammar violation, got %v", err)
	}
}

func TestComposeSurfacesServiceErrors(t *testing.T) {
	boom := failure.New(failure.KindTransientService, "generate", errors.New("quota exhausted"))
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) { return "", boom }}
	composer := NewComposer(asker, options(200, 300), newLogger())

	_, err := composer.Compose(context.Background(), "run-1", "Enzymes", oneChunk())
	if !errors.Is(err, failure.ErrTransientService) {
		t.Fatalf("expected transient service error, got %v", err)
	}
}

func TestComposeHonoursCancellation(t *testing.T) {
	asker := &recordingAsker{fn: func(req llm.Request) (string, error) { return lines(4, 10), nil }}
	composer := NewComposer(asker, options(200, 300), newLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if _, err := composer.Compose(ctx, "run-1", "Enzymes", oneChunk()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if len(asker.requests) != 0 {
		t.Fatalf("expected no calls after cancellation")
	}
}

func TestComposeRejectsBadOptions(t *testing.T) {
	composer := NewComposer(&recordingAsker{}, options(300, 200), newLogger())
	if _, err := composer.Compose(context.Background(), "run-1", "x", oneChunk()); !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
