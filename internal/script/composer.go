// Package script drives the generation service from document chunks to a final
// dialogue script within a target word range.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/loqalabs/learnpod/internal/dialogue"
	"github.com/loqalabs/learnpod/internal/document"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/llm"
)

// Asker is the generation call the composer needs. *llm.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, req llm.Request) (string, error)
}

// Target is the accepted word range, bounds included.
type Target struct {
	Min int
	Max int
}

func (t Target) Contains(words int) bool { return words >= t.Min && words <= t.Max }

func (t Target) Midpoint() int { return (t.Min + t.Max) / 2 }

type Options struct {
	Roster         dialogue.Roster
	Target         Target
	MaxRefinements int
	GrammarRetries int
	SummaryTurns   int
	Language       string
	Audience       string
}

// Draft is the composer's output. Speakers lists the roster labels that talk, in
// roster order.
type Draft struct {
	Text                string
	Turns               []dialogue.Turn
	WordCount           int
	Speakers            []string
	Attempts            int
	WordCountOutOfRange bool
}

type Composer struct {
	asker  Asker
	opts   Options
	logger *slog.Logger
}

func NewComposer(asker Asker, opts Options, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		asker:  asker,
		opts:   opts,
		logger: logger.With(slog.String("component", "script")),
	}
}

type chunkInput struct {
	index int
	total int
	title string
	text  string
	words int
}

// Compose writes one dialogue per chunk in order, then refines the joined draft
// until it falls inside the target range or the refinement budget runs out.
func (c *Composer) Compose(ctx context.Context, runID, title string, chunks []document.Chunk) (Draft, error) {
	if c.opts.Roster.Len() == 0 {
		return Draft{}, failure.Newf(failure.KindConfiguration, "compose script", "speaker roster is empty")
	}
	if c.opts.Target.Min <= 0 || c.opts.Target.Min > c.opts.Target.Max {
		return Draft{}, failure.Newf(failure.KindConfiguration, "compose script", "invalid word target %d-%d", c.opts.Target.Min, c.opts.Target.Max)
	}
	if len(chunks) == 0 {
		return Draft{}, failure.Newf(failure.KindInvalidDocument, "compose script", "no chunks to compose")
	}

	shares := wordShares(chunks, c.opts.Target.Midpoint())
	var (
		turns  []dialogue.Turn
		topics []string
	)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return Draft{}, err
		}
		in := chunkInput{index: i, total: len(chunks), title: title, text: chunk.Text, words: shares[i]}
		got, err := c.composeChunk(ctx, runID, in, chunk.Heading, runningSummary(turns, topics, c.opts.SummaryTurns))
		if err != nil {
			return Draft{}, err
		}
		turns = append(turns, got...)
		if chunk.Heading != "" {
			topics = append(topics, chunk.Heading)
		}
		c.logger.Debug("chunk composed",
			slog.String("run_id", runID),
			slog.Int("chunk", i),
			slog.Int("turns", len(got)))
	}

	draft := c.newDraft(renumber(turns))
	draft, err := c.refine(ctx, runID, title, draft)
	if err != nil {
		return Draft{}, err
	}
	if missing := c.missing(draft); len(missing) > 0 {
		return Draft{}, failure.Newf(failure.KindGrammarViolation, "compose script",
			"speakers %s never talk after %d refinements", strings.Join(missing, ", "), draft.Attempts)
	}
	if !c.opts.Target.Contains(draft.WordCount) {
		draft.WordCountOutOfRange = true
		c.logger.Warn("script word count out of range",
			slog.String("run_id", runID),
			slog.Int("words", draft.WordCount),
			slog.Int("min", c.opts.Target.Min),
			slog.Int("max", c.opts.Target.Max),
			slog.Int("attempts", draft.Attempts))
	}
	c.logger.Info("script final",
		slog.String("run_id", runID),
		slog.Int("words", draft.WordCount),
		slog.Int("turns", len(draft.Turns)),
		slog.Int("attempts", draft.Attempts))
	return draft, nil
}

// composeChunk asks for one chunk's dialogue, re-prompting while the reply has no
// valid turn at all.
func (c *Composer) composeChunk(ctx context.Context, runID string, in chunkInput, heading, summary string) ([]dialogue.Turn, error) {
	prompt := c.chunkPrompt(in, summary)
	req := llm.Request{
		RunID:  runID,
		Task:   llm.TaskScriptChunk,
		System: c.systemPrompt(),
		Prompt: prompt,
		Hints:  c.hints(in.words, firstNonEmpty(heading, in.title)),
	}
	var last dialogue.Result
	for attempt := 0; attempt <= c.opts.GrammarRetries; attempt++ {
		reply, err := c.asker.Ask(ctx, req)
		if err != nil {
			return nil, err
		}
		last = dialogue.Check(stripFences(reply), c.opts.Roster)
		if len(last.Turns) > 0 {
			if len(last.Rejected) > 0 {
				c.logger.Debug("dropped non-dialogue lines",
					slog.String("run_id", runID),
					slog.Int("chunk", in.index),
					slog.Int("rejected", len(last.Rejected)))
			}
			return last.Turns, nil
		}
		c.logger.Warn("chunk reply has no valid turns",
			slog.String("run_id", runID),
			slog.Int("chunk", in.index),
			slog.Int("attempt", attempt+1),
			slog.Int("rejected", len(last.Rejected)))
		req.Prompt = retryPrompt(prompt, last)
	}
	detail := "empty reply"
	if len(last.Rejected) > 0 {
		r := last.Rejected[0]
		detail = fmt.Sprintf("line %d %s: %q", r.Line, r.Reason, strings.TrimSpace(r.Text))
	}
	return nil, failure.Newf(failure.KindGrammarViolation, fmt.Sprintf("compose chunk %d", in.index),
		"no valid dialogue after %d attempts (%s)", c.opts.GrammarRetries+1, detail)
}

// refine runs the bounded repair/refinement loop. Missing speakers are repaired
// first; then the draft is expanded or condensed toward the target midpoint. A
// reply without valid turns is discarded but still uses up an attempt.
func (c *Composer) refine(ctx context.Context, runID, title string, draft Draft) (Draft, error) {
	for attempt := 1; attempt <= c.opts.MaxRefinements; attempt++ {
		missing := c.missing(draft)
		if len(missing) == 0 && c.opts.Target.Contains(draft.WordCount) {
			return draft, nil
		}
		if err := ctx.Err(); err != nil {
			return Draft{}, err
		}

		req := llm.Request{
			RunID:  runID,
			System: c.systemPrompt(),
			Hints:  c.hints(c.opts.Target.Midpoint(), title),
		}
		if len(missing) > 0 {
			req.Task = llm.TaskScriptRepair
			req.Prompt = repairPrompt(draft.Text, missing)
		} else {
			delta := c.opts.Target.Midpoint() - draft.WordCount
			req.Task = llm.TaskScriptRefine
			req.Prompt = refinePrompt(draft.Text, draft.WordCount, delta)
			c.logger.Info("refining script",
				slog.String("run_id", runID),
				slog.Int("attempt", attempt),
				slog.Int("words", draft.WordCount),
				slog.Int("delta", delta))
		}

		reply, err := c.asker.Ask(ctx, req)
		if err != nil {
			return Draft{}, err
		}
		draft.Attempts = attempt
		res := dialogue.Check(stripFences(reply), c.opts.Roster)
		if len(res.Turns) == 0 {
			c.logger.Warn("discarding refinement without valid turns",
				slog.String("run_id", runID),
				slog.Int("attempt", attempt),
				slog.Int("rejected", len(res.Rejected)))
			continue
		}
		next := c.newDraft(res.Turns)
		next.Attempts = attempt
		draft = next
	}
	return draft, nil
}

func (c *Composer) newDraft(turns []dialogue.Turn) Draft {
	d := Draft{Turns: turns, Text: dialogue.Render(turns)}
	spoken := make(map[string]bool)
	for _, t := range turns {
		d.WordCount += document.CountWords(t.Utterance)
		spoken[t.Speaker] = true
	}
	for _, label := range c.opts.Roster.Labels() {
		if spoken[label] {
			d.Speakers = append(d.Speakers, label)
		}
	}
	return d
}

func (c *Composer) missing(d Draft) []string {
	spoken := make(map[string]bool, len(d.Speakers))
	for _, s := range d.Speakers {
		spoken[s] = true
	}
	var out []string
	for _, label := range c.opts.Roster.Labels() {
		if !spoken[label] {
			out = append(out, label)
		}
	}
	return out
}

func (c *Composer) hints(words int, topic string) map[string]string {
	return map[string]string{
		llm.HintSpeakers: strings.Join(c.opts.Roster.Labels(), ","),
		llm.HintWords:    strconv.Itoa(words),
		llm.HintTopic:    topic,
	}
}

// wordShares splits the target across chunks in proportion to their size.
func wordShares(chunks []document.Chunk, target int) []int {
	total := 0
	for _, ch := range chunks {
		total += ch.ApproxTokens
	}
	shares := make([]int, len(chunks))
	for i, ch := range chunks {
		if total == 0 {
			shares[i] = target / len(chunks)
		} else {
			shares[i] = target * ch.ApproxTokens / total
		}
		if shares[i] < 1 {
			shares[i] = 1
		}
	}
	return shares
}

func renumber(turns []dialogue.Turn) []dialogue.Turn {
	for i := range turns {
		turns[i].Seq = i + 1
	}
	return turns
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
