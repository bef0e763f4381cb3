// Package study derives review material (questions, flashcards and an
// explanation) from a final script.
package study

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/llm"
	"gopkg.in/yaml.v3"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

type QAItem struct {
	Question    string     `yaml:"question"`
	Answer      string     `yaml:"answer"`
	Difficulty  Difficulty `yaml:"difficulty"`
	Explanation string     `yaml:"explanation,omitempty"`
}

type Flashcard struct {
	ID       string `yaml:"id"`
	Front    string `yaml:"front"`
	Back     string `yaml:"back"`
	Category string `yaml:"category,omitempty"`
}

// Set is the review material of one run.
type Set struct {
	Items      []QAItem    `yaml:"items"`
	Flashcards []Flashcard `yaml:"flashcards"`
}

// Asker is the generation call the deriver needs. *llm.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, req llm.Request) (string, error)
}

type Options struct {
	Count          int
	GrammarRetries int
	Language       string
	Topic          string
}

type Deriver struct {
	asker  Asker
	opts   Options
	logger *slog.Logger
}

func NewDeriver(asker Asker, opts Options, logger *slog.Logger) *Deriver {
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deriver{asker: asker, opts: opts, logger: logger.With(slog.String("component", "study"))}
}

// Derive asks for a YAML question set built from script. Replies that do not
// parse or carry fewer than half of Count questions are re-prompted; extra
// questions are dropped.
func (d *Deriver) Derive(ctx context.Context, runID, script string) (Set, error) {
	if strings.TrimSpace(script) == "" {
		return Set{}, failure.Newf(failure.KindEmptyScript, "derive questions", "script is empty")
	}
	prompt := d.prompt(script)
	req := llm.Request{
		RunID:  runID,
		Task:   llm.TaskQA,
		Prompt: prompt,
		Hints: map[string]string{
			llm.HintCount: strconv.Itoa(d.opts.Count),
			llm.HintTopic: d.opts.Topic,
		},
	}
	var lastErr error
	for attempt := 0; attempt <= d.opts.GrammarRetries; attempt++ {
		reply, err := d.asker.Ask(ctx, req)
		if err != nil {
			return Set{}, err
		}
		set, err := parseSet(reply, d.opts.Count)
		if err == nil {
			set = normalize(set)
			d.logger.Info("questions derived",
				slog.String("run_id", runID),
				slog.Int("items", len(set.Items)),
				slog.Int("flashcards", len(set.Flashcards)))
			return set, nil
		}
		lastErr = err
		d.logger.Warn("question reply rejected",
			slog.String("run_id", runID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
		req.Prompt = fmt.Sprintf("%s\nYour previous answer could not be used: %v. Reply with the YAML document only.\n", prompt, err)
	}
	return Set{}, failure.New(failure.KindGrammarViolation, "derive questions", lastErr)
}

func (d *Deriver) prompt(script string) string {
	easy, medium := d.opts.Count/2, d.opts.Count*2/5
	hard := d.opts.Count - easy - medium
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d review questions in language %q about the podcast script below.\n", d.opts.Count, d.opts.Language)
	fmt.Fprintf(&b, "Use %d easy keyword questions, %d medium why-questions and %d hard open questions.\n", easy, medium, hard)
	b.WriteString("Also write flashcards for the key terms.\n")
	b.WriteString("Reply with YAML only, shaped as:\n")
	b.WriteString("items:\n  - question: ...\n    answer: ...\n    difficulty: easy|medium|hard\n    explanation: ...\n")
	b.WriteString("flashcards:\n  - id: ...\n    front: ...\n    back: ...\n    category: ...\n\n")
	b.WriteString(script)
	return b.String()
}

func parseSet(reply string, count int) (Set, error) {
	var set Set
	if err := yaml.Unmarshal([]byte(yamlBody(reply)), &set); err != nil {
		return Set{}, fmt.Errorf("parse yaml: %w", err)
	}
	kept := set.Items[:0]
	for _, item := range set.Items {
		if strings.TrimSpace(item.Question) == "" || strings.TrimSpace(item.Answer) == "" {
			continue
		}
		kept = append(kept, item)
	}
	set.Items = kept
	if len(set.Items) == 0 {
		return Set{}, fmt.Errorf("reply contains no questions")
	}
	if floor := (count + 1) / 2; len(set.Items) < floor {
		return Set{}, fmt.Errorf("reply contains %d questions, %d were asked for", len(set.Items), count)
	}
	if len(set.Items) > count {
		set.Items = set.Items[:count]
	}
	if len(set.Flashcards) > count {
		set.Flashcards = set.Flashcards[:count]
	}
	return set, nil
}

// normalize fixes difficulty values and builds flashcards from easy items when
// the reply carried none.
func normalize(set Set) Set {
	for i := range set.Items {
		item := &set.Items[i]
		item.Question = strings.TrimSpace(item.Question)
		item.Answer = strings.TrimSpace(item.Answer)
		switch Difficulty(strings.ToLower(strings.TrimSpace(string(item.Difficulty)))) {
		case Easy:
			item.Difficulty = Easy
		case Hard:
			item.Difficulty = Hard
		default:
			item.Difficulty = Medium
		}
	}

	cards := set.Flashcards[:0]
	for _, card := range set.Flashcards {
		if strings.TrimSpace(card.Front) == "" || strings.TrimSpace(card.Back) == "" {
			continue
		}
		cards = append(cards, card)
	}
	set.Flashcards = cards
	if len(set.Flashcards) == 0 {
		for _, item := range set.Items {
			if item.Difficulty != Easy {
				continue
			}
			set.Flashcards = append(set.Flashcards, Flashcard{
				Front:    item.Question,
				Back:     item.Answer,
				Category: "keyword",
			})
		}
	}
	for i := range set.Flashcards {
		if set.Flashcards[i].ID == "" {
			set.Flashcards[i].ID = fmt.Sprintf("card%02d", i+1)
		}
	}
	return set
}

// stripFences removes a code fence that wraps the whole reply. Fences inside
// the reply are kept.
func stripFences(reply string) string {
	trimmed := strings.TrimSpace(reply)
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		return trimmed
	}
	if strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return trimmed
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// yamlBody returns the first fenced block of reply, or the whole reply when it
// has none.
func yamlBody(reply string) string {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	start := -1
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		return strings.Join(lines[start+1:i], "\n")
	}
	if start >= 0 {
		return strings.Join(lines[start+1:], "\n")
	}
	return strings.Join(lines, "\n")
}
