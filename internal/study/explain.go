package study

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/llm"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

type Explainer struct {
	asker    Asker
	language string
	topic    string
	logger   *slog.Logger
}

func NewExplainer(asker Asker, language, topic string, logger *slog.Logger) *Explainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{asker: asker, language: language, topic: topic, logger: logger.With(slog.String("component", "explainer"))}
}

// Explain writes a Markdown study guide for script. Top-level headings in the
// reply are demoted so the guide has a single title.
func (e *Explainer) Explain(ctx context.Context, runID, script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", failure.Newf(failure.KindEmptyScript, "explain script", "script is empty")
	}
	reply, err := e.asker.Ask(ctx, llm.Request{
		RunID: runID,
		Task:  llm.TaskExplain,
		Prompt: fmt.Sprintf("Write a detailed explanation in language %q of everything discussed in the podcast script below. "+
			"Use Markdown sections, quote key lines from the script and add background a learner needs.\n\n%s", e.language, script),
		Hints: map[string]string{llm.HintTopic: e.topic},
	})
	if err != nil {
		return "", err
	}
	doc := formatExplanation(e.topic, reply)
	e.logger.Debug("explanation written", slog.String("run_id", runID), slog.Int("bytes", len(doc)))
	return doc, nil
}

func formatExplanation(topic, body string) string {
	lines := strings.Split(strings.ReplaceAll(stripFences(body), "\r\n", "\n"), "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			continue
		}
		if !inCode && strings.HasPrefix(line, "# ") {
			lines[i] = "#" + line
		}
	}
	title := "Explanation"
	if strings.TrimSpace(topic) != "" {
		title = "Explanation: " + strings.TrimSpace(topic)
	}
	out := "# " + title + "\n\n" + strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
	return blankRunRe.ReplaceAllString(out, "\n\n")
}
