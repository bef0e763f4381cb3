package script

import (
	"fmt"
	"strings"

	"github.com/loqalabs/learnpod/internal/dialogue"
)

const maxQuotedRejects = 5

func (c *Composer) systemPrompt() string {
	labels := c.opts.Roster.Labels()
	var b strings.Builder
	fmt.Fprintf(&b, "You write the script of an educational podcast for %s.\n", c.opts.Audience)
	fmt.Fprintf(&b, "Write in language %q. The speakers are %s.\n", c.opts.Language, strings.Join(labels, " and "))
	b.WriteString("Every line must have the form \"<speaker>: <utterance>\" using exactly these speaker names.\n")
	b.WriteString("Do not write headings, stage directions, narration or Markdown. Let every speaker talk.\n")
	return b.String()
}

func (c *Composer) chunkPrompt(chunk chunkInput, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This is part %d of %d of the source document %q.\n", chunk.index+1, chunk.total, chunk.title)
	fmt.Fprintf(&b, "Write about %d words of dialogue covering this part.\n", chunk.words)
	if summary != "" {
		b.WriteString("\nThe dialogue so far ends like this; continue it without repeating it:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	b.WriteString("\nSource text:\n")
	b.WriteString(chunk.text)
	b.WriteString("\n")
	return b.String()
}

func retryPrompt(original string, res dialogue.Result) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\nYour previous answer contained no valid dialogue lines. These lines were rejected:\n")
	for i, r := range res.Rejected {
		if i == maxQuotedRejects {
			fmt.Fprintf(&b, "(and %d more)\n", len(res.Rejected)-maxQuotedRejects)
			break
		}
		fmt.Fprintf(&b, "line %d (%s): %s\n", r.Line, r.Reason, strings.TrimSpace(r.Text))
	}
	b.WriteString("Answer again using only \"<speaker>: <utterance>\" lines.\n")
	return b.String()
}

func refinePrompt(draft string, words, delta int) string {
	verb := "Expand"
	if delta < 0 {
		verb = "Condense"
		delta = -delta
	}
	return fmt.Sprintf("The script below has %d words. %s it by about %d words while keeping the same speakers, order of topics and line format. Return the complete revised script.\n\n%s",
		words, verb, delta, draft)
}

func repairPrompt(draft string, missing []string) string {
	return fmt.Sprintf("In the script below these speakers never talk: %s. Rewrite it so every speaker takes part, keeping the length and the line format. Return the complete revised script.\n\n%s",
		strings.Join(missing, ", "), draft)
}

// runningSummary quotes the tail of the dialogue and lists the topics covered so far.
func runningSummary(turns []dialogue.Turn, topics []string, n int) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Topics covered: %s.\n", strings.Join(topics, "; "))
	}
	start := len(turns) - n
	switch {
	case n <= 0:
		start = len(turns)
	case start < 0:
		start = 0
	}
	b.WriteString(dialogue.Render(turns[start:]))
	return b.String()
}

// stripFences drops Markdown code fence lines models like to wrap scripts in.
func stripFences(reply string) string {
	lines := strings.Split(reply, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
