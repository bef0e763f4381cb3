package dialogue

import (
	"errors"
	"regexp"
	"strings"

	"github.com/loqalabs/learnpod/internal/failure"
)

// Turn is one spoken line. Seq is 1-based and follows script order.
type Turn struct {
	Seq       int
	Speaker   string
	Utterance string
}

// RejectedLine is a non-blank line that could not be attached to any turn.
type RejectedLine struct {
	Line   int
	Text   string
	Reason string
}

// Result is the structured outcome of checking a script against the grammar.
type Result struct {
	Turns    []Turn
	Rejected []RejectedLine
	Blank    int
}

const (
	reasonNoSpeaker      = "no speaker label"
	reasonUnknownSpeaker = "unknown speaker label"
	reasonEmptyUtterance = "empty utterance"
)

// turnRe recognizes label-shaped prefixes that are not on the roster.
var (
	turnRe      = regexp.MustCompile(`^\s*(?:[-*]\s+)?(?:\*\*)?([^:：*.,!?、。]{1,40}?)(?:\*\*)?\s*[:：](?:\*\*)?\s*(.*)$`)
	separatorRe = regexp.MustCompile(`^\s*(?:-{3,}|\*{3,}|={3,}|_{3,})\s*$`)
)

// Check walks the script line by line. A line starts a turn when it carries a roster
// label; a non-blank line directly following a turn continues it; every other
// non-blank line is rejected. Check never stops at the first bad line.
func Check(text string, roster Roster) Result {
	var (
		res     Result
		current *Turn
		attach  bool
	)
	finish := func(lineNo int) {
		if current == nil {
			return
		}
		current.Utterance = strings.TrimSpace(current.Utterance)
		if current.Utterance == "" {
			res.Rejected = append(res.Rejected, RejectedLine{Line: lineNo, Text: current.Speaker + ":", Reason: reasonEmptyUtterance})
		} else {
			current.Seq = len(res.Turns) + 1
			res.Turns = append(res.Turns, *current)
		}
		current = nil
	}

	startLine := 0
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			res.Blank++
			attach = false
			continue
		}
		if label, rest, ok := roster.matchTurn(line); ok {
			finish(startLine)
			current = &Turn{Speaker: label, Utterance: stripEmphasis(rest)}
			startLine = lineNo
			attach = true
			continue
		}
		if m := turnRe.FindStringSubmatch(line); m != nil {
			if looksLikeLabel(m[1]) {
				finish(startLine)
				attach = false
				res.Rejected = append(res.Rejected, RejectedLine{Line: lineNo, Text: line, Reason: reasonUnknownSpeaker})
				continue
			}
		}
		if current != nil && attach && !isStructural(trimmed) {
			current.Utterance += " " + stripEmphasis(trimmed)
			continue
		}
		attach = false
		res.Rejected = append(res.Rejected, RejectedLine{Line: lineNo, Text: line, Reason: reasonNoSpeaker})
	}
	finish(startLine)
	return res
}

// Parse returns the turns of a script, failing with EmptyScript when there are none.
func Parse(text string, roster Roster) ([]Turn, Result, error) {
	res := Check(text, roster)
	if len(res.Turns) == 0 {
		return nil, res, failure.New(failure.KindEmptyScript, "parse turns", errors.New("script contains no valid turns"))
	}
	return res.Turns, res, nil
}

// Speakers returns the set of canonical labels that have at least one turn.
func (r Result) Speakers() map[string]bool {
	set := make(map[string]bool)
	for _, t := range r.Turns {
		set[t.Speaker] = true
	}
	return set
}

// Missing lists roster labels that never speak, in roster order.
func (r Result) Missing(roster Roster) []string {
	spoken := r.Speakers()
	var missing []string
	for _, label := range roster.Labels() {
		if !spoken[label] {
			missing = append(missing, label)
		}
	}
	return missing
}

// Render writes turns back in canonical "<label>: <utterance>" form, one per line.
func Render(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Speaker)
		b.WriteString(": ")
		b.WriteString(t.Utterance)
		b.WriteByte('\n')
	}
	return b.String()
}

// looksLikeLabel guards against treating prose such as "Note that x: y" as a speaker.
func looksLikeLabel(candidate string) bool {
	fields := strings.Fields(candidate)
	return len(fields) > 0 && len(fields) <= 3
}

func isStructural(trimmed string) bool {
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "```") || separatorRe.MatchString(trimmed)
}

func stripEmphasis(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*"))
}
