package document

import (
	"errors"
	"strings"
	"unicode"

	"github.com/loqalabs/learnpod/internal/failure"
)

// Chunk is a contiguous slice of the document body. Concatenating Text over all
// chunks in Index order yields Document.Body exactly.
type Chunk struct {
	Index        int
	Text         string
	ApproxTokens int
	Heading      string
	Oversized    bool
}

type section struct {
	heading string
	text    string
}

// Split packs heading-delimited sections into chunks of at most budget tokens.
// A section that alone exceeds the budget becomes one oversized chunk.
func Split(doc Document, budget int) ([]Chunk, error) {
	if budget <= 0 {
		return nil, failure.New(failure.KindConfiguration, "split document", errors.New("chunk budget must be positive"))
	}
	if strings.TrimSpace(doc.Body) == "" {
		return nil, failure.New(failure.KindInvalidDocument, "split document", errors.New("document body is empty"))
	}

	var (
		chunks []Chunk
		cur    strings.Builder
		head   string
	)
	flush := func(oversized bool) {
		if cur.Len() == 0 {
			return
		}
		text := cur.String()
		chunks = append(chunks, Chunk{
			Index:        len(chunks),
			Text:         text,
			ApproxTokens: EstimateTokens(text),
			Heading:      head,
			Oversized:    oversized,
		})
		cur.Reset()
		head = ""
	}

	for _, sec := range sections(doc.Body) {
		tokens := EstimateTokens(sec.text)
		if tokens > budget {
			flush(false)
			cur.WriteString(sec.text)
			head = sec.heading
			flush(true)
			continue
		}
		if cur.Len() > 0 && EstimateTokens(cur.String()+sec.text) > budget {
			flush(false)
		}
		if cur.Len() == 0 {
			head = sec.heading
		}
		cur.WriteString(sec.text)
	}
	flush(false)
	return chunks, nil
}

// sections cuts body at ATX headings that sit outside fenced code blocks.
// Line terminators stay attached so the pieces concatenate back to body.
func sections(body string) []section {
	var (
		out     []section
		cur     strings.Builder
		heading string
		fence   string
	)
	for _, line := range strings.SplitAfter(body, "\n") {
		if line == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if marker := fenceMarker(trimmed); marker != "" {
			switch {
			case fence == "":
				fence = marker
			case strings.HasPrefix(trimmed, fence):
				fence = ""
			}
		} else if fence == "" {
			if title, ok := headingTitle(line); ok {
				if cur.Len() > 0 {
					out = append(out, section{heading: heading, text: cur.String()})
					cur.Reset()
				}
				heading = title
			}
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, section{heading: heading, text: cur.String()})
	}
	return out
}

func fenceMarker(trimmed string) string {
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```"
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~"
	}
	return ""
}

// headingTitle recognizes "# Title" through "###### Title" with at most three leading spaces.
func headingTitle(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	indent := len(line) - len(strings.TrimLeft(line, " "))
	if indent > 3 {
		return "", false
	}
	rest := line[indent:]
	level := 0
	for level < len(rest) && rest[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return "", false
	}
	if level < len(rest) && rest[level] != ' ' && rest[level] != '\t' {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest[level:]), "#"))
	return title, true
}

// CountWords counts whitespace-delimited words, with every CJK character counted
// as a word of its own.
func CountWords(text string) int {
	count := 0
	for _, field := range strings.Fields(text) {
		cjk := 0
		other := false
		for _, r := range field {
			if isCJK(r) {
				cjk++
			} else if unicode.IsLetter(r) || unicode.IsDigit(r) {
				other = true
			}
		}
		count += cjk
		if other {
			count++
		}
	}
	return count
}

// EstimateTokens approximates model tokens as four tokens per three words.
func EstimateTokens(text string) int {
	words := CountWords(text)
	return (words*4 + 2) / 3
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
