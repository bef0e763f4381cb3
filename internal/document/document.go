// Package document turns raw Markdown with optional YAML front-matter into
// ordered, budget-bounded chunks.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/learnpod/internal/failure"
	"gopkg.in/yaml.v3"
)

// Document is the immutable input of a pipeline run.
type Document struct {
	Name     string
	Title    string
	Metadata map[string]string
	Body     string
}

var (
	frontMatterRe = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?`)
	h1Re          = regexp.MustCompile(`(?m)^#\s+(.+?)\s*#*\s*$`)
)

// Parse decodes front-matter, normalizes line endings and surrounding whitespace,
// and derives the title. An empty body is an InvalidDocument failure.
func Parse(name string, raw []byte) (Document, error) {
	if !utf8.Valid(raw) {
		return Document{}, failure.New(failure.KindInvalidDocument, "parse document", errors.New("input is not valid UTF-8"))
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	doc := Document{Name: name, Metadata: map[string]string{}}
	if m := frontMatterRe.FindStringSubmatchIndex(text); m != nil {
		var meta map[string]any
		if err := yaml.Unmarshal([]byte(text[m[2]:m[3]]), &meta); err != nil {
			return Document{}, failure.New(failure.KindInvalidDocument, "parse front-matter", err)
		}
		for k, v := range meta {
			doc.Metadata[k] = metaString(v)
		}
		text = text[m[1]:]
	}

	doc.Body = strings.TrimSpace(text)
	if doc.Body == "" {
		return Document{}, failure.New(failure.KindInvalidDocument, "parse document", errors.New("document body is empty"))
	}
	doc.Title = deriveTitle(doc)
	return doc, nil
}

func deriveTitle(doc Document) string {
	if title := strings.TrimSpace(doc.Metadata["title"]); title != "" {
		return title
	}
	if m := h1Re.FindStringSubmatch(doc.Body); m != nil {
		return m[1]
	}
	base := filepath.Base(doc.Name)
	if base == "." || base == "/" || base == "" {
		return "untitled"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func metaString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, metaString(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}
