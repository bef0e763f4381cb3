package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
	"github.com/loqalabs/learnpod/internal/storage"
)

const (
	docxFont     = "Times New Roman"
	docxFontSize = 12
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	boldRe     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	bulletRe   = regexp.MustCompile(`^[-*]\s+(.+)$`)
	numberedRe = regexp.MustCompile(`^\d+\.\s+.+$`)
	quoteRe    = regexp.MustCompile(`^>\s?(.*)$`)
)

// ExplanationDocx renders the explanation Markdown as a Word document.
// Headings become bold runs sized by level, **bold** spans stay bold and other
// inline markup is dropped.
func ExplanationDocx(markdown string) (storage.Object, error) {
	doc, err := godocx.NewDocument()
	if err != nil {
		return storage.Object{}, fmt.Errorf("create docx: %w", err)
	}

	inFence := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if trimmed == "" || trimmed == "---" {
			continue
		}
		p := doc.AddParagraph("")
		switch {
		case inFence:
			p.AddText(line).Font("Courier New").Size(docxFontSize).Color("000000")
		case headingRe.MatchString(trimmed):
			m := headingRe.FindStringSubmatch(trimmed)
			addRun(p, m[2], true, headingSize(len(m[1])))
		case bulletRe.MatchString(trimmed):
			addRichText(p, "• "+bulletRe.FindStringSubmatch(trimmed)[1])
		case numberedRe.MatchString(trimmed):
			addRichText(p, trimmed)
		case quoteRe.MatchString(trimmed):
			p.AddText(cleanInline(quoteRe.FindStringSubmatch(trimmed)[1])).Font(docxFont).Size(docxFontSize).Color("444444")
		default:
			addRichText(p, trimmed)
		}
	}

	data, err := saveDocx(doc)
	if err != nil {
		return storage.Object{}, err
	}
	return storage.Object{Name: NameExplanationDocx, ContentType: typeDocx, Data: data}, nil
}

// saveDocx writes the document through a scratch file, the only output the
// library offers.
func saveDocx(doc interface{ SaveTo(string) error }) ([]byte, error) {
	dir, err := os.MkdirTemp("", "learnpod-docx-*")
	if err != nil {
		return nil, fmt.Errorf("create docx scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, NameExplanationDocx)
	if err := doc.SaveTo(path); err != nil {
		return nil, fmt.Errorf("save docx: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	return data, nil
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 18
	case 2:
		return 15
	case 3:
		return 13
	default:
		return docxFontSize
	}
}

func addRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(cleanInline(text)).Font(docxFont).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}

func addRichText(p *docx.Paragraph, text string) {
	parts := boldRe.Split(text, -1)
	matches := boldRe.FindAllStringSubmatch(text, -1)
	for i, part := range parts {
		if part != "" {
			addRun(p, part, false, docxFontSize)
		}
		if i < len(matches) {
			addRun(p, matches[i][1], true, docxFontSize)
		}
	}
}

func cleanInline(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}
