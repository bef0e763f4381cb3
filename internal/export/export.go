// Package export renders the artifacts of a run into storable objects.
package export

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loqalabs/learnpod/internal/audio"
	"github.com/loqalabs/learnpod/internal/script"
	"github.com/loqalabs/learnpod/internal/storage"
	"github.com/loqalabs/learnpod/internal/study"
	"gopkg.in/yaml.v3"
)

const (
	NameScript          = "script.md"
	NameExplanation     = "explanation.md"
	NameExplanationDocx = "explanation.docx"
	NameQuestions       = "questions.md"
	NameQuestionsYAML   = "questions.yaml"
	NameFlashcards      = "flashcards.yaml"
	NamePodcast         = "podcast.wav"
	NameInput           = "input.md"
	NameManifest        = "manifest.json"

	typeMarkdown = "text/markdown; charset=utf-8"
	typeYAML     = "application/yaml"
	typeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	typeWAV      = "audio/wav"
	typeJSON     = "application/json"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Script renders the final draft as Markdown with a title line.
func Script(title string, draft script.Draft) storage.Object {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", headline(title, "Podcast script"))
	b.WriteString(strings.TrimSpace(draft.Text))
	b.WriteString("\n")
	return storage.Object{Name: NameScript, ContentType: typeMarkdown, Data: []byte(b.String())}
}

func Explanation(markdown string) storage.Object {
	return storage.Object{Name: NameExplanation, ContentType: typeMarkdown, Data: []byte(markdown)}
}

func Input(raw []byte) storage.Object {
	return storage.Object{Name: NameInput, ContentType: typeMarkdown, Data: raw}
}

// Questions renders the Q&A set as a self-check sheet grouped by difficulty.
func Questions(title string, set study.Set) storage.Object {
	var b strings.Builder
	fmt.Fprintf(&b, "# Q&A: %s\n\n", headline(title, "Podcast"))
	b.WriteString("Use these questions to check what you understood from the podcast. Every question comes with an answer for self-grading.\n\n---\n")

	sections := []struct {
		difficulty study.Difficulty
		heading    string
	}{
		{study.Easy, "Keyword Q&A"},
		{study.Medium, "Why Q&A"},
		{study.Hard, "Open Q&A"},
	}
	n := 0
	for _, s := range sections {
		first := true
		for _, item := range set.Items {
			if item.Difficulty != s.difficulty {
				continue
			}
			if first {
				fmt.Fprintf(&b, "\n## %s\n", s.heading)
				first = false
			}
			n++
			fmt.Fprintf(&b, "\n**Q%d:** %s\n\n**A:** %s\n", n, item.Question, item.Answer)
			if item.Explanation != "" {
				fmt.Fprintf(&b, "\n> %s\n", item.Explanation)
			}
		}
	}
	out := blankRunRe.ReplaceAllString(b.String(), "\n\n")
	return storage.Object{Name: NameQuestions, ContentType: typeMarkdown, Data: []byte(out)}
}

func QuestionsYAML(set study.Set) (storage.Object, error) {
	data, err := yaml.Marshal(struct {
		Items []study.QAItem `yaml:"items"`
	}{Items: set.Items})
	if err != nil {
		return storage.Object{}, fmt.Errorf("marshal questions: %w", err)
	}
	return storage.Object{Name: NameQuestionsYAML, ContentType: typeYAML, Data: data}, nil
}

func Flashcards(set study.Set) (storage.Object, error) {
	data, err := yaml.Marshal(struct {
		Flashcards []study.Flashcard `yaml:"flashcards"`
	}{Flashcards: set.Flashcards})
	if err != nil {
		return storage.Object{}, fmt.Errorf("marshal flashcards: %w", err)
	}
	return storage.Object{Name: NameFlashcards, ContentType: typeYAML, Data: data}, nil
}

func Podcast(timeline audio.Timeline) (storage.Object, error) {
	data, err := timeline.WAV()
	if err != nil {
		return storage.Object{}, fmt.Errorf("encode podcast: %w", err)
	}
	return storage.Object{Name: NamePodcast, ContentType: typeWAV, Data: data}, nil
}

// Artifact describes one stored object in the manifest.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Bytes       int    `json:"bytes"`
}

// Manifest summarizes a run next to its artifacts.
type Manifest struct {
	RunID               string     `json:"run_id"`
	Title               string     `json:"title"`
	Source              string     `json:"source"`
	CreatedAt           time.Time  `json:"created_at"`
	Status              string     `json:"status"`
	Stage               string     `json:"stage,omitempty"`
	Error               string     `json:"error,omitempty"`
	WordCount           int        `json:"word_count,omitempty"`
	WordCountOutOfRange bool       `json:"word_count_out_of_range,omitempty"`
	Refinements         int        `json:"refinements,omitempty"`
	Turns               int        `json:"turns,omitempty"`
	AudioSeconds        float64    `json:"audio_seconds,omitempty"`
	QAItems             int        `json:"qa_items,omitempty"`
	Flashcards          int        `json:"flashcards,omitempty"`
	Artifacts           []Artifact `json:"artifacts"`
}

// Object lists objects in the manifest and renders it as JSON.
func (m Manifest) Object(objects []storage.Object) (storage.Object, error) {
	m.Artifacts = Describe(objects)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return storage.Object{}, fmt.Errorf("marshal manifest: %w", err)
	}
	return storage.Object{Name: NameManifest, ContentType: typeJSON, Data: append(data, '\n')}, nil
}

func Describe(objects []storage.Object) []Artifact {
	out := make([]Artifact, 0, len(objects))
	for _, o := range objects {
		out = append(out, Artifact{Name: o.Name, ContentType: o.ContentType, Bytes: len(o.Data)})
	}
	return out
}

func headline(title, fallback string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return fallback
}
