package protocol

import "time"

// Artifact is one stored output of a run.
type Artifact struct {
	Name      string `json:"name"`
	Bytes     int    `json:"bytes"`
	HumanSize string `json:"human_size"`
}

// RunCompleted is published when a run has stored all of its artifacts.
type RunCompleted struct {
	RunID               string     `json:"run_id"`
	Title               string     `json:"title"`
	Source              string     `json:"source"`
	Location            string     `json:"location"`
	WordCount           int        `json:"word_count"`
	WordCountOutOfRange bool       `json:"word_count_out_of_range"`
	Turns               int        `json:"turns"`
	AudioDuration       string     `json:"audio_duration"`
	QAItems             int        `json:"qa_items"`
	Flashcards          int        `json:"flashcards"`
	Artifacts           []Artifact `json:"artifacts"`
	Elapsed             string     `json:"elapsed"`
	Timestamp           time.Time  `json:"timestamp"`
}

// RunFailed is published when a run stops before completion.
type RunFailed struct {
	RunID     string     `json:"run_id"`
	Title     string     `json:"title"`
	Source    string     `json:"source"`
	Stage     string     `json:"stage"`
	Kind      string     `json:"kind"`
	Error     string     `json:"error"`
	Location  string     `json:"location,omitempty"`
	Partial   []Artifact `json:"partial,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

const (
	SubjectRunCompleted = "completed"
	SubjectRunFailed    = "failed"
)

// Subject joins the configured prefix with an event name, e.g. "learnpod.run.completed".
func Subject(prefix, event string) string {
	if prefix == "" {
		return event
	}
	return prefix + "." + event
}
