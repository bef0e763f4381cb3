package pipeline

import (
	"fmt"
	"strings"

	"github.com/loqalabs/learnpod/internal/failure"
)

// Stage is a state of a run. Runs move strictly forward through the stages in
// declaration order; Failed is terminal.
type Stage int

const (
	StagePending Stage = iota
	StageIngested
	StageChunked
	StageScriptFinal
	StageTurnsParsed
	StageAudioAssembled
	StageQADerived
	StageComplete
	StageFailed
)

var stageNames = [...]string{
	StagePending:        "pending",
	StageIngested:       "ingested",
	StageChunked:        "chunked",
	StageScriptFinal:    "script_final",
	StageTurnsParsed:    "turns_parsed",
	StageAudioAssembled: "audio_assembled",
	StageQADerived:      "qa_derived",
	StageComplete:       "complete",
	StageFailed:         "failed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Failure reports a run that stopped before Complete. Stage is the state the
// run was moving into; Partial names the artifacts that were kept.
type Failure struct {
	RunID    string
	Stage    Stage
	Kind     failure.Kind
	Err      error
	Partial  []string
	Location string
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s failed entering %s (%s): %v", f.RunID, f.Stage, f.Kind, f.Err)
	if len(f.Partial) > 0 {
		fmt.Fprintf(&b, "; kept %s", strings.Join(f.Partial, ", "))
		if f.Location != "" {
			fmt.Fprintf(&b, " at %s", f.Location)
		}
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }
