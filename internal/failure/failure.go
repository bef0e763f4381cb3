// Package failure defines the error taxonomy shared by every pipeline stage.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a failure so callers can decide whether to retry, report or abort.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindInvalidDocument
	KindTransientService
	KindService
	KindGrammarViolation
	KindUnknownSpeaker
	KindEmptyScript
	KindAudioSynthesis
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindConfiguration:    "configuration",
	KindInvalidDocument:  "invalid_document",
	KindTransientService: "transient_service",
	KindService:          "service",
	KindGrammarViolation: "grammar_violation",
	KindUnknownSpeaker:   "unknown_speaker",
	KindEmptyScript:      "empty_script",
	KindAudioSynthesis:   "audio_synthesis",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is checks. Only the Kind is compared.
var (
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrInvalidDocument  = &Error{Kind: KindInvalidDocument}
	ErrTransientService = &Error{Kind: KindTransientService}
	ErrService          = &Error{Kind: KindService}
	ErrGrammarViolation = &Error{Kind: KindGrammarViolation}
	ErrUnknownSpeaker   = &Error{Kind: KindUnknownSpeaker}
	ErrEmptyScript      = &Error{Kind: KindEmptyScript}
	ErrAudioSynthesis   = &Error{Kind: KindAudioSynthesis}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a new error of the given kind from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err) == KindTransientService
}

// StatusError is returned by HTTP backends on a non-success response.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

var transientMarkers = []string{
	"429",
	"quota",
	"RESOURCE_EXHAUSTED",
	"UNAVAILABLE",
	"rate limit",
	"connection reset",
	"connection refused",
}

// Classify tags a raw backend error as transient or permanent. Errors that already
// carry a Kind and context cancellation pass through untouched.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTransientService, op, err)
	}
	var status *StatusError
	if errors.As(err, &status) {
		if status.Code == 429 || status.Code >= 500 {
			return New(KindTransientService, op, err)
		}
		return New(KindService, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return New(KindTransientService, op, err)
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return New(KindTransientService, op, err)
		}
	}
	return New(KindService, op, err)
}
