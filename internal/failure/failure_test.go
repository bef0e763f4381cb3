package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(KindUnknownSpeaker, "resolve voices", errors.New("no voice for Kenji"))
	wrapped := fmt.Errorf("audio stage: %w", base)

	if got := KindOf(wrapped); got != KindUnknownSpeaker {
		t.Fatalf("expected unknown_speaker, got %s", got)
	}
	if !errors.Is(wrapped, ErrUnknownSpeaker) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if errors.Is(wrapped, ErrAudioSynthesis) {
		t.Fatalf("did not expect audio synthesis match")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTransientService},
		{"rate limited status", &StatusError{Code: 429, Status: "429 Too Many Requests"}, KindTransientService},
		{"server error", &StatusError{Code: 503, Status: "503 Service Unavailable"}, KindTransientService},
		{"bad request", &StatusError{Code: 400, Status: "400 Bad Request"}, KindService},
		{"quota message", errors.New("Error 429, RESOURCE_EXHAUSTED"), KindTransientService},
		{"other", errors.New("model not found"), KindService},
		{"already classified", New(KindGrammarViolation, "x", errors.New("y")), KindGrammarViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := KindOf(Classify("generate", tc.err))
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyKeepsCancellation(t *testing.T) {
	err := Classify("generate", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("cancellation must not be retryable")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindEmptyScript, "parse turns", nil)
	if err.Error() != "parse turns: empty_script" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
