package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/failure"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastPolicy(tries uint) Policy {
	return Policy{MaxTries: tries, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	value, err := Do(context.Background(), fastPolicy(3), newLogger(), "generate", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &failure.StatusError{Code: 503, Status: "503 Service Unavailable"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "ok" || calls != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", value, calls)
	}
}

func TestPermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), newLogger(), "generate", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("model not found")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if failure.KindOf(err) != failure.KindService {
		t.Fatalf("expected service kind, got %s", failure.KindOf(err))
	}
}

func TestExhaustedRetriesStayTransient(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(2), newLogger(), "synthesize", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("RESOURCE_EXHAUSTED")
	})
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if !failure.Retryable(err) {
		t.Fatalf("expected transient error after exhaustion, got %v", err)
	}
}

func TestPerAttemptTimeoutIsTransient(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 5 * time.Millisecond
	calls := 0
	_, err := Do(context.Background(), p, newLogger(), "synthesize", func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if calls != 2 {
		t.Fatalf("expected timeout to be retried, got %d calls", calls)
	}
	if !errors.Is(err, failure.ErrTransientService) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastPolicy(3), newLogger(), "generate", func(context.Context) (int, error) {
		return 0, errors.New("UNAVAILABLE")
	})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxAttempts: 4, InitialMS: 100, MaxMS: 800, Multiplier: 3}, 2500)
	if p.MaxTries != 4 || p.Initial != 100*time.Millisecond || p.Max != 800*time.Millisecond || p.Timeout != 2500*time.Millisecond {
		t.Fatalf("unexpected policy %+v", p)
	}
}
