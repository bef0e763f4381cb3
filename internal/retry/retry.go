// Package retry runs external calls under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/failure"
)

// Policy bounds the number and spacing of attempts. Timeout applies to each attempt
// separately; zero disables the per-attempt deadline.
type Policy struct {
	MaxTries   uint
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Timeout    time.Duration
}

// FromConfig builds a policy from the retry section and a per-call timeout.
func FromConfig(cfg config.RetryConfig, timeoutMS int) Policy {
	return Policy{
		MaxTries:   uint(cfg.MaxAttempts),
		Initial:    time.Duration(cfg.InitialMS) * time.Millisecond,
		Max:        time.Duration(cfg.MaxMS) * time.Millisecond,
		Multiplier: cfg.Multiplier,
		Timeout:    time.Duration(timeoutMS) * time.Millisecond,
	}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// Do calls fn until it succeeds, returns a non-transient error, or the policy is exhausted.
// Errors returned by fn are classified with failure.Classify under op.
func Do[T any](ctx context.Context, p Policy, log *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	attempt := 0
	operation := func() (T, error) {
		attempt++
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		value, err := fn(callCtx)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return value, backoff.Permanent(ctx.Err())
		}
		err = failure.Classify(op, err)
		if !failure.Retryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}

	value, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if log != nil {
				log.Warn("retrying after transient failure",
					slog.String("op", op),
					slog.Int("attempt", attempt),
					slog.Duration("wait", wait),
					slog.String("error", err.Error()))
			}
		}),
	)
	if err != nil && !errors.Is(err, context.Canceled) && failure.KindOf(err) == failure.KindUnknown {
		err = failure.Classify(op, err)
	}
	return value, err
}
