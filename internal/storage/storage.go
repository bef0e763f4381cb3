// Package storage persists run artifacts to a local directory or a NATS
// JetStream object store bucket.
package storage

import (
	"context"
	"errors"
)

// Object is one named artifact.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store saves the artifacts of a run and returns where they were written.
// Saving twice for the same run adds to the same location.
type Store interface {
	Save(ctx context.Context, runID string, objects []Object) (string, error)
}

// MirrorError reports mirrors that failed after the primary store succeeded.
type MirrorError struct {
	Err error
}

func (e *MirrorError) Error() string { return "mirror artifacts: " + e.Err.Error() }

func (e *MirrorError) Unwrap() error { return e.Err }

// Tee writes to the primary store first and then to every mirror. The
// primary's location is returned; failed mirrors come back as a *MirrorError.
type Tee struct {
	Primary Store
	Mirrors []Store
}

func (t Tee) Save(ctx context.Context, runID string, objects []Object) (string, error) {
	location, err := t.Primary.Save(ctx, runID, objects)
	if err != nil {
		return "", err
	}
	var errs []error
	for _, m := range t.Mirrors {
		if _, err := m.Save(ctx, runID, objects); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return location, &MirrorError{Err: errors.Join(errs...)}
	}
	return location, nil
}
