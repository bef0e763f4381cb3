package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/nats-io/nats.go"
)

// ObjectStore keeps artifacts in a JetStream object store bucket under
// "<run id>/<name>" keys.
type ObjectStore struct {
	bucket string
	store  nats.ObjectStore
	logger *slog.Logger
}

// NewObjectStore binds to bucket, creating it when it does not exist yet.
func NewObjectStore(js nats.JetStreamContext, bucket string, logger *slog.Logger) (*ObjectStore, error) {
	store, err := js.ObjectStore(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) || errors.Is(err, nats.ErrStreamNotFound) {
		store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "learnpod run artifacts",
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectStore{bucket: bucket, store: store, logger: logger.With(slog.String("component", "objectstore"))}, nil
}

func key(runID, name string) string { return path.Join(runID, name) }

func (o *ObjectStore) Save(ctx context.Context, runID string, objects []Object) (string, error) {
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		_, err := o.store.Put(&nats.ObjectMeta{
			Name:     key(runID, obj.Name),
			Metadata: map[string]string{"content-type": obj.ContentType, "run-id": runID},
		}, bytes.NewReader(obj.Data))
		if err != nil {
			return "", fmt.Errorf("put object %q to bucket %q: %w", obj.Name, o.bucket, err)
		}
	}
	location := fmt.Sprintf("nats://%s/%s", o.bucket, runID)
	o.logger.Debug("artifacts uploaded", slog.String("run_id", runID), slog.Int("objects", len(objects)))
	return location, nil
}

// Get downloads one artifact of a run.
func (o *ObjectStore) Get(ctx context.Context, runID, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, err := o.store.Get(key(runID, name))
	if err != nil {
		return nil, fmt.Errorf("get object %q from bucket %q: %w", name, o.bucket, err)
	}
	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read object %q: %w", name, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("close object %q: %w", name, closeErr)
	}
	return data, nil
}
