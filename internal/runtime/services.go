package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/learnpod/internal/bus"
	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/eventstore"
	"github.com/loqalabs/learnpod/internal/natsserver"
	"github.com/loqalabs/learnpod/internal/notify"
	"github.com/loqalabs/learnpod/internal/pipeline"
	"github.com/loqalabs/learnpod/internal/storage"
)

// Services holds the long-lived collaborators shared by one-shot runs and the
// inbox server. Close releases them in reverse order of creation.
type Services struct {
	Pipeline *pipeline.Pipeline
	Ledger   *eventstore.Store
	Bus      *bus.Client

	embedded *natsserver.EmbeddedServer
	logger   *slog.Logger
}

// OpenServices starts the bus (embedded or external), the run ledger and the
// artifact stores, then builds the pipeline around them.
func OpenServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Services, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if cfg.Bus.Enabled {
		if s.embedded, err = natsserver.Start(cfg.Bus, logger); err != nil {
			return nil, err
		}
		busCfg := cfg.Bus
		if url := s.embedded.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		if s.Bus, err = bus.Connect(ctx, busCfg, logger); err != nil {
			return nil, err
		}
	}

	if s.Ledger, err = eventstore.Open(ctx, cfg.EventStore, logger); err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	store, err := s.store(cfg)
	if err != nil {
		return nil, err
	}

	var notifier pipeline.Notifier = notify.Discard{}
	if cfg.Notify.Enabled && s.Bus != nil {
		notifier = notify.NewPublisher(s.Bus, cfg.Notify.SubjectPrefix, logger)
	}

	if s.Pipeline, err = pipeline.NewFromConfig(ctx, cfg, store, notifier, s.Ledger, logger); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) store(cfg config.Config) (storage.Store, error) {
	dir, err := storage.NewDir(cfg.Output.Directory, s.logger)
	if err != nil {
		return nil, err
	}
	if cfg.Output.ObjectStoreBucket == "" || s.Bus == nil {
		return dir, nil
	}
	mirror, err := storage.NewObjectStore(s.Bus.JetStream(), cfg.Output.ObjectStoreBucket, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return storage.Tee{Primary: dir, Mirrors: []storage.Store{mirror}}, nil
}

// Healthy reports whether the bus connection, when configured, is up.
func (s *Services) Healthy() bool {
	if s == nil {
		return false
	}
	if s.Bus == nil {
		return true
	}
	return s.Bus.Healthy()
}

func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Ledger != nil {
		if err := s.Ledger.Close(); err != nil {
			s.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.embedded != nil {
		s.embedded.Shutdown()
	}
}
