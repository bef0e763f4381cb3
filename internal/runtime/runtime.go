// Package runtime hosts learnpod as a long-running service: it serves health
// and metrics endpoints and runs the pipeline for every document dropped into
// the inbox.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/pipeline"
	"github.com/loqalabs/learnpod/internal/watcher"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metrics     *http.Server
	tracerClose func(context.Context) error
	services    *Services
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// NewLogger returns the JSON logger used by every learnpod command.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Start serves until ctx is done. Documents already being processed when
// shutdown begins are cancelled and recorded as failed runs.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := SetupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	services, err := OpenServices(ctx, r.cfg, r.logger)
	if err != nil {
		r.closeTelemetry()
		return fmt.Errorf("failed to open services: %w", err)
	}
	r.services = services
	defer r.services.Close()

	inbox, err := watcher.New(r.cfg.Watch, r.handleDocument, r.logger)
	if err != nil {
		r.closeTelemetry()
		return fmt.Errorf("failed to start inbox watcher: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := strings.TrimSpace(r.cfg.Telemetry.PrometheusBind); bind != "" && metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metrics = &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metrics, "metrics")
	}

	watchErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		watchErr <- inbox.Run(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("inbox", r.cfg.Watch.Inbox))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-watchErr:
		if runErr != nil {
			r.logger.Error("inbox watcher failed", slog.String("error", runErr.Error()))
		}
	}
	r.ready.Store(false)
	cancel()

	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metrics} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.closeTelemetryWith(shutdownCtx)

	return runErr
}

func (r *Runtime) routes(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// handleDocument runs the pipeline for one settled inbox file. Run failures
// are already recorded in the ledger and notified, so only a summary is logged.
func (r *Runtime) handleDocument(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	res, err := r.services.Pipeline.Run(ctx, pipeline.Input{Name: filepath.Base(path), Raw: raw})
	if pruneErr := r.services.Ledger.Prune(context.WithoutCancel(ctx)); pruneErr != nil {
		r.logger.Warn("event store prune failed", slog.String("error", pruneErr.Error()))
	}
	var f *pipeline.Failure
	if errors.As(err, &f) {
		r.logger.Error("run failed",
			slog.String("path", path),
			slog.String("run_id", f.RunID),
			slog.String("stage", f.Stage.String()),
			slog.String("kind", f.Kind.String()),
			slog.String("location", f.Location))
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("document processed", slog.String("path", path), slog.String("location", res.Location))
	return nil
}

func (r *Runtime) closeTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.closeTelemetryWith(ctx)
}

func (r *Runtime) closeTelemetryWith(ctx context.Context) {
	if r.tracerClose == nil {
		return
	}
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	r.tracerClose = nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.services == nil || r.services.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
