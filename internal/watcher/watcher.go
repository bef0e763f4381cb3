// Package watcher runs a handler for every Markdown document dropped into an
// inbox directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loqalabs/learnpod/internal/config"
)

const recentLimit = 512

// Handler processes one settled inbox file.
type Handler func(ctx context.Context, path string) error

// Watcher waits until a file has stopped changing for the settle delay before
// handing it over, runs at most MaxConcurrent handlers at once and skips a
// file whose modification time it has already handled.
type Watcher struct {
	inbox   string
	handler Handler
	log     *slog.Logger
	fs      *fsnotify.Watcher
	settle  time.Duration
	sem     chan struct{}
	ready   chan string
	recent  *lru.Cache[string, time.Time]

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func New(cfg config.WatchConfig, handler Handler, log *slog.Logger) (*Watcher, error) {
	if cfg.Inbox == "" {
		return nil, fmt.Errorf("watch inbox must not be empty")
	}
	if err := os.MkdirAll(cfg.Inbox, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	recent, err := lru.New[string, time.Time](recentLimit)
	if err != nil {
		return nil, fmt.Errorf("create recent cache: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(cfg.Inbox); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		inbox:   cfg.Inbox,
		handler: handler,
		log:     log.With(slog.String("component", "watcher")),
		fs:      fw,
		settle:  time.Duration(cfg.SettleMS) * time.Millisecond,
		sem:     make(chan struct{}, maxConcurrent),
		ready:   make(chan string),
		recent:  recent,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx is done, then waits for running handlers and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	w.log.Info("inbox watcher started", slog.String("inbox", w.inbox), slog.Int("max_concurrent", cap(w.sem)))

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.log.Info("waiting for running documents to finish")
			w.wg.Wait()
			w.log.Info("inbox watcher stopped")
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isMarkdown(event.Name) {
				w.log.Debug("ignoring non-markdown file", slog.String("path", event.Name))
				continue
			}
			w.schedule(ctx, event.Name)

		case path := <-w.ready:
			w.dispatch(ctx, path)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if last, ok := w.recent.Get(path); ok && last.Equal(info.ModTime()) {
		w.log.Debug("document already handled", slog.String("path", path))
		return
	}
	w.recent.Add(path, info.ModTime())
	w.log.Info("new document detected", slog.String("path", path))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-w.sem }()
		if err := w.handler(ctx, path); err != nil {
			w.log.Error("document failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()
}

func isMarkdown(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
