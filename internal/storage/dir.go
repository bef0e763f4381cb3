package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	dirLayout      = "060102_1504"
	recentRunLimit = 256
)

// Dir writes each run into its own directory under root, named after the time
// the run was first saved. A name already taken gets a _1, _2, ... suffix.
type Dir struct {
	root   string
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	runs *lru.Cache[string, string]
}

func NewDir(root string, logger *slog.Logger) (*Dir, error) {
	runs, err := lru.New[string, string](recentRunLimit)
	if err != nil {
		return nil, fmt.Errorf("create run cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{
		root:   root,
		now:    time.Now,
		logger: logger.With(slog.String("component", "storage")),
		runs:   runs,
	}, nil
}

func (d *Dir) Save(ctx context.Context, runID string, objects []Object) (string, error) {
	dir, err := d.runDir(runID)
	if err != nil {
		return "", err
	}
	var total uint64
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return dir, err
		}
		if err := writeFileAtomic(filepath.Join(dir, obj.Name), obj.Data); err != nil {
			return dir, err
		}
		total += uint64(len(obj.Data))
	}
	d.logger.Info("artifacts written",
		slog.String("run_id", runID),
		slog.String("dir", dir),
		slog.Int("files", len(objects)),
		slog.String("size", humanize.Bytes(total)))
	return dir, nil
}

// runDir returns the directory of runID, creating it on first use.
func (d *Dir) runDir(runID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dir, ok := d.runs.Get(runID); ok {
		return dir, nil
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return "", fmt.Errorf("create output root: %w", err)
	}
	base := d.now().Format(dirLayout)
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		dir := filepath.Join(d.root, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			d.runs.Add(runID, dir)
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create run directory: %w", err)
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
