package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

const (
	archiveStamp    = "20060102T150405.000000000"
	trialDirPattern = "trial-[0-9]*"
)

// Backend selects the store implementation
type Backend string

const (
	BackendJSONL  Backend = "jsonl"
	BackendSQLite Backend = "sqlite"
)

// Options configures Open
type Options struct {
	Backend   Backend
	Path      string
	Direction models.Direction
	// Resume continues an existing log; otherwise any existing log is moved
	// aside and a fresh one is started
	Resume bool
	// WorkDir holds the trial directories written against this log. A fresh
	// start moves them into <WorkDir>/prev-<timestamp> so that stage
	// checkpoints never outlive their history.
	WorkDir string
	Logger  *slog.Logger
}

// New creates an unloaded store for the backend
func New(backend Backend, path string, direction models.Direction, l *slog.Logger) (Store, error) {
	switch backend {
	case BackendJSONL, "":
		return NewJSONLStore(path, direction, l), nil
	case BackendSQLite:
		return NewSQLiteStore(path, direction, l), nil
	default:
		return nil, fmt.Errorf("history: unknown backend %q", backend)
	}
}

// Open creates and loads the store. On resume a corrupt log is fatal. On a
// fresh start an existing log is archived, or quarantined if corrupt, and an
// empty log takes its place.
func Open(ctx context.Context, opts Options) (Store, *RunHistory, error) {
	log := logger.OrDefault(opts.Logger)

	if !opts.Resume {
		if err := moveAside(ctx, opts, log); err != nil {
			return nil, nil, err
		}
		if err := archiveTrialDirs(opts.WorkDir, log); err != nil {
			return nil, nil, err
		}
	}

	store, err := New(opts.Backend, opts.Path, opts.Direction, log)
	if err != nil {
		return nil, nil, err
	}
	h, err := store.Load(ctx)
	if err != nil {
		store.Close()
		var corrupt *CorruptHistoryError
		if errors.As(err, &corrupt) {
			return nil, nil, fmt.Errorf("cannot resume, start a fresh run to quarantine the log: %w", err)
		}
		return nil, nil, err
	}
	if opts.Resume {
		log.Info("resuming from history", "path", opts.Path, "trials", h.Len(), "successes", h.Successes())
	}
	return store, h, nil
}

func moveAside(ctx context.Context, opts Options, log *slog.Logger) error {
	if _, err := os.Stat(opts.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("history: stat %s: %w", opts.Path, err)
	}

	existing, err := New(opts.Backend, opts.Path, opts.Direction, log)
	if err != nil {
		return err
	}
	_, loadErr := existing.Load(ctx)
	existing.Close()

	var corrupt *CorruptHistoryError
	switch {
	case loadErr == nil:
		dest, err := Archive(opts.Path)
		if err != nil {
			return err
		}
		log.Info("archived previous history", "path", opts.Path, "archive", dest)
	case errors.As(loadErr, &corrupt):
		dest, err := Quarantine(opts.Path)
		if err != nil {
			return err
		}
		log.Warn("quarantined corrupt history", "path", opts.Path, "quarantine", dest, "reason", loadErr)
	default:
		return loadErr
	}
	return nil
}

func archiveTrialDirs(workDir string, log *slog.Logger) error {
	if workDir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(workDir, trialDirPattern))
	if err != nil {
		return fmt.Errorf("history: list trial directories: %w", err)
	}
	var dirs []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	if len(dirs) == 0 {
		return nil
	}

	dest := filepath.Join(workDir, "prev-"+time.Now().UTC().Format(archiveStamp))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("history: create %s: %w", dest, err)
	}
	for _, dir := range dirs {
		if err := os.Rename(dir, filepath.Join(dest, filepath.Base(dir))); err != nil {
			return fmt.Errorf("history: move %s aside: %w", dir, err)
		}
	}
	log.Info("archived previous trial directories", "work_dir", workDir, "archive", dest, "trials", len(dirs))
	return nil
}

// Quarantine renames a corrupt log to <path>.corrupt-<timestamp>
func Quarantine(path string) (string, error) {
	return renameAside(path, "corrupt")
}

// Archive renames an existing log to <path>.prev-<timestamp>
func Archive(path string) (string, error) {
	return renameAside(path, "prev")
}

func renameAside(path, tag string) (string, error) {
	dest := fmt.Sprintf("%s.%s-%s", path, tag, time.Now().UTC().Format(archiveStamp))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("history: move %s aside: %w", path, err)
	}
	return dest, nil
}
