package stage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// CleanupOptions bounds artifact removal
type CleanupOptions struct {
	MaxAttempts int
	Backoff     utils.BackoffStrategy
	Timeout     time.Duration
}

// Cleaner removes artifacts that may be briefly locked by an external process
type Cleaner struct {
	fs     FileSystem
	opts   CleanupOptions
	logger *slog.Logger
}

// NewCleaner creates a Cleaner with the given bounds
func NewCleaner(fsys FileSystem, opts CleanupOptions, logger *slog.Logger) *Cleaner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff == nil {
		opts.Backoff = utils.NewExponentialBackoff(time.Second, 10*time.Second, 2, false)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	return &Cleaner{fs: fsys, opts: opts, logger: logger}
}

// Remove deletes path, retrying under the configured budget. A missing file
// counts as removed. It returns the number of removal attempts made.
// Cancellation of ctx does not cut the retries short; only Timeout does.
func (c *Cleaner) Remove(ctx context.Context, path string) (int, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
	defer cancel()

	return utils.Retry(rctx, c.opts.MaxAttempts, c.opts.Backoff, func(attempt int) error {
		err := c.fs.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		c.logger.Debug("artifact removal failed", "path", path, "attempt", attempt+1, "error", err)
		return err
	})
}

// ClearStale removes path if it exists. It reports whether a file was found.
func (c *Cleaner) ClearStale(ctx context.Context, path string) (bool, error) {
	if _, err := c.fs.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		// unknown state, try removing anyway
	}
	_, err := c.Remove(ctx, path)
	return true, err
}
