package stage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

func testCleaner(fsys FileSystem, attempts int, timeout time.Duration) *Cleaner {
	return NewCleaner(fsys, CleanupOptions{
		MaxAttempts: attempts,
		Backoff:     utils.NewConstantBackoff(5 * time.Millisecond),
		Timeout:     timeout,
	}, logger.New("error", io.Discard))
}

func TestCleanerRemove(t *testing.T) {
	fsys := newMemFS()
	require.NoError(t, fsys.WriteFile("/t/out.json", []byte("{}"), 0o644))

	attempts, err := testCleaner(fsys, 3, time.Second).Remove(context.Background(), "/t/out.json")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, fsys.has("/t/out.json"))
}

func TestCleanerRemoveMissingFile(t *testing.T) {
	attempts, err := testCleaner(newMemFS(), 3, time.Second).Remove(context.Background(), "/t/out.json")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCleanerRemoveExhaustsAttempts(t *testing.T) {
	fsys := newMemFS()
	fsys.removeErr = errors.New("resource busy")

	attempts, err := testCleaner(fsys, 4, time.Second).Remove(context.Background(), "/t/out.json")
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, fsys.removeCount())
}

func TestCleanerRemoveIgnoresCallerCancellation(t *testing.T) {
	fsys := newMemFS()
	fsys.removeErr = errors.New("resource busy")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := testCleaner(fsys, 3, time.Second).Remove(ctx, "/t/out.json")
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCleanerRemoveBoundedByTimeout(t *testing.T) {
	fsys := newMemFS()
	fsys.removeErr = errors.New("resource busy")

	start := time.Now()
	_, err := testCleaner(fsys, 1000, 30*time.Millisecond).Remove(context.Background(), "/t/out.json")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCleanerClearStale(t *testing.T) {
	fsys := newMemFS()
	c := testCleaner(fsys, 2, time.Second)

	found, err := c.ClearStale(context.Background(), "/t/out.json")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, fsys.removeCount())

	require.NoError(t, fsys.WriteFile("/t/out.json", []byte("{}"), 0o644))
	found, err = c.ClearStale(context.Background(), "/t/out.json")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, fsys.has("/t/out.json"))
}
