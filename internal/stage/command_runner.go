package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// CommandRunner launches one shell command per stage. Jobs run detached from
// the caller's context and are never killed on cancellation.
type CommandRunner struct {
	// Shell defaults to /bin/sh
	Shell  string
	Env    []string
	Logger *slog.Logger
}

// Expand substitutes {trial_dir}, {overrides}, {stage} and {trial} in command
func Expand(command string, req StageRequest) string {
	return strings.NewReplacer(
		"{trial_dir}", req.TrialDir,
		"{overrides}", req.OverridesPath,
		"{stage}", req.Stage,
		"{trial}", strconv.Itoa(req.TrialIndex),
	).Replace(command)
}

// Start implements Runner
func (r *CommandRunner) Start(_ context.Context, req StageRequest) (Handle, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	logPath := filepath.Join(req.TrialDir, req.Stage+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stage log: %w", err)
	}

	cmd := exec.Command(shell, "-c", Expand(req.Command, req))
	cmd.Dir = req.TrialDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env,
		"TUNER_STAGE="+req.Stage,
		"TUNER_TRIAL="+strconv.Itoa(req.TrialIndex),
		"TUNER_TRIAL_DIR="+req.TrialDir,
		"TUNER_OVERRIDES="+req.OverridesPath,
	)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", req.Stage, err)
	}

	h := &commandHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer logFile.Close()
		err := cmd.Wait()

		h.mu.Lock()
		h.err = err
		h.mu.Unlock()

		if r.Logger != nil {
			r.Logger.Debug("stage command exited", "stage", req.Stage, "trial", req.TrialIndex, "error", err)
		}
	}()
	return h, nil
}

type commandHandle struct {
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (h *commandHandle) Status() (JobState, error) {
	select {
	case <-h.done:
	default:
		return JobRunning, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return JobFailed, h.err
	}
	return JobSucceeded, nil
}
