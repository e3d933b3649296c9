package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONLStore keeps one JSON record per line and fsyncs every append
type JSONLStore struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
	tracker
}

// NewJSONLStore creates a store for path. Nothing is read until Load.
func NewJSONLStore(path string, direction models.Direction, l *slog.Logger) *JSONLStore {
	return &JSONLStore{
		path:    path,
		logger:  logger.OrDefault(l),
		tracker: newTracker(direction),
	}
}

// Path returns the log file path
func (s *JSONLStore) Path() string {
	return s.path
}

// Load replays the log. A final line without a trailing newline is a torn
// write: it is kept if it decodes to a valid record and truncated otherwise.
func (s *JSONLStore) Load(ctx context.Context) (*RunHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.reset()

	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("history: read %s: %w", s.path, err)
	}

	offset, line := 0, 0
	truncateAt, terminate := -1, false
	for offset < len(data) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++

		end := bytes.IndexByte(data[offset:], '\n')
		if end < 0 {
			torn := data[offset:]
			trial, err := decodeRecord(torn)
			if err == nil {
				err = checkRecord(trial, len(s.trials))
			}
			if err != nil {
				s.logger.Warn("dropping torn final history record", "path", s.path, "line", line, "bytes", len(torn), "reason", err)
				truncateAt = offset
				s.repaired = true
			} else {
				s.add(trial)
				terminate = true
			}
			break
		}

		raw := data[offset : offset+end]
		offset += end + 1
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		trial, err := decodeRecord(raw)
		if err != nil {
			return nil, &CorruptHistoryError{Path: s.path, Record: line, Reason: "unparsable record", Err: err}
		}
		if err := checkRecord(trial, len(s.trials)); err != nil {
			return nil, &CorruptHistoryError{Path: s.path, Record: line, Reason: err.Error()}
		}
		s.add(trial)
	}

	if truncateAt >= 0 {
		if err := os.Truncate(s.path, int64(truncateAt)); err != nil {
			return nil, fmt.Errorf("history: truncate torn record: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", s.path, err)
	}
	if terminate {
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return nil, fmt.Errorf("history: terminate final record: %w", err)
		}
	}
	s.file = f

	s.logger.Debug("history loaded", "path", s.path, "trials", len(s.trials))
	return s.snapshot(), nil
}

// Append implements Store
func (s *JSONLStore) Append(ctx context.Context, trial models.Trial) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.file == nil {
		return ErrNotLoaded
	}
	if err := checkRecord(trial, len(s.trials)); err != nil {
		return fmt.Errorf("history: append trial %d: %w", trial.Index, err)
	}

	data, err := json.Marshal(trial)
	if err != nil {
		return fmt.Errorf("history: encode trial %d: %w", trial.Index, err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("history: write trial %d: %w", trial.Index, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("history: sync trial %d: %w", trial.Index, err)
	}

	s.add(trial)
	return nil
}

// Best implements Store
func (s *JSONLStore) Best() (models.Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestTrial()
}

// Trials implements Store
func (s *JSONLStore) Trials() []models.Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyTrials()
}

// Close implements Store
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func decodeRecord(raw []byte) (models.Trial, error) {
	var trial models.Trial
	if err := json.Unmarshal(raw, &trial); err != nil {
		return models.Trial{}, err
	}
	return trial, nil
}
