package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trials (
	idx         INTEGER PRIMARY KEY,
	id          TEXT NOT NULL,
	params      TEXT NOT NULL,
	status      TEXT NOT NULL,
	score       REAL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
)`

// SQLiteStore keeps the trial log in a single-table SQLite database
type SQLiteStore struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	closed bool
	tracker
}

// NewSQLiteStore creates a store for the database file at path. Nothing is
// opened until Load.
func NewSQLiteStore(path string, direction models.Direction, l *slog.Logger) *SQLiteStore {
	return &SQLiteStore{
		path:    path,
		logger:  logger.OrDefault(l),
		tracker: newTracker(direction),
	}
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("history: create directory: %w", err)
	}
	dsn := "file:" + s.path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", s.path, err)
	}
	// one writer; the database is a local file
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return &CorruptHistoryError{Path: s.path, Reason: "cannot initialize trials table", Err: err}
	}
	s.db = db
	return nil
}

// Load implements Store
func (s *SQLiteStore) Load(ctx context.Context) (*RunHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.db == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}
	s.reset()

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, id, params, status, score, error, started_at, finished_at
		 FROM trials ORDER BY idx`)
	if err != nil {
		return nil, &CorruptHistoryError{Path: s.path, Reason: "cannot query trials", Err: err}
	}
	defer rows.Close()

	row := 0
	for rows.Next() {
		row++
		var (
			trial             models.Trial
			params, status    string
			score             sql.NullFloat64
			started, finished string
		)
		if err := rows.Scan(&trial.Index, &trial.ID, &params, &status, &score, &trial.Error, &started, &finished); err != nil {
			return nil, &CorruptHistoryError{Path: s.path, Record: row, Reason: "unreadable row", Err: err}
		}
		if err := json.Unmarshal([]byte(params), &trial.Params); err != nil {
			return nil, &CorruptHistoryError{Path: s.path, Record: row, Reason: "unparsable parameters", Err: err}
		}
		trial.Status = models.TrialStatus(status)
		if score.Valid {
			trial.Score = models.Float64Ptr(score.Float64)
		}
		if trial.StartedAt, err = parseTime(started); err != nil {
			return nil, &CorruptHistoryError{Path: s.path, Record: row, Reason: "bad started_at", Err: err}
		}
		if trial.FinishedAt, err = parseTime(finished); err != nil {
			return nil, &CorruptHistoryError{Path: s.path, Record: row, Reason: "bad finished_at", Err: err}
		}
		if err := checkRecord(trial, len(s.trials)); err != nil {
			return nil, &CorruptHistoryError{Path: s.path, Record: row, Reason: err.Error()}
		}
		s.add(trial)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptHistoryError{Path: s.path, Reason: "cannot iterate trials", Err: err}
	}

	s.logger.Debug("history loaded", "path", s.path, "trials", len(s.trials))
	return s.snapshot(), nil
}

// Append implements Store
func (s *SQLiteStore) Append(ctx context.Context, trial models.Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.db == nil {
		return ErrNotLoaded
	}
	if err := checkRecord(trial, len(s.trials)); err != nil {
		return fmt.Errorf("history: append trial %d: %w", trial.Index, err)
	}

	params, err := json.Marshal(trial.Params)
	if err != nil {
		return fmt.Errorf("history: encode trial %d: %w", trial.Index, err)
	}
	var score sql.NullFloat64
	if trial.Score != nil {
		score = sql.NullFloat64{Float64: *trial.Score, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trials (idx, id, params, status, score, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trial.Index, trial.ID, string(params), string(trial.Status), score, trial.Error,
		formatTime(trial.StartedAt), formatTime(trial.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("history: insert trial %d: %w", trial.Index, err)
	}

	s.add(trial)
	return nil
}

// Best implements Store
func (s *SQLiteStore) Best() (models.Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestTrial()
}

// Trials implements Store
func (s *SQLiteStore) Trials() []models.Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyTrials()
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
