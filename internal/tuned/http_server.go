package tuned

import (
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/GoSim-25-26J-441/tuning-core/internal/improvement"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultTrialLimit caps /v1/trials when no limit is given
const defaultTrialLimit = 100

type HTTPServer struct {
	mux      *http.ServeMux
	progress *ProgressStore
}

func NewHTTPServer(progress *ProgressStore) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		progress: progress,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/run", s.handleRun)
	s.mux.HandleFunc("/v1/trials", s.handleTrials)
	s.mux.HandleFunc("/v1/best", s.handleBest)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"phase":     s.progress.Snapshot().Phase,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRun returns the run snapshot with a summary of the recorded trials
func (s *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.progress.Snapshot()
	summary := improvement.Summarize(s.progress.All(), snap.Direction)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run":     snap,
		"summary": summary,
	})
}

// handleTrials lists trials; supports ?status= and ?limit=
func (s *HTTPServer) handleTrials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	limit := defaultTrialLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var status models.TrialStatus
	if raw := query.Get("status"); raw != "" {
		status = models.TrialStatus(raw)
		if !status.Terminal() {
			s.writeError(w, http.StatusBadRequest, "unknown trial status: "+raw)
			return
		}
	}

	trials := s.progress.Trials(status, limit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": s.progress.Snapshot().RunID,
		"trials": trials,
		"count":  len(trials),
	})
}

func (s *HTTPServer) handleBest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	best, ok := s.progress.Best()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no successful trial yet")
		return
	}
	s.writeJSON(w, http.StatusOK, best)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}
