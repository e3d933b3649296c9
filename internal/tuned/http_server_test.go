package tuned

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

func newTestHTTPServer(t *testing.T, trials ...models.Trial) (*HTTPServer, *ProgressStore) {
	t.Helper()
	progress := NewProgressStore("run-http", 8, models.Minimize)
	progress.Start(trials)
	return NewHTTPServer(progress), progress
}

func get(t *testing.T, srv *HTTPServer, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return rr, body
}

func TestHTTPHealthz(t *testing.T) {
	srv, _ := newTestHTTPServer(t)

	rr, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "running", body["phase"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHTTPRun(t *testing.T) {
	srv, _ := newTestHTTPServer(t,
		finished(0, models.TrialSucceeded, 10),
		finished(1, models.TrialSucceeded, 4),
		finished(2, models.TrialFailed, 0),
	)

	rr, body := get(t, srv, "/v1/run")
	require.Equal(t, http.StatusOK, rr.Code)

	run := body["run"].(map[string]any)
	assert.Equal(t, "run-http", run["run_id"])
	assert.Equal(t, "running", run["phase"])
	assert.EqualValues(t, 3, run["completed_trials"])
	assert.EqualValues(t, 2, run["successful_trials"])

	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 3, summary["trials"])
	assert.InDelta(t, 60, summary["improvement_pct"], 1e-9)
	best := summary["best"].(map[string]any)
	assert.EqualValues(t, 1, best["index"])
}

func TestHTTPTrials(t *testing.T) {
	srv, _ := newTestHTTPServer(t,
		finished(0, models.TrialSucceeded, 10),
		finished(1, models.TrialTimedOut, 0),
		finished(2, models.TrialSucceeded, 4),
	)

	tests := []struct {
		name    string
		target  string
		code    int
		indexes []float64
	}{
		{name: "all", target: "/v1/trials", code: http.StatusOK, indexes: []float64{0, 1, 2}},
		{name: "limit", target: "/v1/trials?limit=1", code: http.StatusOK, indexes: []float64{2}},
		{name: "status", target: "/v1/trials?status=timed_out", code: http.StatusOK, indexes: []float64{1}},
		{name: "bad limit", target: "/v1/trials?limit=x", code: http.StatusBadRequest},
		{name: "negative limit", target: "/v1/trials?limit=-1", code: http.StatusBadRequest},
		{name: "pending is not a recorded status", target: "/v1/trials?status=pending", code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := get(t, srv, tt.target)
			require.Equal(t, tt.code, rr.Code)
			if tt.code != http.StatusOK {
				assert.NotEmpty(t, body["error"])
				return
			}
			trials := body["trials"].([]any)
			got := make([]float64, len(trials))
			for i, tr := range trials {
				got[i] = tr.(map[string]any)["index"].(float64)
			}
			assert.Equal(t, tt.indexes, got)
			assert.EqualValues(t, len(tt.indexes), body["count"])
		})
	}
}

func TestHTTPBest(t *testing.T) {
	srv, progress := newTestHTTPServer(t, finished(0, models.TrialFailed, 0))

	rr, body := get(t, srv, "/v1/best")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "no successful trial yet", body["error"])

	progress.Start([]models.Trial{
		finished(0, models.TrialFailed, 0),
		finished(1, models.TrialSucceeded, 2.5),
	})
	rr, body = get(t, srv, "/v1/best")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["index"])
	assert.InDelta(t, 2.5, body["score"], 1e-12)
	assert.Equal(t, []any{map[string]any{"name": "threshold", "value": 1.0}}, body["params"])
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	srv, _ := newTestHTTPServer(t)

	for _, target := range []string{"/v1/run", "/v1/trials", "/v1/best"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, target)
	}
}
