package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtding233/experiment-engine/internal/loader"
	"github.com/xtding233/experiment-engine/internal/metrics"
)

const body = `{
  "params": {
    "value": {"type": "unif", "min": 0, "max": 10},
    "bid": {"type": "student_input", "inputLabel": "Bid", "inputType": "number"},
    "profit": {"type": "equation", "expression": "{{value}} - {{bid}}"}
  },
  "introTemplate": "Value {{value}}",
  "decisionTemplate": "Bid {{bid}}",
  "resultTemplate": "Profit {{profit}} {{typo}}",
  "blocks": [{"id": "b", "label": "Main", "rounds": [{"id": "r1"}, {"id": "r2"}]}]
}`

func newTestServer(t *testing.T, l *loader.Loader) *server {
	t.Helper()
	s := &server{log: zap.NewNop(), metrics: metrics.NewMetrics(), loader: l, sessions: newSessions()}
	t.Cleanup(s.sessions.closeAll)
	return s
}

func do(t *testing.T, s *server, method, target, payload string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestSimulate(t *testing.T) {
	s := newTestServer(t, nil)
	rec, out := do(t, s, http.MethodPost, "/simulate?seed=4", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.NotEmpty(t, out["runId"])
	sim := out["simulation"].([]any)
	require.Len(t, sim, 2)
	first := sim[0].(map[string]any)
	assert.Equal(t, "Main", first["blockLabel"])
	assert.Equal(t, "r1", first["roundId"])
	decision := first["segments"].(map[string]any)["decision"].([]any)
	assert.Equal(t, "input", decision[1].(map[string]any)["type"])

	// same seed, same draws
	_, again := do(t, s, http.MethodPost, "/simulate?seed=4", body)
	assert.Equal(t, out["simulation"], again["simulation"])
}

func TestSimulateErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec, out := do(t, s, http.MethodPost, "/simulate", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["err"], "invalid experiment json")

	rec, out = do(t, s, http.MethodPost, "/simulate", `{"blocks": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["err"], "at least one round")

	cycle := `{"params": {"x": {"type": "equation", "expression": "{{x}}"}}, "blocks": [{"id": "b", "rounds": [{"id": "r"}]}]}`
	rec, out = do(t, s, http.MethodPost, "/simulate", cycle)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["err"], "circular dependency")

	misspelled := `{"params": {"x": {"type": "equation", "expresion": "1"}}, "blocks": [{"id": "b", "rounds": [{"id": "r"}]}]}`
	rec, out = do(t, s, http.MethodPost, "/simulate", misspelled)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["err"], "document shape")

	rec, out = do(t, s, http.MethodPost, "/flatten", misspelled)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["err"], "document shape")

	rec, _ = do(t, s, http.MethodPost, "/simulate?seed=abc", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/simulate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFlatten(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/flatten", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Bid {{bid}}", rows[0]["decisionTemplate"])
	diags := rows[0]["diagnostics"].([]any)
	assert.Equal(t, "typo", diags[0].(map[string]any)["ref"])
}

func TestStoredExperiments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "experiments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "experiments", "auction.json"), []byte(body), 0o644))
	s := newTestServer(t, loader.NewLoader(dir))

	rec, out := do(t, s, http.MethodGet, "/experiments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"auction"}, out["experiments"])

	rec, out = do(t, s, http.MethodGet, "/experiments/auction/simulate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, out["simulation"], 2)

	rec, _ = do(t, s, http.MethodGet, "/experiments/nope/simulate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExperimentsWithoutLoader(t *testing.T) {
	rec, _ := do(t, newTestServer(t, nil), http.MethodGet, "/experiments", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/simulate", body)
	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "experiment_resolutions_total")
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	m := s.metrics
	active := testutil.ToFloat64(m.ActiveEngines)
	advances := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(metrics.TransitionAdvance))
	backs := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(metrics.TransitionBack))
	recalcs := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(metrics.TransitionRecalculate))

	rec, out := do(t, s, http.MethodPost, "/sessions?seed=7", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := out["runId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, active+1, testutil.ToFloat64(m.ActiveEngines))
	assert.Equal(t, 0.0, out["phase"])
	assert.Equal(t, "r1", out["roundId"])
	value := out["params"].(map[string]any)["value"]

	rec, out = do(t, s, http.MethodPost, "/sessions/"+id+"/advance", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, out["phase"])

	rec, out = do(t, s, http.MethodPost, "/sessions/"+id+"/recalculate", `{"inputs": {"bid": 2}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	params := out["params"].(map[string]any)
	assert.Equal(t, value.(float64)-2, params["profit"])
	assert.Equal(t, 2.0, out["inputs"].(map[string]any)["bid"])

	rec, out = do(t, s, http.MethodPost, "/sessions/"+id+"/advance", `{"inputs": {"bid": 2}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, out["phase"])

	rec, out = do(t, s, http.MethodPost, "/sessions/"+id+"/back", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, out["phase"])

	rec, out = do(t, s, http.MethodGet, "/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, out["phase"])
	assert.Equal(t, false, out["finished"])
	assert.NotEmpty(t, out["segments"])

	assert.Equal(t, advances+2, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(metrics.TransitionAdvance)))
	assert.Equal(t, backs+1, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(metrics.TransitionBack)))
	assert.Equal(t, recalcs+1, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues(metrics.TransitionRecalculate)))

	rec, _ = do(t, s, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, active, testutil.ToFloat64(m.ActiveEngines))

	rec, _ = do(t, s, http.MethodGet, "/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, s, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec, out := do(t, s, http.MethodPost, "/sessions", `{"blocks": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["err"], "at least one round")

	rec, _ = do(t, s, http.MethodPost, "/sessions?name=auction", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = do(t, s, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, out = do(t, s, http.MethodPost, "/sessions/"+out["runId"].(string)+"/advance", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["err"], "invalid inputs json")

	rec, _ = do(t, s, http.MethodPost, "/sessions/missing/back", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoredSessionClosedOnShutdown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "experiments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "experiments", "auction.json"), []byte(body), 0o644))
	s := newTestServer(t, loader.NewLoader(dir))
	active := testutil.ToFloat64(s.metrics.ActiveEngines)

	rec, out := do(t, s, http.MethodPost, "/sessions?name=auction&seed=1", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "b", out["blockId"])
	assert.Equal(t, active+1, testutil.ToFloat64(s.metrics.ActiveEngines))

	s.sessions.closeAll()
	assert.Equal(t, active, testutil.ToFloat64(s.metrics.ActiveEngines))
	rec, _ = do(t, s, http.MethodGet, "/sessions/"+out["runId"].(string), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
