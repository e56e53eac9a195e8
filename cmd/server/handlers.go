package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/loader"
	"github.com/xtding233/experiment-engine/internal/metrics"
	"github.com/xtding233/experiment-engine/internal/sampling"
	"github.com/xtding233/experiment-engine/internal/simulate"
)

const maxBody = 4 << 20

type server struct {
	log      *zap.Logger
	metrics  *metrics.Metrics
	loader   *loader.Loader // nil without --config-dir
	sessions *sessions
}

type errResp struct {
	Err string `json:"err"`
}

type listResp struct {
	Experiments []string `json:"experiments"`
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /simulate", s.handleSimulate)
	mux.HandleFunc("POST /flatten", s.handleFlatten)
	mux.HandleFunc("GET /experiments", s.handleList)
	mux.HandleFunc("GET /experiments/{name}/simulate", s.handleSimulateStored)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/advance", s.handleAdvance)
	mux.HandleFunc("POST /sessions/{id}/back", s.handleBack)
	mux.HandleFunc("POST /sessions/{id}/recalculate", s.handleRecalculate)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errResp{Err: err.Error()})
}

// decodeConfig reads a JSON experiment from the request body. The body is
// checked against the document schema first, so misspelled fields are
// rejected the same way the loader rejects them on disk.
func decodeConfig(w http.ResponseWriter, r *http.Request) (experiment.Config, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return experiment.Config{}, errors.New("invalid experiment json: " + err.Error())
	}
	if !json.Valid(b) {
		return experiment.Config{}, errors.New("invalid experiment json: malformed document")
	}
	if err := loader.CheckSchema(b); err != nil {
		return experiment.Config{}, err
	}
	var cfg experiment.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return experiment.Config{}, errors.New("invalid experiment json: " + err.Error())
	}
	experiment.NormalizeConfig(&cfg)
	if err := experiment.Validate(cfg); err != nil {
		return experiment.Config{}, err
	}
	return cfg, nil
}

// rngFor uses ?seed=N when given so a run can be replayed.
func rngFor(r *http.Request) (sampling.RandomSource, error) {
	s := r.URL.Query().Get("seed")
	if s == "" {
		return sampling.DefaultRNG(), nil
	}
	seed, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, errors.New("invalid seed")
	}
	return sampling.NewSeededRNG(seed), nil
}

func (s *server) simulate(w http.ResponseWriter, r *http.Request, cfg experiment.Config) {
	rng, err := rngFor(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	res, err := simulate.Run(cfg, nil, rng, s.metrics)
	if err != nil {
		s.log.Warn("simulation failed", zap.Error(err))
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.log.Debug("simulated", zap.String("run_id", res.RunID), zap.Int("rounds", len(res.Simulation)))
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.simulate(w, r, cfg)
}

func (s *server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, simulate.Table(cfg))
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		writeErr(w, http.StatusNotFound, errors.New("no config directory configured"))
		return
	}
	names, err := s.loader.Names()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, listResp{Experiments: names})
}

func (s *server) handleSimulateStored(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		writeErr(w, http.StatusNotFound, errors.New("no config directory configured"))
		return
	}
	cfg, err := s.loader.Load(r.PathValue("name"))
	switch {
	case errors.Is(err, loader.ErrNotFound):
		writeErr(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.simulate(w, r, cfg)
}
