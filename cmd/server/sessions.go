package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/xtding233/experiment-engine/internal/engine"
	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/loader"
	"github.com/xtding233/experiment-engine/internal/template"
)

var errNoSession = errors.New("session not found")

// session serializes access to one engine; engines are not safe for
// concurrent use.
type session struct {
	mu  sync.Mutex
	eng *engine.Engine
}

type sessions struct {
	mu   sync.Mutex
	byID map[string]*session
}

func newSessions() *sessions {
	return &sessions{byID: make(map[string]*session)}
}

func (ss *sessions) add(e *engine.Engine) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.byID[e.RunID()] = &session{eng: e}
}

func (ss *sessions) get(id string) (*session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.byID[id]
	return s, ok
}

func (ss *sessions) remove(id string) (*session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.byID[id]
	delete(ss.byID, id)
	return s, ok
}

// closeAll closes every live engine and forgets it.
func (ss *sessions) closeAll() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for id, s := range ss.byID {
		s.mu.Lock()
		s.eng.Close()
		s.mu.Unlock()
		delete(ss.byID, id)
	}
}

type sessionState struct {
	engine.Status
	Segments []template.Segment      `json:"segments"`
	Params   map[string]any          `json:"params"`
	Inputs   map[string]any          `json:"inputs"`
	History  []experiment.HistoryRow `json:"history"`
}

func stateOf(e *engine.Engine) sessionState {
	return sessionState{
		Status:   e.Status(),
		Segments: e.Render(),
		Params:   e.ResolvedParams().Values(),
		Inputs:   e.StudentInputs(),
		History:  e.HistoryTable(),
	}
}

type inputsReq struct {
	Inputs map[string]any `json:"inputs"`
}

// handleCreateSession starts an engine from a JSON experiment body, or from
// a stored experiment when ?name= is given.
func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var (
		cfg experiment.Config
		err error
	)
	if name := r.URL.Query().Get("name"); name != "" {
		if s.loader == nil {
			writeErr(w, http.StatusNotFound, errors.New("no config directory configured"))
			return
		}
		cfg, err = s.loader.Load(name)
		if errors.Is(err, loader.ErrNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
	} else {
		cfg, err = decodeConfig(w, r)
	}
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rng, err := rngFor(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	e, err := engine.New(cfg,
		engine.WithRNG(rng),
		engine.WithLogger(s.log),
		engine.WithMetrics(s.metrics))
	if err != nil {
		s.log.Warn("session start failed", zap.Error(err))
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.sessions.add(e)
	s.log.Info("session started", zap.String("run_id", e.RunID()))
	writeJSON(w, http.StatusCreated, stateOf(e))
}

// withSession runs fn under the session lock and replies with the state
// it leaves behind.
func (s *server) withSession(w http.ResponseWriter, r *http.Request, fn func(*engine.Engine) error) {
	sess, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		writeErr(w, http.StatusNotFound, errNoSession)
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if fn != nil {
		if err := fn(sess.eng); err != nil {
			writeErr(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, stateOf(sess.eng))
}

// decodeInputs reads an optional {"inputs": {...}} body.
func decodeInputs(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	var req inputsReq
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid inputs json: " + err.Error())
	}
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}
	return req.Inputs, nil
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, nil)
}

func (s *server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	inputs, err := decodeInputs(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.withSession(w, r, func(e *engine.Engine) error { return e.Advance(inputs) })
}

func (s *server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	inputs, err := decodeInputs(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.withSession(w, r, func(e *engine.Engine) error { return e.Recalculate(inputs) })
}

func (s *server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(e *engine.Engine) error { return e.GoBack() })
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.remove(r.PathValue("id"))
	if !ok {
		writeErr(w, http.StatusNotFound, errNoSession)
		return
	}
	sess.mu.Lock()
	sess.eng.Close()
	sess.mu.Unlock()
	s.log.Info("session closed", zap.String("run_id", sess.eng.RunID()))
	w.WriteHeader(http.StatusNoContent)
}
