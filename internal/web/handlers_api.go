package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"userscript-engine/internal/headless"
	"userscript-engine/internal/registry"
	"userscript-engine/internal/userscript"
)

type dispatchResponse struct {
	URL     string   `json:"url"`
	Event   string   `json:"event"`
	Scripts []string `json:"scripts"`
}

// handleAPIDispatch previews which scripts a page at url would get at event.
func (s *Server) handleAPIDispatch(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "dispatch preview not available"})
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	event := r.URL.Query().Get("event")
	if event == "" {
		event = string(userscript.LifecycleLoad)
	}
	lc, err := userscript.ParseLifecycle(event)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, dispatchResponse{URL: url, Event: string(lc), Scripts: s.engine.Preview(url, lc)})
}

type openPageRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAPIOpenPage(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "headless pages not available"})
		return
	}

	var req openPageRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.URL == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	id, err := s.pool.Open(req.URL)
	if err != nil {
		s.logger.Error("open page", "url", req.URL, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	st, err := s.pool.State(id)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleAPIGetPage(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	st, err := s.pool.State(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIClosePage(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	if err := s.pool.Close(r.PathValue("id")); errors.Is(err, headless.ErrPageNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// writeScriptError maps registry errors to HTTP statuses.
func (s *Server) writeScriptError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
	case errors.Is(err, registry.ErrDuplicateName):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, registry.ErrInvalidScript):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, registry.ErrNotPersisted):
		s.logger.Error(op, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": registry.ErrNotPersisted.Error()})
	default:
		s.logger.Error(op, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
