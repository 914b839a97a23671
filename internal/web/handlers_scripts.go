package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"userscript-engine/internal/headless"
	"userscript-engine/internal/importer"
	"userscript-engine/internal/userscript"
)

const maxBodyBytes = 1 << 20

type saveScriptRequest struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	URLs    string `json:"urls"`
	Enabled *bool  `json:"isEnabled"`
	RunAt   string `json:"runAt"`
}

// toScript builds the record to save. Omitted isEnabled and runAt take the
// defaults of a new script.
func (req saveScriptRequest) toScript() *userscript.Script {
	sc := userscript.NewScript(req.Name, req.Code)
	sc.URLs = req.URLs
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}
	if req.RunAt != "" {
		sc.RunAt = userscript.RunAt(req.RunAt)
	}
	return sc
}

func (s *Server) decodeScript(w http.ResponseWriter, r *http.Request) (*userscript.Script, bool) {
	var req saveScriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return nil, false
	}
	return req.toScript(), true
}

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scripts.List())
}

func (s *Server) handleAPIGetScript(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scripts.Get(r.PathValue("name"))
	if err != nil {
		s.writeScriptError(w, "get script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleAPICreateScript(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.decodeScript(w, r)
	if !ok {
		return
	}
	if err := s.scripts.Add(sc); err != nil {
		s.writeScriptError(w, "create script", err)
		return
	}
	s.respondSaved(w, http.StatusCreated, sc.Name)
}

func (s *Server) handleAPIUpdateScript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sc, ok := s.decodeScript(w, r)
	if !ok {
		return
	}
	if sc.Name == "" {
		sc.Name = name
	}
	if err := s.scripts.Update(name, sc); err != nil {
		s.writeScriptError(w, "update script", err)
		return
	}
	s.respondSaved(w, http.StatusOK, sc.Name)
}

func (s *Server) handleAPIDeleteScript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.scripts.Get(name); err != nil {
		s.writeScriptError(w, "delete script", err)
		return
	}
	if err := s.scripts.Remove(name); err != nil {
		s.writeScriptError(w, "delete script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIToggleScript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.scripts.Toggle(name); err != nil {
		s.writeScriptError(w, "toggle script", err)
		return
	}
	s.respondSaved(w, http.StatusOK, name)
}

// handleAPIImportScript takes raw userscript source as the body.
func (s *Server) handleAPIImportScript(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	sc, err := importer.Import(string(body))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.scripts.Add(sc); err != nil {
		s.writeScriptError(w, "import script", err)
		return
	}
	s.respondSaved(w, http.StatusCreated, sc.Name)
}

// respondSaved writes the stored form of name, metadata included.
func (s *Server) respondSaved(w http.ResponseWriter, status int, name string) {
	saved, err := s.scripts.Get(name)
	if err != nil {
		s.writeScriptError(w, "read saved script", err)
		return
	}
	s.writeJSON(w, status, saved)
}

type runRequest struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

// handleAPIRunScript runs a stored script, enabled or not, on a fresh
// headless page.
func (s *Server) handleAPIRunScript(w http.ResponseWriter, r *http.Request) {
	if s.headlessConfig == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "headless runs not available"})
		return
	}
	sc, err := s.scripts.Get(r.PathValue("name"))
	if err != nil {
		s.writeScriptError(w, "run script", err)
		return
	}
	var req runRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.runHeadless(w, r, sc.Wrap(), req.URL)
}

// handleAPIRunInline wraps and runs code that is not stored.
func (s *Server) handleAPIRunInline(w http.ResponseWriter, r *http.Request) {
	if s.headlessConfig == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "headless runs not available"})
		return
	}
	var req runRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Code == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}
	src := userscript.GreasemonkeyEnvironment(req.Code, userscript.ParseMetadata(req.Code))
	s.runHeadless(w, r, src, req.URL)
}

func (s *Server) runHeadless(w http.ResponseWriter, r *http.Request, source, url string) {
	if url == "" {
		url = "about:blank"
	}
	res, err := headless.Run(r.Context(), *s.headlessConfig, source, url)
	if err != nil {
		s.logger.Error("headless run", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
