package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"netcontrol/internal/device"
	"netcontrol/internal/overlay"
	"netcontrol/internal/script"
)

type scriptView struct {
	*script.Script
	Running bool `json:"running"`
}

func (s *Server) scriptView(sc *script.Script) scriptView {
	return scriptView{Script: sc, Running: s.engine != nil && s.engine.IsRunning(sc.ID)}
}

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	if s.scripts == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	scripts, err := s.scripts.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]scriptView, 0, len(scripts))
	for _, sc := range scripts {
		views = append(views, s.scriptView(sc))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// getScript resolves the {id} path value, writing an error response when the
// script cannot be loaded.
func (s *Server) getScript(w http.ResponseWriter, r *http.Request) (*script.Script, bool) {
	if s.scripts == nil {
		s.writeError(w, http.StatusNotFound, "scripts not available")
		return nil, false
	}
	id := r.PathValue("id")
	sc, err := s.scripts.Get(id)
	switch {
	case err == nil:
		return sc, true
	case errors.Is(err, script.ErrInvalidID):
		s.writeError(w, http.StatusBadRequest, "invalid script id")
	case errors.Is(err, fs.ErrNotExist):
		s.writeError(w, http.StatusNotFound, "script not found")
	default:
		s.logger.Error("get script", "err", err, "id", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
	return nil, false
}

func (s *Server) handleAPIGetScript(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.getScript(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.scriptView(sc))
}

type saveScriptRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	LuaCode     string         `json:"lua_code"`
	Enabled     bool           `json:"enabled"`
	Kinds       []overlay.Kind `json:"kinds"`
}

func (req *saveScriptRequest) valid() string {
	if req.Name == "" {
		return "name is required"
	}
	for _, k := range req.Kinds {
		switch k {
		case overlay.KindBasic, overlay.KindOptical, overlay.KindAnnotations:
		default:
			return "unknown config kind " + string(k)
		}
	}
	return ""
}

func (s *Server) decodeScript(w http.ResponseWriter, r *http.Request) (*saveScriptRequest, bool) {
	var req saveScriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if msg := req.valid(); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return nil, false
	}
	return &req, true
}

// save writes the script and brings its operator in line with Enabled.
func (s *Server) save(w http.ResponseWriter, sc *script.Script, status int) {
	saved, err := s.scripts.Save(sc)
	if err != nil {
		s.logger.Error("save script", "err", err, "id", sc.ID)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.engine != nil {
		if err := s.engine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script", "id", saved.ID, "err", err)
			s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  err.Error(),
				"script": s.scriptView(saved),
			})
			return
		}
	}
	s.writeJSON(w, status, s.scriptView(saved))
}

func (s *Server) handleAPICreateScript(w http.ResponseWriter, r *http.Request) {
	if s.scripts == nil {
		s.writeError(w, http.StatusNotFound, "scripts not available")
		return
	}
	req, ok := s.decodeScript(w, r)
	if !ok {
		return
	}
	s.save(w, &script.Script{
		Meta: script.Meta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
			Kinds:       req.Kinds,
		},
		LuaCode: req.LuaCode,
	}, http.StatusCreated)
}

func (s *Server) handleAPIUpdateScript(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.getScript(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeScript(w, r)
	if !ok {
		return
	}
	existing.Meta = script.Meta{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
		Kinds:       req.Kinds,
	}
	existing.LuaCode = req.LuaCode
	s.save(w, existing, http.StatusOK)
}

func (s *Server) handleAPIDeleteScript(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.getScript(w, r)
	if !ok {
		return
	}
	if s.engine != nil {
		s.engine.StopScript(sc.ID)
	}
	if err := s.scripts.Delete(sc.ID); err != nil {
		s.logger.Error("delete script", "err", err, "id", sc.ID)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runScriptRequest struct {
	// ID selects a saved script; LuaCode is used when ID is empty.
	ID      string                  `json:"id"`
	LuaCode string                  `json:"lua_code"`
	Device  device.ID               `json:"device"`
	Port    *device.PortDescription `json:"port"`
}

func (s *Server) handleAPIRunScript(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, http.StatusNotFound, "scripts not available")
		return
	}
	var req runScriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code := req.LuaCode
	if req.ID != "" {
		sc, err := s.scripts.Get(req.ID)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "script not found")
			return
		}
		code = sc.LuaCode
	}
	cp := device.ConnectPoint{Device: req.Device}
	if req.Port != nil {
		cp.Port = req.Port.Number
	}
	s.writeJSON(w, http.StatusOK, s.engine.RunLuaCode(code, cp, req.Port))
}
