package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"netcontrol/internal/device"
	"netcontrol/internal/manager"
	"netcontrol/internal/store"
)

// portStateTimeout bounds a port enable/disable request toward the provider.
const portStateTimeout = 10 * time.Second

type deviceView struct {
	*device.Device
	Role        device.Role `json:"role"`
	LocalStatus string      `json:"local_status"`
}

func (s *Server) view(d *device.Device) deviceView {
	return deviceView{
		Device:      d,
		Role:        s.mgr.GetRole(d.ID),
		LocalStatus: s.mgr.LocalStatus(d.ID),
	}
}

// parseTypes reads ?type=SWITCH,ROADM into device types.
func parseTypes(r *http.Request) []device.Type {
	var types []device.Type
	for _, v := range r.URL.Query()["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, device.Type(strings.ToUpper(t)))
			}
		}
	}
	return types
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	var (
		devices []*device.Device
		err     error
	)
	if r.URL.Query().Get("available") == "true" {
		devices, err = s.mgr.GetAvailableDevices(parseTypes(r)...)
	} else {
		devices, err = s.mgr.GetDevices(parseTypes(r)...)
	}
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.view(d))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// lookup resolves the {id} path value, writing a 404 when the device is
// unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := device.ID(r.PathValue("id"))
	dev, err := s.mgr.GetDevice(id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "device not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get device", "err", err, "device", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return dev, true
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(dev))
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := device.ID(r.PathValue("id"))
	err := s.mgr.RemoveDevice(id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("delete device", "err", err, "device", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListPorts(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ports, err := s.mgr.GetPorts(dev.ID)
	if err != nil {
		s.logger.Error("list ports", "err", err, "device", dev.ID)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if ports == nil {
		ports = []*device.Port{}
	}
	s.writeJSON(w, http.StatusOK, ports)
}

func (s *Server) handleAPIPortStats(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	stats, err := s.mgr.GetPortStatistics(dev.ID)
	if err != nil {
		s.logger.Error("port statistics", "err", err, "device", dev.ID)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if stats == nil {
		stats = []device.PortStatistics{}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type portStateRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAPIPortState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	port, err := device.ParsePortNumber(r.PathValue("port"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid port number")
		return
	}

	var req portStateRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), portStateTimeout)
	defer cancel()
	err = s.mgr.ChangePortState(ctx, dev.ID, port, *req.Enabled)
	if errors.Is(err, manager.ErrProviderNotFound) {
		s.writeError(w, http.StatusConflict, "no provider for device")
		return
	}
	if err != nil {
		s.logger.Error("change port state", "err", err, "device", dev.ID, "port", port)
		s.writeError(w, http.StatusBadGateway, "provider request failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "enabled": *req.Enabled})
}

func (s *Server) handleAPIRole(w http.ResponseWriter, r *http.Request) {
	id := device.ID(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]any{"device": id, "role": s.mgr.GetRole(id)})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	id := device.ID(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"device":    id,
		"status":    s.mgr.LocalStatus(id),
		"available": s.mgr.IsAvailable(id),
	})
}
