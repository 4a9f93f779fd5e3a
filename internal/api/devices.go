package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beotools/beobridge/internal/bridges/mozart"
	"github.com/beotools/beobridge/internal/device"
)

// deviceResponse is one registry entry combined with its live
// connection status when the bridge manages it.
type deviceResponse struct {
	device.Device
	Managed bool   `json:"managed"`
	Role    string `json:"role,omitempty"`
}

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp := deviceResponse{Device: d}
		if s.bridge != nil {
			if role, ok := s.bridge.DeviceRole(d.JID); ok {
				resp.Managed = true
				resp.Role = role.Kind.String()
			}
		}
		out = append(out, resp)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one registry entry by JID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	jid := chi.URLParam(r, "jid")

	d, err := s.registry.GetDevice(r.Context(), jid)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "jid", jid, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	resp := deviceResponse{Device: *d}
	if s.bridge != nil {
		if role, ok := s.bridge.DeviceRole(jid); ok {
			resp.Managed = true
			resp.Role = role.Kind.String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetDeviceState returns the bridge's projected state for a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	jid := chi.URLParam(r, "jid")

	if s.bridge == nil {
		writeNotFound(w, "device not managed by this bridge")
		return
	}

	state, ok := s.bridge.DeviceState(jid)
	if !ok {
		writeNotFound(w, "device not managed by this bridge")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jid":   jid,
		"state": state,
		"ts":    time.Now().UnixMilli(),
	})
}

// roleResponse describes a device's Beolink session membership.
type roleResponse struct {
	JID           string   `json:"jid"`
	Role          string   `json:"role"`
	Leader        string   `json:"leader,omitempty"`
	Listeners     []string `json:"listeners,omitempty"`
	ListenerCount int      `json:"listener_count"`
}

// handleGetDeviceRole returns the device's Beolink role.
func (s *Server) handleGetDeviceRole(w http.ResponseWriter, r *http.Request) {
	jid := chi.URLParam(r, "jid")

	if s.bridge == nil {
		writeNotFound(w, "device not managed by this bridge")
		return
	}

	role, ok := s.bridge.DeviceRole(jid)
	if !ok {
		writeNotFound(w, "device not managed by this bridge")
		return
	}

	writeJSON(w, http.StatusOK, roleResponse{
		JID:           jid,
		Role:          role.Kind.String(),
		Leader:        role.Leader,
		Listeners:     role.Listeners,
		ListenerCount: len(role.Listeners),
	})
}

var _ StateProvider = (*mozart.Bridge)(nil)
