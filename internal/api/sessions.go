package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/voicelink-core/internal/capability"
	"github.com/nerrad567/voicelink-core/internal/session"
)

// sessionEntry is one live session in the list response, tagged with the
// gateway connection that owns it.
type sessionEntry struct {
	session.SessionInfo
	Gateway string `json:"gateway"`
}

// deviceServers lists the capability servers visible to one device session.
type deviceServers struct {
	DeviceID string                  `json:"device_id"`
	Gateway  string                  `json:"gateway"`
	Servers  []capability.ServerInfo `json:"servers"`
}

// handleListSessions returns every live session across all gateway
// connections.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	entries := make([]sessionEntry, 0)
	for _, g := range s.gatewaySnapshot() {
		for _, info := range g.manager.Sessions() {
			entries = append(entries, sessionEntry{
				SessionInfo: info,
				Gateway:     g.remote,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": entries,
		"total":    len(entries),
	})
}

// handleStopSession stops the session for a device. Device ids are scoped
// per gateway connection, so a device connected through more than one
// gateway is stopped on all of them.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		writeBadRequest(w, "device id is required")
		return
	}

	stopped := 0
	for _, g := range s.gatewaySnapshot() {
		if _, ok := g.manager.Lookup(deviceID); ok {
			g.manager.Stop(deviceID)
			stopped++
		}
	}

	if stopped == 0 {
		writeNotFound(w, "no live session for device "+deviceID)
		return
	}

	s.logger.Info("session stopped via API", "device_id", deviceID, "count", stopped)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "stopped",
		"device_id": deviceID,
	})
}

// handleListCapabilityServers returns the capability servers each live
// session can currently see, including their connection state.
func (s *Server) handleListCapabilityServers(w http.ResponseWriter, _ *http.Request) {
	devices := make([]deviceServers, 0)
	for _, g := range s.gatewaySnapshot() {
		for _, info := range g.manager.Sessions() {
			sess, ok := g.manager.Lookup(info.DeviceID)
			if !ok {
				continue
			}
			devices = append(devices, deviceServers{
				DeviceID: info.DeviceID,
				Gateway:  g.remote,
				Servers:  sess.Servers(),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}
