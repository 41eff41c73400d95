package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/voicelink-core/internal/audit"
)

// handleListInvocations returns paginated tool invocation records with
// optional filters.
//
// Query parameters:
//   - device_id: filter by device
//   - server: filter by capability server name
//   - outcome: filter by outcome (success, tool_error, transport_error)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID:   q.Get("device_id"),
		ServerName: q.Get("server"),
		Outcome:    q.Get("outcome"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list tool invocations", "error", err)
		writeInternalError(w, "failed to list tool invocations")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
