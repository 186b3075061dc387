package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/km200-bridge/internal/audit"
)

// handleListAudit returns paginated write audit entries, most recent first.
//
// Query parameters:
//   - path: filter by device path
//   - state: filter by terminal state (confirmed, rejected, failed)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "write audit trail not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Path:  q.Get("path"),
		State: q.Get("state"),
	}
	switch filter.State {
	case "", "confirmed", "rejected", "failed":
	default:
		writeBadRequest(w, "state must be confirmed, rejected or failed")
		return
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list write audit", "error", err)
		writeInternalError(w, "failed to list write audit")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
