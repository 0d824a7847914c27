package httpapi

import (
	"net/http"
	"strings"
	"time"

	"cfgvault/core-go/internal/search"
)

type searchRequest struct {
	Scope        string `json:"scope"`
	Filter       string `json:"filter"`
	Query        string `json:"query"`
	ControllerID int64  `json:"controller_id"`
}

type searchResult struct {
	BackupID   int64         `json:"backup_id"`
	DeviceID   int64         `json:"device_id"`
	Hostname   string        `json:"hostname"`
	Address    string        `json:"address"`
	ConfigType string        `json:"config_type"`
	CreatedAt  time.Time     `json:"created_at"`
	Matches    []search.Span `json:"matches"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	scope := strings.ToLower(strings.TrimSpace(req.Scope))
	if scope == "" {
		scope = search.ScopeAll
	}
	if scope != search.ScopeAll && scope != search.ScopeLatest {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "scope must be all or latest", map[string]any{"scope": req.Scope})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "query is required", nil)
		return
	}
	if req.ControllerID <= 0 {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "controller_id is required", nil)
		return
	}

	if !h.ensureStore(w) {
		return
	}
	if h.search == nil {
		h.writeError(w, http.StatusServiceUnavailable, "search_unavailable", "search not configured", nil)
		return
	}
	if _, ok := h.controllerAccess(w, r, userID, req.ControllerID); !ok {
		return
	}

	results, err := h.search.Search(r.Context(), search.Query{
		Scope:        scope,
		Filter:       req.Filter,
		Text:         req.Query,
		ControllerID: req.ControllerID,
	})
	if err != nil {
		h.writeFailure(w, err, "search failed")
		return
	}

	resp := make([]searchResult, 0, len(results))
	for _, res := range results {
		b := res.Backup
		resp = append(resp, searchResult{
			BackupID:   b.BackupID,
			DeviceID:   b.DeviceID,
			Hostname:   b.Hostname,
			Address:    b.Address,
			ConfigType: b.ConfigType,
			CreatedAt:  b.CreatedAt,
			Matches:    res.Matches,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}
