package httpapi

import (
	"net/http"
	"strings"

	"cfgvault/core-go/internal/backupworker"
	"cfgvault/core-go/internal/sqlcgen"
)

type controller struct {
	ID          int64  `json:"id"`
	Address     string `json:"address"`
	Username    string `json:"username"`
	HasRestconf bool   `json:"restconf_enabled"`
}

type controllerCreate struct {
	Address          string  `json:"address"`
	Username         string  `json:"username"`
	Password         string  `json:"password"`
	RestconfUsername *string `json:"restconf_username,omitempty"`
	RestconfPassword *string `json:"restconf_password,omitempty"`
}

type device struct {
	ID           int64  `json:"id"`
	ControllerID int64  `json:"controller_id"`
	UUID         string `json:"uuid"`
	Hostname     string `json:"hostname"`
	Address      string `json:"address"`
	Connected    bool   `json:"connected"`
}

func toController(a sqlcgen.ControllerAccess) controller {
	return controller{
		ID:          a.ControllerID,
		Address:     a.Address,
		Username:    a.CtrlUser,
		HasRestconf: backupworker.RestconfCredentials(a).Present(),
	}
}

func toDevice(d sqlcgen.Device) device {
	return device{
		ID:           d.ID,
		ControllerID: d.ControllerID,
		UUID:         d.UUID,
		Hostname:     d.Hostname,
		Address:      d.Address,
		Connected:    d.Connected,
	}
}

func toDevices(rows []sqlcgen.Device) []device {
	out := make([]device, 0, len(rows))
	for _, d := range rows {
		out = append(out, toDevice(d))
	}
	return out
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func (h *Handler) handleListControllers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok || !h.ensureStore(w) {
		return
	}

	rows, err := h.store.ListControllerAccess(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("list controllers failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list controllers", nil)
		return
	}

	resp := make([]controller, 0, len(rows))
	for _, a := range rows {
		resp = append(resp, toController(a))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateController(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req controllerCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	req.Username = strings.TrimSpace(req.Username)
	if req.Address == "" || req.Username == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "address, username and password are required", nil)
		return
	}

	if !h.ensureStore(w) {
		return
	}

	ctrl, err := h.store.UpsertController(r.Context(), req.Address)
	if err != nil {
		h.log.Error().Err(err).Str("address", req.Address).Msg("upsert controller failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to store controller", nil)
		return
	}
	params := sqlcgen.UpsertControllerCredentialsParams{
		UserID:       userID,
		ControllerID: ctrl.ID,
		CtrlUser:     req.Username,
		CtrlPass:     req.Password,
		RestconfUser: emptyToNil(req.RestconfUsername),
		RestconfPass: emptyToNil(req.RestconfPassword),
	}
	if err := h.store.UpsertControllerCredentials(r.Context(), params); err != nil {
		h.log.Error().Err(err).Int64("controller_id", ctrl.ID).Msg("upsert controller credentials failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to store controller credentials", nil)
		return
	}

	h.writeJSON(w, http.StatusCreated, toController(sqlcgen.ControllerAccess{
		ControllerID: ctrl.ID,
		UserID:       userID,
		Address:      ctrl.Address,
		CtrlUser:     params.CtrlUser,
		RestconfUser: params.RestconfUser,
		RestconfPass: params.RestconfPass,
	}))
}

func (h *Handler) handleDeleteController(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "controller")
	if !ok || !h.ensureStore(w) {
		return
	}

	n, err := h.store.DeleteControllerCredentials(r.Context(), userID, id)
	if err != nil {
		h.log.Error().Err(err).Int64("controller_id", id).Msg("delete controller credentials failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to delete controller", nil)
		return
	}
	if n == 0 {
		h.writeError(w, http.StatusNotFound, "not_found", "controller not found", map[string]any{"id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "controller")
	if !ok || !h.ensureStore(w) {
		return
	}
	if _, ok := h.controllerAccess(w, r, userID, id); !ok {
		return
	}

	rows, err := h.store.ListControllerDevices(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("controller_id", id).Msg("list devices failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list devices", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toDevices(rows))
}

func (h *Handler) handleSyncDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "controller")
	if !ok || !h.ensureStore(w) {
		return
	}
	if h.runner == nil {
		h.writeError(w, http.StatusServiceUnavailable, "runner_unavailable", "backup runner not configured", nil)
		return
	}
	access, ok := h.controllerAccess(w, r, userID, id)
	if !ok {
		return
	}

	rows, err := h.runner.SyncDevices(r.Context(), access)
	if err != nil {
		h.writeFailure(w, err, "device sync failed")
		return
	}
	h.writeJSON(w, http.StatusOK, toDevices(rows))
}
