package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"cfgvault/core-go/internal/archive"
	"cfgvault/core-go/internal/backupworker"
	"cfgvault/core-go/internal/sqlcgen"
)

type backupRunRequest struct {
	DeviceIDs []string `json:"device_ids,omitempty"`
}

type backupRun struct {
	backupworker.Summary
	Report string `json:"report"`
}

type backupRuns struct {
	Runs   []backupRun `json:"runs"`
	Report string      `json:"report"`
}

type backup struct {
	ID         int64     `json:"id"`
	DeviceID   int64     `json:"device_id"`
	ConfigType string    `json:"config_type"`
	CreatedAt  time.Time `json:"created_at"`
}

func toBackupRun(s backupworker.Summary) backupRun {
	if s.Failures == nil {
		s.Failures = []backupworker.Failure{}
	}
	return backupRun{Summary: s, Report: s.Report()}
}

func (h *Handler) ensureRunner(w http.ResponseWriter) bool {
	if h.runner == nil {
		h.writeError(w, http.StatusServiceUnavailable, "runner_unavailable", "backup runner not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleRunControllerBackup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "controller")
	if !ok {
		return
	}

	var req backupRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSONStrict(r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
			return
		}
	}
	target := backupworker.AllDevices()
	if len(req.DeviceIDs) > 0 {
		target = backupworker.Devices(req.DeviceIDs...)
	}

	if !h.ensureRunner(w) {
		return
	}

	// The run outlives a dropped client so devices are not left half done.
	ctx := context.WithoutCancel(r.Context())
	sum, err := h.runner.RunForController(ctx, userID, id, target, backupworker.TriggerManual)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "not_found", "controller not found", map[string]any{"id": id})
			return
		}
		h.writeFailure(w, err, "backup run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, toBackupRun(sum))
}

func (h *Handler) handleRunAllBackups(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok || !h.ensureRunner(w) {
		return
	}

	sums, err := h.runner.RunAll(context.WithoutCancel(r.Context()), userID)
	if err != nil {
		h.writeFailure(w, err, "backup run failed")
		return
	}

	resp := backupRuns{Runs: make([]backupRun, 0, len(sums))}
	var all backupworker.Summary
	for _, s := range sums {
		resp.Runs = append(resp.Runs, toBackupRun(s))
		all.Failures = append(all.Failures, s.Failures...)
	}
	resp.Report = all.Report()
	h.writeJSON(w, http.StatusOK, resp)
}

// ownedDevice loads a device and checks the caller holds credentials for
// its controller. Devices of other users' controllers read as not found.
func (h *Handler) ownedDevice(w http.ResponseWriter, r *http.Request, userID, deviceID int64) (sqlcgen.Device, sqlcgen.ControllerAccess, bool) {
	d, err := h.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "not_found", "device not found", map[string]any{"id": deviceID})
			return d, sqlcgen.ControllerAccess{}, false
		}
		h.log.Error().Err(err).Int64("device_id", deviceID).Msg("get device failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch device", nil)
		return d, sqlcgen.ControllerAccess{}, false
	}
	access, err := h.store.GetControllerAccess(r.Context(), userID, d.ControllerID)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "not_found", "device not found", map[string]any{"id": deviceID})
			return d, access, false
		}
		h.log.Error().Err(err).Int64("device_id", deviceID).Msg("get controller access failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch device", nil)
		return d, access, false
	}
	return d, access, true
}

func (h *Handler) ownedBackup(w http.ResponseWriter, r *http.Request, userID, backupID int64) (sqlcgen.Backup, sqlcgen.Device, sqlcgen.ControllerAccess, bool) {
	b, err := h.store.GetBackup(r.Context(), backupID)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "not_found", "backup not found", map[string]any{"id": backupID})
			return b, sqlcgen.Device{}, sqlcgen.ControllerAccess{}, false
		}
		h.log.Error().Err(err).Int64("backup_id", backupID).Msg("get backup failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch backup", nil)
		return b, sqlcgen.Device{}, sqlcgen.ControllerAccess{}, false
	}
	d, access, ok := h.ownedDevice(w, r, userID, b.DeviceID)
	return b, d, access, ok
}

func (h *Handler) handleListDeviceBackups(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "device")
	if !ok || !h.ensureStore(w) {
		return
	}
	if _, _, ok := h.ownedDevice(w, r, userID, id); !ok {
		return
	}

	rows, err := h.store.ListDeviceBackups(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("device_id", id).Msg("list backups failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list backups", nil)
		return
	}
	resp := make([]backup, 0, len(rows))
	for _, b := range rows {
		resp = append(resp, backup{ID: b.ID, DeviceID: b.DeviceID, ConfigType: b.ConfigType, CreatedAt: b.CreatedAt})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBackupContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "backup")
	if !ok || !h.ensureStore(w) {
		return
	}
	b, _, _, ok := h.ownedBackup(w, r, userID, id)
	if !ok {
		return
	}
	h.writeText(w, http.StatusOK, b.Content)
}

func (h *Handler) handleCompareBackups(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	fromID, errFrom := parseID(q.Get("from"))
	toID, errTo := parseID(q.Get("to"))
	if errFrom != nil || errTo != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "from and to must be backup ids", map[string]any{"from": q.Get("from"), "to": q.Get("to")})
		return
	}
	if !h.ensureStore(w) {
		return
	}

	from, fromDev, _, ok := h.ownedBackup(w, r, userID, fromID)
	if !ok {
		return
	}
	to, toDev, _, ok := h.ownedBackup(w, r, userID, toID)
	if !ok {
		return
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(from.Content),
		B:        difflib.SplitLines(to.Content),
		FromFile: backupLabel(fromDev, from),
		ToFile:   backupLabel(toDev, to),
		Context:  3,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("from", fromID).Int64("to", toID).Msg("diff backups failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to compare backups", nil)
		return
	}
	h.writeText(w, http.StatusOK, diff)
}

func backupLabel(d sqlcgen.Device, b sqlcgen.Backup) string {
	return fmt.Sprintf("%s %s %s", d.Hostname, b.ConfigType, b.CreatedAt.UTC().Format(time.RFC3339))
}

func (h *Handler) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "backup")
	if !ok || !h.ensureStore(w) {
		return
	}
	if h.restore == nil {
		h.writeError(w, http.StatusServiceUnavailable, "restconf_unavailable", "restconf client not configured", nil)
		return
	}

	b, d, access, ok := h.ownedBackup(w, r, userID, id)
	if !ok {
		return
	}
	if b.ConfigType != archive.Restconf {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "only RESTCONF backups can be restored", map[string]any{"config_type": b.ConfigType})
		return
	}
	creds := backupworker.RestconfCredentials(access)
	if !creds.Present() {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "controller has no RESTCONF credentials", map[string]any{"controller_id": access.ControllerID})
		return
	}

	status, err := h.restore.Restore(r.Context(), d.Address, b.Content, creds)
	if err != nil {
		h.writeFailure(w, err, "restore failed")
		return
	}
	h.log.Info().Int64("backup_id", b.ID).Int64("device_id", d.ID).Str("hostname", d.Hostname).Int("status_code", status).Msg("restconf restore sent")
	h.writeJSON(w, http.StatusOK, map[string]any{"status_code": status})
}
