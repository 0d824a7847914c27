package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"cfgvault/core-go/internal/scheduler"
	"cfgvault/core-go/internal/sqlcgen"
)

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * minutesPerHour
	minutesPerWeek = 7 * minutesPerDay
)

// frequency is a job interval split into calendar parts.
type frequency struct {
	Weeks   int64 `json:"weeks"`
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
}

func (f frequency) totalMinutes() (int32, error) {
	if f.Weeks < 0 || f.Days < 0 || f.Hours < 0 || f.Minutes < 0 {
		return 0, errors.New("frequency parts must not be negative")
	}
	limit := scheduler.MaxFrequencyMinutes
	if limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	tooLarge := fmt.Errorf("frequency must not exceed %d minutes", limit)
	// Check each part before summing so the arithmetic cannot wrap.
	if f.Weeks > limit/minutesPerWeek || f.Days > limit/minutesPerDay ||
		f.Hours > limit/minutesPerHour || f.Minutes > limit {
		return 0, tooLarge
	}
	total := f.Weeks*minutesPerWeek + f.Days*minutesPerDay + f.Hours*minutesPerHour + f.Minutes
	if total <= 0 {
		return 0, errors.New("frequency must be greater than zero")
	}
	if total > limit {
		return 0, tooLarge
	}
	return int32(total), nil
}

func splitMinutes(total int32) frequency {
	m := int64(total)
	f := frequency{Weeks: m / minutesPerWeek}
	m %= minutesPerWeek
	f.Days = m / minutesPerDay
	m %= minutesPerDay
	f.Hours = m / minutesPerHour
	f.Minutes = m % minutesPerHour
	return f
}

type jobWrite struct {
	Title        string    `json:"title"`
	ControllerID int64     `json:"controller_id"`
	Frequency    frequency `json:"frequency"`
	Activated    *bool     `json:"activated,omitempty"`
}

type job struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	ControllerID     int64     `json:"controller_id"`
	Frequency        frequency `json:"frequency"`
	FrequencyMinutes int32     `json:"frequency_minutes"`
	Activated        bool      `json:"activated"`
	CreatedAt        time.Time `json:"created_at"`
}

func toJob(j sqlcgen.Job) job {
	return job{
		ID:               j.ID,
		Title:            j.Title,
		ControllerID:     j.ControllerID,
		Frequency:        splitMinutes(j.FrequencyMinutes),
		FrequencyMinutes: j.FrequencyMinutes,
		Activated:        j.Activated,
		CreatedAt:        j.CreatedAt,
	}
}

// validate normalises the request and returns the stored frequency.
func (req *jobWrite) validate() (int32, map[string]any) {
	problems := map[string]any{}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		problems["title"] = "title is required"
	}
	if req.ControllerID <= 0 {
		problems["controller_id"] = "controller_id is required"
	}
	minutes, err := req.Frequency.totalMinutes()
	if err != nil {
		problems["frequency"] = err.Error()
	}
	if len(problems) > 0 {
		return 0, problems
	}
	j := scheduler.Job{ControllerID: req.ControllerID, Frequency: scheduler.FrequencyOf(int64(minutes)), Activated: req.activated()}
	if err := j.ValidateSchedule(); err != nil {
		problems["frequency"] = err.Error()
	}
	if len(problems) > 0 {
		return 0, problems
	}
	return minutes, nil
}

func (req jobWrite) activated() bool {
	return req.Activated == nil || *req.Activated
}

// notify hands a persisted change to the scheduler. The row is already
// stored, so a failure here is reported but not rolled back.
func (h *Handler) notify(w http.ResponseWriter, r *http.Request, a scheduler.Action, jobID int64) bool {
	if h.mailbox == nil {
		return true
	}
	if err := h.mailbox.Send(r.Context(), a); err != nil {
		h.log.Error().Err(err).Int64("job_id", jobID).Msg("scheduler notify failed")
		h.writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "job saved but scheduler was not notified", map[string]any{"id": jobID})
		return false
	}
	return true
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok || !h.ensureStore(w) {
		return
	}

	rows, err := h.store.ListJobsByAuthor(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("list jobs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list jobs", nil)
		return
	}
	resp := make([]job, 0, len(rows))
	for _, j := range rows {
		resp = append(resp, toJob(j))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "job")
	if !ok || !h.ensureStore(w) {
		return
	}

	row, err := h.store.GetJob(r.Context(), id, userID)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "not_found", "job not found", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Int64("job_id", id).Msg("get job failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch job", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toJob(row))
}

func (h *Handler) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req jobWrite
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	minutes, problems := req.validate()
	if problems != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid job", problems)
		return
	}

	if !h.ensureStore(w) {
		return
	}
	if _, ok := h.controllerAccess(w, r, userID, req.ControllerID); !ok {
		return
	}

	row, err := h.store.CreateJob(r.Context(), sqlcgen.CreateJobParams{
		AuthorID:         userID,
		ControllerID:     req.ControllerID,
		Title:            req.Title,
		FrequencyMinutes: minutes,
		Activated:        req.activated(),
	})
	if err != nil {
		if isConstraintViolation(err) {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid job", map[string]any{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("create job failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to create job", nil)
		return
	}

	if !h.notify(w, r, scheduler.Create{Job: scheduler.JobFromRow(row)}, row.ID) {
		return
	}
	h.writeJSON(w, http.StatusCreated, toJob(row))
}

func (h *Handler) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "job")
	if !ok {
		return
	}
	var req jobWrite
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	minutes, problems := req.validate()
	if problems != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid job", problems)
		return
	}

	if !h.ensureStore(w) {
		return
	}
	if _, ok := h.controllerAccess(w, r, userID, req.ControllerID); !ok {
		return
	}

	row, err := h.store.UpdateJob(r.Context(), sqlcgen.UpdateJobParams{
		ID:               id,
		AuthorID:         userID,
		ControllerID:     req.ControllerID,
		Title:            req.Title,
		FrequencyMinutes: minutes,
		Activated:        req.activated(),
	})
	if err != nil {
		switch {
		case isNotFound(err):
			h.writeError(w, http.StatusNotFound, "not_found", "job not found", map[string]any{"id": id})
		case isConstraintViolation(err):
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid job", map[string]any{"error": err.Error()})
		default:
			h.log.Error().Err(err).Int64("job_id", id).Msg("update job failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to update job", nil)
		}
		return
	}

	if !h.notify(w, r, scheduler.Update{Job: scheduler.JobFromRow(row)}, row.ID) {
		return
	}
	h.writeJSON(w, http.StatusOK, toJob(row))
}

func (h *Handler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "job")
	if !ok || !h.ensureStore(w) {
		return
	}

	n, err := h.store.DeleteJob(r.Context(), id, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("job_id", id).Msg("delete job failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to delete job", nil)
		return
	}
	if n == 0 {
		h.writeError(w, http.StatusNotFound, "not_found", "job not found", map[string]any{"id": id})
		return
	}

	if !h.notify(w, r, scheduler.Delete{JobID: id}, id) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
