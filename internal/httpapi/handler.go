package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/backupworker"
	"cfgvault/core-go/internal/db"
	"cfgvault/core-go/internal/failure"
	"cfgvault/core-go/internal/metrics"
	"cfgvault/core-go/internal/restconf"
	"cfgvault/core-go/internal/scheduler"
	"cfgvault/core-go/internal/search"
	"cfgvault/core-go/internal/sqlcgen"
)

// UserHeader carries the caller's user id. Requests without it act as
// user 1.
const UserHeader = "X-User-ID"

const defaultUserID int64 = 1

// Store is the query surface the handlers use. *sqlcgen.Queries satisfies it.
type Store interface {
	UpsertController(ctx context.Context, address string) (sqlcgen.Controller, error)
	UpsertControllerCredentials(ctx context.Context, arg sqlcgen.UpsertControllerCredentialsParams) error
	GetControllerAccess(ctx context.Context, userID, controllerID int64) (sqlcgen.ControllerAccess, error)
	ListControllerAccess(ctx context.Context, userID int64) ([]sqlcgen.ControllerAccess, error)
	DeleteControllerCredentials(ctx context.Context, userID, controllerID int64) (int64, error)
	ListControllerDevices(ctx context.Context, controllerID int64) ([]sqlcgen.Device, error)
	GetDevice(ctx context.Context, id int64) (sqlcgen.Device, error)
	GetBackup(ctx context.Context, id int64) (sqlcgen.Backup, error)
	ListDeviceBackups(ctx context.Context, deviceID int64) ([]sqlcgen.BackupSummary, error)
	CreateJob(ctx context.Context, arg sqlcgen.CreateJobParams) (sqlcgen.Job, error)
	GetJob(ctx context.Context, id, authorID int64) (sqlcgen.Job, error)
	ListJobsByAuthor(ctx context.Context, authorID int64) ([]sqlcgen.Job, error)
	UpdateJob(ctx context.Context, arg sqlcgen.UpdateJobParams) (sqlcgen.Job, error)
	DeleteJob(ctx context.Context, id, authorID int64) (int64, error)
}

type BackupRunner interface {
	SyncDevices(ctx context.Context, access sqlcgen.ControllerAccess) ([]sqlcgen.Device, error)
	RunForController(ctx context.Context, userID, controllerID int64, target backupworker.Target, trigger string) (backupworker.Summary, error)
	RunAll(ctx context.Context, userID int64) ([]backupworker.Summary, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

type Restorer interface {
	Restore(ctx context.Context, address string, payload string, creds restconf.Credentials) (int, error)
}

type JobMailbox interface {
	Send(ctx context.Context, a scheduler.Action) error
}

type Options struct {
	Runner   BackupRunner
	Searcher Searcher
	Restorer Restorer
	Mailbox  JobMailbox
	Metrics  *metrics.Metrics
	// RequestTimeout bounds every route except backup runs. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
}

type Handler struct {
	log     zerolog.Logger
	pool    *db.Pool
	store   Store
	runner  BackupRunner
	search  Searcher
	restore Restorer
	mailbox JobMailbox
	metrics *metrics.Metrics

	requestTimeout time.Duration
}

func NewHandler(log zerolog.Logger, pool *db.Pool, opts Options) *Handler {
	h := &Handler{
		log:     log,
		pool:    pool,
		runner:  opts.Runner,
		search:  opts.Searcher,
		restore: opts.Restorer,
		mailbox: opts.Mailbox,
		metrics: opts.Metrics,

		requestTimeout: opts.RequestTimeout,
	}
	if h.requestTimeout <= 0 {
		h.requestTimeout = DefaultRequestTimeout
	}
	if q := pool.Queries(); q != nil {
		h.store = q
	}
	return h
}

const (
	apiPrefix = "/api/v1"

	DefaultRequestTimeout = 15 * time.Second
)

type apiRoute struct {
	method  string
	pattern string
	handler http.HandlerFunc
	// longRunning routes skip the request timeout. Backup runs last as
	// long as the devices take.
	longRunning bool
}

func (h *Handler) apiRoutes() []apiRoute {
	return []apiRoute{
		{http.MethodPost, "/controllers/{id}/backups", h.handleRunControllerBackup, true},
		{http.MethodPost, "/backups/run", h.handleRunAllBackups, true},

		{http.MethodGet, "/controllers", h.handleListControllers, false},
		{http.MethodPost, "/controllers", h.handleCreateController, false},
		{http.MethodDelete, "/controllers/{id}", h.handleDeleteController, false},
		{http.MethodGet, "/controllers/{id}/devices", h.handleListDevices, false},
		{http.MethodPost, "/controllers/{id}/devices/sync", h.handleSyncDevices, false},

		{http.MethodGet, "/devices/{id}/backups", h.handleListDeviceBackups, false},

		{http.MethodGet, "/backups/compare", h.handleCompareBackups, false},
		{http.MethodGet, "/backups/{id}/content", h.handleBackupContent, false},
		{http.MethodPost, "/backups/{id}/restore", h.handleRestoreBackup, false},

		{http.MethodPost, "/search", h.handleSearch, false},

		{http.MethodGet, "/jobs", h.handleListJobs, false},
		{http.MethodPost, "/jobs", h.handleCreateJob, false},
		{http.MethodGet, "/jobs/{id}", h.handleGetJob, false},
		{http.MethodPut, "/jobs/{id}", h.handleUpdateJob, false},
		{http.MethodDelete, "/jobs/{id}", h.handleDeleteJob, false},
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(h.requestTimeout))
		r.Get("/healthz", h.handleHealthz)
		r.Get("/readyz", h.handleReadyZ)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	})

	// API
	r.Route(apiPrefix, func(r chi.Router) {
		timed := r.With(middleware.Timeout(h.requestTimeout))
		for _, rt := range h.apiRoutes() {
			if rt.longRunning {
				r.Method(rt.method, rt.pattern, rt.handler)
				continue
			}
			timed.Method(rt.method, rt.pattern, rt.handler)
		}
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// writeFailure maps a domain failure to an HTTP error.
func (h *Handler) writeFailure(w http.ResponseWriter, err error, msg string) {
	details := map[string]any{"error": err.Error()}
	switch failure.KindOf(err) {
	case failure.Auth:
		h.writeError(w, http.StatusBadGateway, "upstream_auth_failed", msg, details)
	case failure.Network, failure.Task:
		h.writeError(w, http.StatusBadGateway, "upstream_unavailable", msg, details)
	case failure.Timeout:
		h.writeError(w, http.StatusGatewayTimeout, "upstream_timeout", msg, details)
	case failure.Decode:
		h.writeError(w, http.StatusUnprocessableEntity, "decode_failed", msg, details)
	case failure.Persistence:
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, "db_error", msg, nil)
	default:
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) ensureStore(w http.ResponseWriter) bool {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

// userID reads the caller from UserHeader.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get(UserHeader))
	if raw == "" {
		return defaultUserID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_user", "user id must be a positive integer", map[string]any{"header": UserHeader})
		return 0, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := parseID(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", what+" id must be a positive integer", map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isConstraintViolation reports foreign key and check violations, which
// mean the request referenced or carried invalid data.
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" || pgErr.Code == "23514"
	}
	return false
}

// controllerAccess loads the caller's access to a controller, writing a 404
// when the caller holds no credentials for it.
func (h *Handler) controllerAccess(w http.ResponseWriter, r *http.Request, userID, controllerID int64) (sqlcgen.ControllerAccess, bool) {
	access, err := h.store.GetControllerAccess(r.Context(), userID, controllerID)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "not_found", "controller not found", map[string]any{"id": controllerID})
			return access, false
		}
		h.log.Error().Err(err).Int64("controller_id", controllerID).Msg("get controller access failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch controller", nil)
		return access, false
	}
	return access, true
}
