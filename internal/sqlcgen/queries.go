package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const upsertController = `-- name: UpsertController :one
INSERT INTO controllers (address)
VALUES ($1)
ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
RETURNING id, address, created_at
`

func (q *Queries) UpsertController(ctx context.Context, address string) (Controller, error) {
	row := q.db.QueryRow(ctx, upsertController, address)
	var i Controller
	err := row.Scan(&i.ID, &i.Address, &i.CreatedAt)
	return i, err
}

const upsertControllerCredentials = `-- name: UpsertControllerCredentials :exec
INSERT INTO controller_credentials (user_id, controller_id, ctrl_user, ctrl_pass, restconf_user, restconf_pass)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, controller_id) DO UPDATE SET
  ctrl_user = EXCLUDED.ctrl_user,
  ctrl_pass = EXCLUDED.ctrl_pass,
  restconf_user = EXCLUDED.restconf_user,
  restconf_pass = EXCLUDED.restconf_pass
`

type UpsertControllerCredentialsParams struct {
	UserID       int64
	ControllerID int64
	CtrlUser     string
	CtrlPass     string
	RestconfUser *string
	RestconfPass *string
}

func (q *Queries) UpsertControllerCredentials(ctx context.Context, arg UpsertControllerCredentialsParams) error {
	_, err := q.db.Exec(ctx, upsertControllerCredentials, arg.UserID, arg.ControllerID, arg.CtrlUser, arg.CtrlPass, arg.RestconfUser, arg.RestconfPass)
	return err
}

const getControllerAccess = `-- name: GetControllerAccess :one
SELECT c.id, cc.user_id, c.address, cc.ctrl_user, cc.ctrl_pass, cc.restconf_user, cc.restconf_pass
FROM controllers c
JOIN controller_credentials cc ON cc.controller_id = c.id
WHERE cc.user_id = $1 AND c.id = $2
`

func (q *Queries) GetControllerAccess(ctx context.Context, userID, controllerID int64) (ControllerAccess, error) {
	row := q.db.QueryRow(ctx, getControllerAccess, userID, controllerID)
	var i ControllerAccess
	err := row.Scan(&i.ControllerID, &i.UserID, &i.Address, &i.CtrlUser, &i.CtrlPass, &i.RestconfUser, &i.RestconfPass)
	return i, err
}

const listControllerAccess = `-- name: ListControllerAccess :many
SELECT c.id, cc.user_id, c.address, cc.ctrl_user, cc.ctrl_pass, cc.restconf_user, cc.restconf_pass
FROM controllers c
JOIN controller_credentials cc ON cc.controller_id = c.id
WHERE cc.user_id = $1
ORDER BY c.id
`

func (q *Queries) ListControllerAccess(ctx context.Context, userID int64) ([]ControllerAccess, error) {
	rows, err := q.db.Query(ctx, listControllerAccess, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ControllerAccess
	for rows.Next() {
		var i ControllerAccess
		if err := rows.Scan(&i.ControllerID, &i.UserID, &i.Address, &i.CtrlUser, &i.CtrlPass, &i.RestconfUser, &i.RestconfPass); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteControllerCredentials = `-- name: DeleteControllerCredentials :execrows
DELETE FROM controller_credentials
WHERE user_id = $1 AND controller_id = $2
`

func (q *Queries) DeleteControllerCredentials(ctx context.Context, userID, controllerID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteControllerCredentials, userID, controllerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markControllerDevicesDisconnected = `-- name: MarkControllerDevicesDisconnected :exec
UPDATE devices SET connected = false
WHERE controller_id = $1
`

func (q *Queries) MarkControllerDevicesDisconnected(ctx context.Context, controllerID int64) error {
	_, err := q.db.Exec(ctx, markControllerDevicesDisconnected, controllerID)
	return err
}

const upsertDevice = `-- name: UpsertDevice :one
INSERT INTO devices (controller_id, uuid, hostname, address, connected)
VALUES ($1, $2, $3, $4, true)
ON CONFLICT (controller_id, uuid) DO UPDATE SET
  hostname = EXCLUDED.hostname,
  address = EXCLUDED.address,
  connected = true
RETURNING id, controller_id, uuid, hostname, address, connected
`

type UpsertDeviceParams struct {
	ControllerID int64
	UUID         string
	Hostname     string
	Address      string
}

func (q *Queries) UpsertDevice(ctx context.Context, arg UpsertDeviceParams) (Device, error) {
	row := q.db.QueryRow(ctx, upsertDevice, arg.ControllerID, arg.UUID, arg.Hostname, arg.Address)
	var i Device
	err := row.Scan(&i.ID, &i.ControllerID, &i.UUID, &i.Hostname, &i.Address, &i.Connected)
	return i, err
}

const listControllerDevices = `-- name: ListControllerDevices :many
SELECT id, controller_id, uuid, hostname, address, connected
FROM devices
WHERE controller_id = $1
ORDER BY hostname, id
`

func (q *Queries) ListControllerDevices(ctx context.Context, controllerID int64) ([]Device, error) {
	rows, err := q.db.Query(ctx, listControllerDevices, controllerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Device
	for rows.Next() {
		var i Device
		if err := rows.Scan(&i.ID, &i.ControllerID, &i.UUID, &i.Hostname, &i.Address, &i.Connected); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getDevice = `-- name: GetDevice :one
SELECT id, controller_id, uuid, hostname, address, connected
FROM devices
WHERE id = $1
`

func (q *Queries) GetDevice(ctx context.Context, id int64) (Device, error) {
	row := q.db.QueryRow(ctx, getDevice, id)
	var i Device
	err := row.Scan(&i.ID, &i.ControllerID, &i.UUID, &i.Hostname, &i.Address, &i.Connected)
	return i, err
}

const insertBackup = `-- name: InsertBackup :one
INSERT INTO backups (device_id, config_type, content)
VALUES ($1, $2, $3)
RETURNING id, device_id, created_at, config_type
`

type InsertBackupParams struct {
	DeviceID   int64
	ConfigType string
	Content    string
}

func (q *Queries) InsertBackup(ctx context.Context, arg InsertBackupParams) (BackupSummary, error) {
	row := q.db.QueryRow(ctx, insertBackup, arg.DeviceID, arg.ConfigType, arg.Content)
	var i BackupSummary
	err := row.Scan(&i.ID, &i.DeviceID, &i.CreatedAt, &i.ConfigType)
	return i, err
}

const getBackup = `-- name: GetBackup :one
SELECT id, device_id, created_at, config_type, content
FROM backups
WHERE id = $1
`

func (q *Queries) GetBackup(ctx context.Context, id int64) (Backup, error) {
	row := q.db.QueryRow(ctx, getBackup, id)
	var i Backup
	err := row.Scan(&i.ID, &i.DeviceID, &i.CreatedAt, &i.ConfigType, &i.Content)
	return i, err
}

const listDeviceBackups = `-- name: ListDeviceBackups :many
SELECT id, device_id, created_at, config_type
FROM backups
WHERE device_id = $1
ORDER BY created_at DESC, id DESC
`

func (q *Queries) ListDeviceBackups(ctx context.Context, deviceID int64) ([]BackupSummary, error) {
	rows, err := q.db.Query(ctx, listDeviceBackups, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BackupSummary
	for rows.Next() {
		var i BackupSummary
		if err := rows.Scan(&i.ID, &i.DeviceID, &i.CreatedAt, &i.ConfigType); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listSearchCandidates = `-- name: ListSearchCandidates :many
SELECT b.id, b.device_id, d.hostname, d.address, b.created_at, b.config_type, b.content
FROM backups b
JOIN devices d ON d.id = b.device_id
WHERE d.controller_id = $1
  AND b.config_type = ANY($2::text[])
ORDER BY b.id
`

func (q *Queries) ListSearchCandidates(ctx context.Context, controllerID int64, configTypes []string) ([]SearchCandidate, error) {
	return q.searchCandidates(ctx, listSearchCandidates, controllerID, configTypes)
}

const listLatestSearchCandidates = `-- name: ListLatestSearchCandidates :many
SELECT * FROM (
  SELECT DISTINCT ON (b.device_id)
    b.id, b.device_id, d.hostname, d.address, b.created_at, b.config_type, b.content
  FROM backups b
  JOIN devices d ON d.id = b.device_id
  WHERE d.controller_id = $1
    AND b.config_type = ANY($2::text[])
  ORDER BY b.device_id, b.created_at DESC, b.id DESC
) latest
ORDER BY latest.id
`

func (q *Queries) ListLatestSearchCandidates(ctx context.Context, controllerID int64, configTypes []string) ([]SearchCandidate, error) {
	return q.searchCandidates(ctx, listLatestSearchCandidates, controllerID, configTypes)
}

func (q *Queries) searchCandidates(ctx context.Context, query string, controllerID int64, configTypes []string) ([]SearchCandidate, error) {
	rows, err := q.db.Query(ctx, query, controllerID, configTypes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SearchCandidate
	for rows.Next() {
		var i SearchCandidate
		if err := rows.Scan(&i.BackupID, &i.DeviceID, &i.Hostname, &i.Address, &i.CreatedAt, &i.ConfigType, &i.Content); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createJob = `-- name: CreateJob :one
INSERT INTO jobs (author_id, controller_id, title, frequency_minutes, activated)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, author_id, controller_id, title, frequency_minutes, activated, created_at
`

type CreateJobParams struct {
	AuthorID         int64
	ControllerID     int64
	Title            string
	FrequencyMinutes int32
	Activated        bool
}

func (q *Queries) CreateJob(ctx context.Context, arg CreateJobParams) (Job, error) {
	row := q.db.QueryRow(ctx, createJob, arg.AuthorID, arg.ControllerID, arg.Title, arg.FrequencyMinutes, arg.Activated)
	var i Job
	err := row.Scan(&i.ID, &i.AuthorID, &i.ControllerID, &i.Title, &i.FrequencyMinutes, &i.Activated, &i.CreatedAt)
	return i, err
}

const getJob = `-- name: GetJob :one
SELECT id, author_id, controller_id, title, frequency_minutes, activated, created_at
FROM jobs
WHERE id = $1 AND author_id = $2
`

func (q *Queries) GetJob(ctx context.Context, id, authorID int64) (Job, error) {
	row := q.db.QueryRow(ctx, getJob, id, authorID)
	var i Job
	err := row.Scan(&i.ID, &i.AuthorID, &i.ControllerID, &i.Title, &i.FrequencyMinutes, &i.Activated, &i.CreatedAt)
	return i, err
}

const listJobsByAuthor = `-- name: ListJobsByAuthor :many
SELECT id, author_id, controller_id, title, frequency_minutes, activated, created_at
FROM jobs
WHERE author_id = $1
ORDER BY created_at DESC, id DESC
`

func (q *Queries) ListJobsByAuthor(ctx context.Context, authorID int64) ([]Job, error) {
	return q.jobs(ctx, listJobsByAuthor, authorID)
}

const listAllJobs = `-- name: ListAllJobs :many
SELECT id, author_id, controller_id, title, frequency_minutes, activated, created_at
FROM jobs
ORDER BY id
`

func (q *Queries) ListAllJobs(ctx context.Context) ([]Job, error) {
	return q.jobs(ctx, listAllJobs)
}

func (q *Queries) jobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Job
	for rows.Next() {
		var i Job
		if err := rows.Scan(&i.ID, &i.AuthorID, &i.ControllerID, &i.Title, &i.FrequencyMinutes, &i.Activated, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateJob = `-- name: UpdateJob :one
UPDATE jobs SET
  controller_id = $3,
  title = $4,
  frequency_minutes = $5,
  activated = $6
WHERE id = $1 AND author_id = $2
RETURNING id, author_id, controller_id, title, frequency_minutes, activated, created_at
`

type UpdateJobParams struct {
	ID               int64
	AuthorID         int64
	ControllerID     int64
	Title            string
	FrequencyMinutes int32
	Activated        bool
}

func (q *Queries) UpdateJob(ctx context.Context, arg UpdateJobParams) (Job, error) {
	row := q.db.QueryRow(ctx, updateJob, arg.ID, arg.AuthorID, arg.ControllerID, arg.Title, arg.FrequencyMinutes, arg.Activated)
	var i Job
	err := row.Scan(&i.ID, &i.AuthorID, &i.ControllerID, &i.Title, &i.FrequencyMinutes, &i.Activated, &i.CreatedAt)
	return i, err
}

const deleteJob = `-- name: DeleteJob :execrows
DELETE FROM jobs
WHERE id = $1 AND author_id = $2
`

func (q *Queries) DeleteJob(ctx context.Context, id, authorID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteJob, id, authorID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
