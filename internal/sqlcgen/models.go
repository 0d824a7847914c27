package sqlcgen

import "time"

type Controller struct {
	ID        int64
	Address   string
	CreatedAt time.Time
}

// ControllerAccess is a controller joined with one user's credentials.
type ControllerAccess struct {
	ControllerID int64
	UserID       int64
	Address      string
	CtrlUser     string
	CtrlPass     string
	RestconfUser *string
	RestconfPass *string
}

type Device struct {
	ID           int64
	ControllerID int64
	UUID         string
	Hostname     string
	Address      string
	Connected    bool
}

type Backup struct {
	ID         int64
	DeviceID   int64
	CreatedAt  time.Time
	ConfigType string
	Content    string
}

// BackupSummary is a backup row without its content.
type BackupSummary struct {
	ID         int64
	DeviceID   int64
	CreatedAt  time.Time
	ConfigType string
}

// SearchCandidate is a backup joined with the owning device, as loaded by
// the search queries.
type SearchCandidate struct {
	BackupID   int64
	DeviceID   int64
	Hostname   string
	Address    string
	CreatedAt  time.Time
	ConfigType string
	Content    string
}

type Job struct {
	ID               int64
	AuthorID         int64
	ControllerID     int64
	Title            string
	FrequencyMinutes int32
	Activated        bool
	CreatedAt        time.Time
}
