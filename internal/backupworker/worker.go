package backupworker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/dnac"
	"cfgvault/core-go/internal/failure"
	"cfgvault/core-go/internal/inventory"
	"cfgvault/core-go/internal/metrics"
	"cfgvault/core-go/internal/pipeline"
	"cfgvault/core-go/internal/restconf"
	"cfgvault/core-go/internal/sqlcgen"
)

const (
	DefaultWorkers   = 9
	DefaultQueueSize = 10

	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Queries is the minimal DB interface the backup runner needs.
// *sqlcgen.Queries satisfies this.
type Queries interface {
	inventory.Store
	GetControllerAccess(ctx context.Context, userID, controllerID int64) (sqlcgen.ControllerAccess, error)
	ListControllerAccess(ctx context.Context, userID int64) ([]sqlcgen.ControllerAccess, error)
	InsertBackup(ctx context.Context, arg sqlcgen.InsertBackupParams) (sqlcgen.BackupSummary, error)
}

// Session is an authenticated controller connection shared read-only by the
// workers of one run.
type Session interface {
	inventory.Lister
	StartArchiveExport(ctx context.Context, deviceID, password string) (string, error)
	WaitForTask(ctx context.Context, hostname, taskID string) (dnac.TaskStatus, error)
	Download(ctx context.Context, downloadURL string) (dnac.Download, error)
}

type Connector interface {
	Connect(ctx context.Context, creds dnac.Credentials) (Session, error)
}

type ConnectorFunc func(ctx context.Context, creds dnac.Credentials) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, creds dnac.Credentials) (Session, error) {
	return f(ctx, creds)
}

// DNAC adapts a controller client to a Connector.
func DNAC(c *dnac.Client) Connector {
	return ConnectorFunc(func(ctx context.Context, creds dnac.Credentials) (Session, error) {
		s, err := c.Authenticate(ctx, creds)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

type Snapshotter interface {
	Snapshot(ctx context.Context, address string, creds restconf.Credentials) (string, error)
}

type Options struct {
	ArchivePassword string
	SpoolDir        string
	Workers         int
	QueueSize       int
}

type Runner struct {
	log       zerolog.Logger
	q         Queries
	connector Connector
	restconf  Snapshotter
	syncer    *inventory.Syncer
	password  string
	spoolDir  string
	workers   int
	queueSize int
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(log zerolog.Logger, q Queries, connector Connector, snap Snapshotter, opts Options, m *metrics.Metrics) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	spool := opts.SpoolDir
	if strings.TrimSpace(spool) == "" {
		spool = "Backups"
	}

	return &Runner{
		log:       log,
		q:         q,
		connector: connector,
		restconf:  snap,
		syncer:    inventory.New(log, q),
		password:  opts.ArchivePassword,
		spoolDir:  spool,
		workers:   workers,
		queueSize: queueSize,
		metrics:   m,
		now:       time.Now,
	}
}

// Target selects the devices of a run.
type Target struct {
	all bool
	ids map[string]struct{}
}

func AllDevices() Target { return Target{all: true} }

// Devices targets the given controller device ids.
func Devices(ids ...string) Target {
	t := Target{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}
	return t
}

func (t Target) includes(uuid string) bool {
	if t.all {
		return true
	}
	_, ok := t.ids[uuid]
	return ok
}

func credentialsOf(a sqlcgen.ControllerAccess) dnac.Credentials {
	return dnac.Credentials{Address: a.Address, Username: a.CtrlUser, Password: a.CtrlPass}
}

// RestconfCredentials returns the RESTCONF login stored with the access row.
func RestconfCredentials(a sqlcgen.ControllerAccess) restconf.Credentials {
	var c restconf.Credentials
	if a.RestconfUser != nil {
		c.Username = *a.RestconfUser
	}
	if a.RestconfPass != nil {
		c.Password = *a.RestconfPass
	}
	return c
}

// SyncDevices authenticates to the controller and refreshes its device rows.
func (r *Runner) SyncDevices(ctx context.Context, access sqlcgen.ControllerAccess) ([]sqlcgen.Device, error) {
	sess, err := r.connector.Connect(ctx, credentialsOf(access))
	if err != nil {
		return nil, err
	}
	return r.syncer.Sync(ctx, sess, access.ControllerID)
}

// RunBackup backs up the targeted devices of one controller.
func (r *Runner) RunBackup(ctx context.Context, access sqlcgen.ControllerAccess, target Target) Summary {
	return r.run(ctx, access, target, TriggerManual)
}

// RunForController loads the user's access to the controller and runs a
// backup. Lookup errors are returned as-is so callers can map not-found.
func (r *Runner) RunForController(ctx context.Context, userID, controllerID int64, target Target, trigger string) (Summary, error) {
	access, err := r.q.GetControllerAccess(ctx, userID, controllerID)
	if err != nil {
		return Summary{}, err
	}
	return r.run(ctx, access, target, trigger), nil
}

// RunAll backs up every controller the user holds credentials for, one
// controller at a time.
func (r *Runner) RunAll(ctx context.Context, userID int64) ([]Summary, error) {
	all, err := r.q.ListControllerAccess(ctx, userID)
	if err != nil {
		return nil, failure.New(failure.Persistence, "list controllers", err)
	}
	out := make([]Summary, 0, len(all))
	for _, a := range all {
		out = append(out, r.run(ctx, a, AllDevices(), TriggerManual))
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, access sqlcgen.ControllerAccess, target Target, trigger string) Summary {
	sum := Summary{
		RunID:        uuid.NewString(),
		ControllerID: access.ControllerID,
		Started:      r.now(),
	}
	log := r.log.With().Str("run_id", sum.RunID).Int64("controller_id", access.ControllerID).Logger()
	defer func() {
		sum.Finished = r.now()
		r.metrics.ObserveBackupRun(trigger, sum.OK(), sum.Finished.Sub(sum.Started))
		ev := log.Info()
		if !sum.OK() {
			ev = log.Warn()
		}
		ev.Int("devices", sum.Devices).Int("stored", sum.Stored).Int("failures", len(sum.Failures)).Msg("backup run finished")
	}()

	sess, err := r.connector.Connect(ctx, credentialsOf(access))
	if err != nil {
		sum.Failures = append(sum.Failures, controllerFailure(access, err))
		return sum
	}

	devices, err := r.syncer.Sync(ctx, sess, access.ControllerID)
	if err != nil {
		sum.Failures = append(sum.Failures, controllerFailure(access, err))
		return sum
	}

	selected := make([]sqlcgen.Device, 0, len(devices))
	for _, d := range devices {
		if target.includes(d.UUID) {
			selected = append(selected, d)
		}
	}
	sum.Devices = len(selected)
	log.Info().Int("devices", len(selected)).Str("trigger", trigger).Msg("backup run started")

	rs := &runState{
		log:      log,
		session:  sess,
		access:   access,
		restconf: RestconfCredentials(access),
	}
	outcomes := pipeline.Run(ctx, pipeline.Config{Workers: r.workers, QueueSize: r.queueSize}, selected,
		func(ctx context.Context, d sqlcgen.Device) (deviceOutcome, bool) {
			return r.backupDevice(ctx, rs, d), true
		})

	for _, o := range outcomes {
		sum.Stored += o.stored
		if o.err == nil {
			r.metrics.IncDeviceBackup("ok")
			continue
		}
		kind := failure.KindOf(o.err)
		r.metrics.IncDeviceBackup(string(kind))
		sum.Failures = append(sum.Failures, Failure{
			DeviceID: o.device.ID,
			Hostname: o.device.Hostname,
			Kind:     kind,
			Message:  o.err.Error(),
		})
	}
	return sum
}

func controllerFailure(access sqlcgen.ControllerAccess, err error) Failure {
	return Failure{
		Hostname: access.Address,
		Kind:     failure.KindOf(err),
		Message:  fmt.Sprintf("controller %s: %v", access.Address, err),
	}
}
