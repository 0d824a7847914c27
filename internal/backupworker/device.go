package backupworker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/archive"
	"cfgvault/core-go/internal/dnac"
	"cfgvault/core-go/internal/failure"
	"cfgvault/core-go/internal/restconf"
	"cfgvault/core-go/internal/sqlcgen"
)

type runState struct {
	log      zerolog.Logger
	session  Session
	access   sqlcgen.ControllerAccess
	restconf restconf.Credentials
}

type deviceOutcome struct {
	device sqlcgen.Device
	stored int
	err    error
}

// backupDevice exports, downloads and stores one device's configs. Any
// failure is returned in the outcome tagged with the device hostname.
func (r *Runner) backupDevice(ctx context.Context, rs *runState, d sqlcgen.Device) deviceOutcome {
	out := deviceOutcome{device: d}
	log := rs.log.With().Int64("device_id", d.ID).Str("hostname", d.Hostname).Logger()

	stored, err := r.backupCLI(ctx, rs, d)
	out.stored += stored
	if err != nil {
		out.err = failure.WithHostname(err, d.Hostname)
		log.Warn().Err(out.err).Msg("device backup failed")
		return out
	}

	if rs.restconf.Present() && r.restconf != nil {
		if err := r.backupRestconf(ctx, rs, d); err != nil {
			out.err = failure.WithHostname(err, d.Hostname)
			log.Warn().Err(out.err).Msg("restconf snapshot failed")
			return out
		}
		out.stored++
	}

	log.Debug().Int("stored", out.stored).Msg("device backup stored")
	return out
}

func (r *Runner) backupCLI(ctx context.Context, rs *runState, d sqlcgen.Device) (int, error) {
	taskID, err := rs.session.StartArchiveExport(ctx, d.UUID, r.password)
	if err != nil {
		return 0, err
	}
	st, err := rs.session.WaitForTask(ctx, d.Hostname, taskID)
	if err != nil {
		return 0, err
	}
	dl, err := rs.session.Download(ctx, st.DownloadURL)
	if err != nil {
		return 0, err
	}

	path, err := r.spool(rs.access.ControllerID, d.UUID, dl)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			rs.log.Warn().Err(err).Str("path", path).Msg("remove spooled archive")
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, failure.New(failure.Persistence, "read spooled archive", err)
	}
	a, err := archive.Open(data, r.password)
	if err != nil {
		return 0, err
	}
	configs, err := a.Configs()
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, c := range configs {
		if _, err := r.q.InsertBackup(ctx, sqlcgen.InsertBackupParams{
			DeviceID:   d.ID,
			ConfigType: c.ConfigType,
			Content:    c.Content,
		}); err != nil {
			return stored, failure.New(failure.Persistence, "insert backup", err)
		}
		stored++
	}
	return stored, nil
}

func (r *Runner) backupRestconf(ctx context.Context, rs *runState, d sqlcgen.Device) error {
	snap, err := r.restconf.Snapshot(ctx, d.Address, rs.restconf)
	if err != nil {
		return err
	}
	if _, err := r.q.InsertBackup(ctx, sqlcgen.InsertBackupParams{
		DeviceID:   d.ID,
		ConfigType: archive.Restconf,
		Content:    snap,
	}); err != nil {
		return failure.New(failure.Persistence, "insert restconf backup", err)
	}
	return nil
}

// spool writes the downloaded archive under spoolDir/controller/device.
func (r *Runner) spool(controllerID int64, deviceUUID string, dl dnac.Download) (string, error) {
	dir := filepath.Join(r.spoolDir, strconv.FormatInt(controllerID, 10), filepath.Base(deviceUUID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", failure.New(failure.Persistence, "create spool dir", err)
	}
	path := filepath.Join(dir, filepath.Base(dl.Name))
	if err := os.WriteFile(path, dl.Body, 0o600); err != nil {
		return "", failure.New(failure.Persistence, "write spooled archive", err)
	}
	return path, nil
}
