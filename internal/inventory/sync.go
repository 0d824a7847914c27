// Package inventory reconciles a controller's live device list into the
// device table.
package inventory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/dnac"
	"cfgvault/core-go/internal/failure"
	"cfgvault/core-go/internal/sqlcgen"
)

type Store interface {
	MarkControllerDevicesDisconnected(ctx context.Context, controllerID int64) error
	UpsertDevice(ctx context.Context, arg sqlcgen.UpsertDeviceParams) (sqlcgen.Device, error)
}

// Lister is the part of a controller session the sync needs.
type Lister interface {
	ListDevices(ctx context.Context) ([]dnac.DeviceInfo, error)
}

type Syncer struct {
	log   zerolog.Logger
	store Store
}

func New(log zerolog.Logger, store Store) *Syncer {
	return &Syncer{log: log, store: store}
}

// Sync marks every known device of the controller disconnected, then
// upserts each device the controller currently reports as connected.
// It returns the stored rows in inventory order.
func (s *Syncer) Sync(ctx context.Context, session Lister, controllerID int64) ([]sqlcgen.Device, error) {
	live, err := session.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.store.MarkControllerDevicesDisconnected(ctx, controllerID); err != nil {
		return nil, failure.New(failure.Persistence, "mark devices disconnected", err)
	}

	out := make([]sqlcgen.Device, 0, len(live))
	for _, d := range live {
		if strings.TrimSpace(d.ID) == "" {
			s.log.Warn().Int64("controller_id", controllerID).Str("hostname", d.Hostname).Msg("skipping inventory entry without id")
			continue
		}
		row, err := s.store.UpsertDevice(ctx, sqlcgen.UpsertDeviceParams{
			ControllerID: controllerID,
			UUID:         d.ID,
			Hostname:     d.Hostname,
			Address:      d.ManagementIP,
		})
		if err != nil {
			return nil, failure.New(failure.Persistence, "upsert device "+d.Hostname, err)
		}
		out = append(out, row)
	}

	s.log.Info().Int64("controller_id", controllerID).Int("devices", len(out)).Msg("device inventory synced")
	return out, nil
}
