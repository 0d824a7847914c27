package backupworker

import (
	"strings"
	"time"

	"cfgvault/core-go/internal/failure"
)

const successReport = "Backup operation completed successfully!"

// Failure is one device, or the controller itself, that could not be
// backed up. DeviceID is zero for controller-level failures.
type Failure struct {
	DeviceID int64        `json:"device_id,omitempty"`
	Hostname string       `json:"hostname"`
	Kind     failure.Kind `json:"kind"`
	Message  string       `json:"message"`
}

type Summary struct {
	RunID        string    `json:"run_id"`
	ControllerID int64     `json:"controller_id"`
	Devices      int       `json:"devices"`
	Stored       int       `json:"backups_stored"`
	Failures     []Failure `json:"failures"`
	Started      time.Time `json:"started_at"`
	Finished     time.Time `json:"finished_at"`
}

func (s Summary) OK() bool { return len(s.Failures) == 0 }

// Report renders the run as a single human readable line.
func (s Summary) Report() string {
	if s.OK() {
		return successReport
	}
	msgs := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		msgs = append(msgs, f.Message)
	}
	return "Errors: " + strings.Join(msgs, ", ")
}
