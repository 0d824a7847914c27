// Package failure defines the error kinds surfaced by controller, archive
// and store operations during backup and search runs.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Auth        Kind = "auth"
	Network     Kind = "network"
	Task        Kind = "task"
	Decode      Kind = "decode"
	Persistence Kind = "persistence"
	Timeout     Kind = "timeout"
	Unknown     Kind = "unknown"
)

// Error is a classified failure. Hostname is set when the failure belongs to
// a single device.
type Error struct {
	Kind     Kind
	Op       string
	Hostname string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Hostname != "" {
		msg += " on " + e.Hostname
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// TaskFailed reports an export task the controller marked as failed.
func TaskFailed(hostname, progress string) *Error {
	return &Error{Kind: Task, Op: "archive export", Hostname: hostname, Detail: progress}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithHostname returns err tagged with hostname. Errors that are not *Error
// are wrapped as Unknown.
func WithHostname(err error, hostname string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Hostname != "" {
			return err
		}
		cp := *fe
		cp.Hostname = hostname
		return &cp
	}
	return &Error{Kind: Unknown, Hostname: hostname, Err: err}
}
