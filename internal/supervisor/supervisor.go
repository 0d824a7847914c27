// Package supervisor runs the long-lived services of the process under a
// suture supervisor and restarts them when they fail.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

type Supervisor struct {
	root *suture.Supervisor
}

func New(log zerolog.Logger, name string, cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay <= 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	return &Supervisor{root: suture.New(name, suture.Spec{
		EventHook:        EventHook(log),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})}
}

// EventHook writes supervisor events to log. Restarts and timeouts are
// warnings, everything else is informational.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		ev := log.Info()
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate,
			suture.EventTypeStopTimeout, suture.EventTypeBackoff:
			ev = log.Warn()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}

func (s *Supervisor) Add(svc suture.Service) suture.ServiceToken {
	return s.root.Add(svc)
}

// Serve blocks until ctx is cancelled and every service has stopped.
func (s *Supervisor) Serve(ctx context.Context) error {
	return s.root.Serve(ctx)
}

func (s *Supervisor) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return s.root.UnstoppedServiceReport()
}
