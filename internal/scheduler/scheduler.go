// Package scheduler fires recurring backup jobs.
//
// A single trigger loop owns the set of triggers, keyed by job id. Each
// tick it enqueues the due, activated jobs onto a bounded work queue and
// applies at most one pending mailbox action. A fixed set of consumers
// drains the work queue and runs the backups.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/metrics"
	"cfgvault/core-go/internal/sqlcgen"
)

const (
	DefaultTick        = time.Second
	DefaultConsumers   = 4
	DefaultQueueSize   = 10
	DefaultMailboxSize = 64
)

type Job struct {
	ID           int64
	AuthorID     int64
	ControllerID int64
	Frequency    time.Duration
	Activated    bool
}

// MaxFrequencyMinutes is the longest interval a time.Duration can hold.
const MaxFrequencyMinutes = int64(math.MaxInt64 / int64(time.Minute))

// FrequencyOf converts stored minutes to an interval. Values outside
// (0, MaxFrequencyMinutes] yield zero, which Validate rejects.
func FrequencyOf(minutes int64) time.Duration {
	if minutes <= 0 || minutes > MaxFrequencyMinutes {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

func (j Job) Validate() error {
	var errs []error
	if j.ID <= 0 {
		errs = append(errs, errors.New("job id is required"))
	}
	if err := j.ValidateSchedule(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateSchedule checks everything but the id, so a job can be vetted
// before it is stored.
func (j Job) ValidateSchedule() error {
	var errs []error
	if j.ControllerID <= 0 {
		errs = append(errs, errors.New("controller id is required"))
	}
	if j.Frequency <= 0 {
		errs = append(errs, errors.New("frequency must be positive"))
	}
	return errors.Join(errs...)
}

func JobFromRow(row sqlcgen.Job) Job {
	return Job{
		ID:           row.ID,
		AuthorID:     row.AuthorID,
		ControllerID: row.ControllerID,
		Frequency:    FrequencyOf(int64(row.FrequencyMinutes)),
		Activated:    row.Activated,
	}
}

// Request is one fired trigger handed to the consumers.
type Request struct {
	Job     Job
	FiredAt time.Time
}

type Runner interface {
	RunJob(ctx context.Context, req Request) error
}

type RunnerFunc func(ctx context.Context, req Request) error

func (f RunnerFunc) RunJob(ctx context.Context, req Request) error { return f(ctx, req) }

type Queries interface {
	ListAllJobs(ctx context.Context) ([]sqlcgen.Job, error)
}

type Options struct {
	Tick        time.Duration
	Consumers   int
	QueueSize   int
	MailboxSize int
	Clock       clock.Clock
}

type trigger struct {
	job  Job
	next time.Time
}

type Scheduler struct {
	log       zerolog.Logger
	q         Queries
	runner    Runner
	clock     clock.Clock
	tick      time.Duration
	consumers int
	metrics   *metrics.Metrics

	actions chan Action
	work    chan Request

	// triggers is owned by the trigger loop.
	triggers map[int64]*trigger
}

func New(log zerolog.Logger, q Queries, runner Runner, opts Options, m *metrics.Metrics) *Scheduler {
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	consumers := opts.Consumers
	if consumers <= 0 {
		consumers = DefaultConsumers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	mailboxSize := opts.MailboxSize
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	return &Scheduler{
		log:       log,
		q:         q,
		runner:    runner,
		clock:     clk,
		tick:      tick,
		consumers: consumers,
		metrics:   m,
		actions:   make(chan Action, mailboxSize),
		work:      make(chan Request, queueSize),
		triggers:  make(map[int64]*trigger),
	}
}

// Mailbox returns the send handle for job mutations.
func (s *Scheduler) Mailbox() Mailbox {
	return Mailbox{ch: s.actions}
}

func (s *Scheduler) String() string { return "scheduler" }

// Serve loads persisted jobs and runs the trigger loop and consumers until
// ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	jobs, err := s.q.ListAllJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	now := s.clock.Now()
	s.triggers = make(map[int64]*trigger, len(jobs))
	for _, row := range jobs {
		s.register(JobFromRow(row), now)
	}
	s.log.Info().Int("jobs", len(s.triggers)).Dur("tick", s.tick).Msg("scheduler started")

	work := make(chan Request, cap(s.work))
	s.work = work

	var wg sync.WaitGroup
	wg.Add(s.consumers)
	for i := 0; i < s.consumers; i++ {
		go func() {
			defer wg.Done()
			for req := range work {
				s.consume(ctx, req)
			}
		}()
	}

	defer func() {
		close(work)
		wg.Wait()
		s.log.Info().Msg("scheduler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.tick):
			if err := s.step(ctx, s.clock.Now()); err != nil {
				return err
			}
		}
	}
}

// step is one tick of the trigger loop.
func (s *Scheduler) step(ctx context.Context, now time.Time) error {
	if err := s.fireDue(ctx, now); err != nil {
		return err
	}
	select {
	case a := <-s.actions:
		s.apply(a, now)
	default:
	}
	return nil
}

// fireDue enqueues every due trigger in job id order and reschedules it.
// Inactive jobs are rescheduled without being enqueued.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) error {
	due := make([]*trigger, 0)
	for _, t := range s.triggers {
		if !t.next.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].job.ID < due[j].job.ID })

	for _, t := range due {
		t.next = now.Add(t.job.Frequency)
		if !t.job.Activated {
			s.metrics.IncSchedulerFire("skipped")
			continue
		}
		select {
		case s.work <- Request{Job: t.job, FiredAt: now}:
			s.metrics.IncSchedulerFire("enqueued")
			s.log.Debug().Int64("job_id", t.job.ID).Time("next", t.next).Msg("job triggered")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) apply(a Action, now time.Time) {
	switch a := a.(type) {
	case Create:
		s.register(a.Job, now)
	case Update:
		s.cancel(a.Job.ID)
		s.register(a.Job, now)
	case Delete:
		s.cancel(a.JobID)
	default:
		s.log.Error().Str("action", fmt.Sprintf("%T", a)).Msg("unknown scheduler action")
		return
	}
	s.metrics.IncSchedulerAction(a.kind())
	s.log.Info().Str("action", a.kind()).Int64("job_id", a.jobID()).Int("triggers", len(s.triggers)).Msg("scheduler action applied")
}

func (s *Scheduler) register(j Job, now time.Time) {
	if err := j.Validate(); err != nil {
		s.log.Warn().Err(err).Int64("job_id", j.ID).Msg("ignoring invalid job")
		return
	}
	s.triggers[j.ID] = &trigger{job: j, next: now.Add(j.Frequency)}
}

func (s *Scheduler) cancel(jobID int64) {
	delete(s.triggers, jobID)
}

func (s *Scheduler) consume(ctx context.Context, req Request) {
	if !req.Job.Activated {
		return
	}
	log := s.log.With().Int64("job_id", req.Job.ID).Int64("controller_id", req.Job.ControllerID).Logger()
	if err := s.runner.RunJob(ctx, req); err != nil {
		log.Error().Err(err).Msg("scheduled backup failed")
		return
	}
	log.Debug().Msg("scheduled backup finished")
}
