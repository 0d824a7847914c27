package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"cfgvault/core-go/internal/sqlcgen"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeJobs struct {
	jobs []sqlcgen.Job
	err  error
}

func (f fakeJobs) ListAllJobs(context.Context) ([]sqlcgen.Job, error) {
	return f.jobs, f.err
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(q Queries, runner Runner) *Scheduler {
	if runner == nil {
		runner = RunnerFunc(func(context.Context, Request) error { return nil })
	}
	return New(zerolog.Nop(), q, runner, Options{Tick: time.Minute, Clock: testclock.NewClock(t0)}, nil)
}

func drainWork(s *Scheduler) []Request {
	var out []Request
	for {
		select {
		case r := <-s.work:
			out = append(out, r)
		default:
			return out
		}
	}
}

func job(id int64, every time.Duration, active bool) Job {
	return Job{ID: id, AuthorID: 1, ControllerID: 7, Frequency: every, Activated: active}
}

func TestServe_firesDueJobs(t *testing.T) {
	clk := testclock.NewClock(t0)
	fired := make(chan Request, 4)
	runner := RunnerFunc(func(_ context.Context, req Request) error {
		fired <- req
		return nil
	})
	q := fakeJobs{jobs: []sqlcgen.Job{
		{ID: 1, AuthorID: 3, ControllerID: 9, FrequencyMinutes: 1, Activated: true},
		{ID: 2, AuthorID: 3, ControllerID: 9, FrequencyMinutes: 1, Activated: false},
	}}
	s := New(zerolog.Nop(), q, runner, Options{Tick: time.Minute, Clock: clk}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	if err := clk.WaitAdvance(time.Minute, time.Second, 1); err != nil {
		t.Fatalf("expected trigger loop to wait on the clock, got %v", err)
	}

	select {
	case req := <-fired:
		if req.Job.ID != 1 || req.Job.ControllerID != 9 || req.Job.AuthorID != 3 {
			t.Fatalf("expected job 1 for controller 9, got %+v", req.Job)
		}
		if !req.FiredAt.Equal(t0.Add(time.Minute)) {
			t.Fatalf("expected fire time %v, got %v", t0.Add(time.Minute), req.FiredAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected job 1 to fire")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Serve to return after cancel")
	}

	select {
	case req := <-fired:
		t.Fatalf("expected inactive job to stay quiet, got %+v", req.Job)
	default:
	}
}

func TestServe_loadError(t *testing.T) {
	s := newTestScheduler(fakeJobs{err: errors.New("db down")}, nil)
	err := s.Serve(context.Background())
	if err == nil {
		t.Fatalf("expected load error")
	}
}

func TestStep_firesInIDOrderAndReschedules(t *testing.T) {
	s := newTestScheduler(fakeJobs{}, nil)
	s.apply(Create{Job: job(3, time.Minute, true)}, t0)
	s.apply(Create{Job: job(1, time.Minute, true)}, t0)
	s.apply(Create{Job: job(2, 5*time.Minute, true)}, t0)

	if err := s.step(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("step: %v", err)
	}
	got := drainWork(s)
	if len(got) != 2 || got[0].Job.ID != 1 || got[1].Job.ID != 3 {
		t.Fatalf("expected jobs 1 and 3 in order, got %+v", got)
	}
	if next := s.triggers[1].next; !next.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("expected job 1 rescheduled for %v, got %v", t0.Add(2*time.Minute), next)
	}

	// Nothing due between firings.
	if err := s.step(context.Background(), t0.Add(90*time.Second)); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got := drainWork(s); len(got) != 0 {
		t.Fatalf("expected no requests, got %+v", got)
	}
}

func TestStep_inactiveJobSkippedButRescheduled(t *testing.T) {
	s := newTestScheduler(fakeJobs{}, nil)
	s.apply(Create{Job: job(5, time.Minute, false)}, t0)

	if err := s.step(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got := drainWork(s); len(got) != 0 {
		t.Fatalf("expected inactive job not enqueued, got %+v", got)
	}
	if next := s.triggers[5].next; !next.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("expected inactive job rescheduled, got %v", next)
	}
}

func TestStep_appliesAtMostOneAction(t *testing.T) {
	s := newTestScheduler(fakeJobs{}, nil)
	mb := s.Mailbox()
	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		if err := mb.Send(ctx, Create{Job: job(id, time.Hour, true)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	for want := 1; want <= 3; want++ {
		if err := s.step(ctx, t0); err != nil {
			t.Fatalf("step: %v", err)
		}
		if len(s.triggers) != want {
			t.Fatalf("expected %d triggers after step %d, got %d", want, want, len(s.triggers))
		}
	}
}

func TestApply_updateReplacesTrigger(t *testing.T) {
	s := newTestScheduler(fakeJobs{}, nil)
	s.apply(Create{Job: job(1, 10*time.Minute, true)}, t0)
	s.apply(Update{Job: job(1, time.Minute, true)}, t0)

	if len(s.triggers) != 1 {
		t.Fatalf("expected one trigger, got %d", len(s.triggers))
	}
	if err := s.step(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("step: %v", err)
	}
	got := drainWork(s)
	if len(got) != 1 || got[0].Job.Frequency != time.Minute {
		t.Fatalf("expected a single request with the new frequency, got %+v", got)
	}
}

func TestApply_updateCanDeactivate(t *testing.T) {
	s := newTestScheduler(fakeJobs{}, nil)
	s.apply(Create{Job: job(1, time.Minute, true)}, t0)
	s.apply(Update{Job: job(1, time.Minute, false)}, t0)

	if err := s.step(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got := drainWork(s); len(got) != 0 {
		t.Fatalf("expected deactivated job not to fire, got %+v", got)
	}
}

func TestApply_delete(t *testing.T) {
	s := newTestScheduler(fakeJobs{}, nil)
	s.apply(Create{Job: job(1, time.Minute, true)}, t0)
	s.apply(Delete{JobID: 1}, t0)
	s.apply(Delete{JobID: 42}, t0)

	if len(s.triggers) != 0 {
		t.Fatalf("expected no triggers, got %d", len(s.triggers))
	}
}

func TestApply_invalidJobIgnored(t *testing.T) {
	s := newTestScheduler(fakeJobs{}, nil)
	s.apply(Create{Job: job(1, 0, true)}, t0)
	if len(s.triggers) != 0 {
		t.Fatalf("expected invalid job to be ignored, got %d triggers", len(s.triggers))
	}
}

func TestConsume_dropsInactiveRequests(t *testing.T) {
	var mu sync.Mutex
	var ran []int64
	s := newTestScheduler(fakeJobs{}, RunnerFunc(func(_ context.Context, req Request) error {
		mu.Lock()
		ran = append(ran, req.Job.ID)
		mu.Unlock()
		return errors.New("controller unreachable")
	}))

	s.consume(context.Background(), Request{Job: job(1, time.Minute, false), FiredAt: t0})
	s.consume(context.Background(), Request{Job: job(2, time.Minute, true), FiredAt: t0})

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != 2 {
		t.Fatalf("expected only job 2 to run, got %v", ran)
	}
}

func TestMailboxSend_respectsContext(t *testing.T) {
	s := New(zerolog.Nop(), fakeJobs{}, nil, Options{MailboxSize: 1}, nil)
	mb := s.Mailbox()
	if err := mb.Send(context.Background(), Delete{JobID: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mb.Send(ctx, Delete{JobID: 2}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled on a full mailbox, got %v", err)
	}
}

func TestJobValidate(t *testing.T) {
	if err := job(1, time.Minute, true).Validate(); err != nil {
		t.Fatalf("expected valid job, got %v", err)
	}
	bad := Job{}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for empty job")
	}
}

func TestJobFromRow(t *testing.T) {
	j := JobFromRow(sqlcgen.Job{ID: 4, AuthorID: 2, ControllerID: 8, FrequencyMinutes: 1500, Activated: true})
	if j.Frequency != 25*time.Hour {
		t.Fatalf("expected 25h, got %v", j.Frequency)
	}
	if j.ID != 4 || j.AuthorID != 2 || j.ControllerID != 8 || !j.Activated {
		t.Fatalf("unexpected job %+v", j)
	}
}

func TestJobFromRow_overflowingFrequencyIsInvalid(t *testing.T) {
	j := JobFromRow(sqlcgen.Job{ID: 4, ControllerID: 8, FrequencyMinutes: int32(MaxFrequencyMinutes + 1), Activated: true})
	if j.Frequency != 0 {
		t.Fatalf("expected zero frequency, got %v", j.Frequency)
	}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}

	j = JobFromRow(sqlcgen.Job{ID: 4, ControllerID: 8, FrequencyMinutes: int32(MaxFrequencyMinutes), Activated: true})
	if j.Frequency <= 0 {
		t.Fatalf("expected positive frequency at the limit, got %v", j.Frequency)
	}
}

func TestJobValidateSchedule_ignoresID(t *testing.T) {
	j := Job{ControllerID: 7, Frequency: time.Hour}
	if err := j.ValidateSchedule(); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected Validate to require an id")
	}
	if err := (Job{ControllerID: 7}).ValidateSchedule(); err == nil {
		t.Fatalf("expected error for zero frequency")
	}
}
