package dnac

import (
	"context"
	"errors"

	"github.com/juju/retry"

	"cfgvault/core-go/internal/failure"
)

var errTaskPending = errors.New("task pending")

// WaitForTask polls taskID until the controller publishes a download URL.
// A task the controller marks as failed returns a Task error carrying the
// device hostname and the reported progress. Running out of attempts
// returns a Timeout error.
func (s *Session) WaitForTask(ctx context.Context, hostname, taskID string) (TaskStatus, error) {
	p := s.client.poll

	var done TaskStatus
	args := retry.CallArgs{
		Func: func() error {
			st, err := s.PollTask(ctx, taskID)
			if err != nil {
				return err
			}
			if st.Failed {
				return failure.TaskFailed(hostname, st.Detail)
			}
			if !st.Done {
				return errTaskPending
			}
			done = st
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errTaskPending)
		},
		Attempts: p.MaxAttempts,
		Delay:    p.Delay,
		Clock:    p.Clock,
		Stop:     ctx.Done(),
	}
	if p.Backoff {
		args.BackoffFunc = retry.DoubleDelay
		args.MaxDelay = p.MaxDelay
	}

	err := retry.Call(args)
	switch {
	case err == nil:
		return done, nil
	case retry.IsAttemptsExceeded(err):
		return TaskStatus{}, &failure.Error{
			Kind:     failure.Timeout,
			Op:       "poll task",
			Hostname: hostname,
			Detail:   "export not ready after maximum poll attempts",
		}
	case retry.IsRetryStopped(err):
		return TaskStatus{}, failure.New(failure.Timeout, "poll task", ctx.Err())
	default:
		return TaskStatus{}, err
	}
}
