package scheduler

import "context"

// Action is a job mutation sent to the scheduler: Create, Update or Delete.
type Action interface {
	jobID() int64
	kind() string
}

// Create registers a trigger for the job, replacing any trigger with the
// same id.
type Create struct{ Job Job }

// Update cancels the job's trigger and registers it again.
type Update struct{ Job Job }

type Delete struct{ JobID int64 }

func (a Create) jobID() int64 { return a.Job.ID }
func (a Update) jobID() int64 { return a.Job.ID }
func (a Delete) jobID() int64 { return a.JobID }

func (Create) kind() string { return "create" }
func (Update) kind() string { return "update" }
func (Delete) kind() string { return "delete" }

// Mailbox is the send-only handle the API layer holds.
type Mailbox struct {
	ch chan<- Action
}

// Send queues a for the trigger loop. It only blocks when the mailbox
// buffer is full.
func (m Mailbox) Send(ctx context.Context, a Action) error {
	select {
	case m.ch <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
