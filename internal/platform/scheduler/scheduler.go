// Package scheduler abstracts the recurring-job capability the enrollment
// engine plans against: register a job that fires once per instant in an
// explicit fire-time list, cancelable by key.
package scheduler

import (
	"context"
	"time"
)

// RepeatingJob is one keyed job with its full planned fire-instant
// sequence. The backing scheduler fires the job at most once per instant
// and retires it after the last one.
type RepeatingJob struct {
	Key       string
	FireTimes []time.Time
	Payload   map[string]string
}

// Handler receives fired jobs.
type Handler func(key string, payload map[string]string)

// JobScheduler is the external scheduler capability.
type JobScheduler interface {
	// ScheduleRepeatingJob registers the job, replacing any job already
	// registered under the same key.
	ScheduleRepeatingJob(ctx context.Context, job RepeatingJob) error
	// CancelJob removes the job registered under key. Unknown keys are a
	// no-op.
	CancelJob(ctx context.Context, key string) error
}
