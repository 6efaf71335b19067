package jobsched

import "context"

// JobFunc is the body executed by a worker.
type JobFunc func(ctx context.Context) error

// RangeFunc is the body of a range job; it is called once per sub-unit
// index in [0, n).
type RangeFunc func(ctx context.Context, i int) error

// Job describes a unit of work handed to SubmitJob.
//
// Meta is optional. Meta.Ctx is passed to Fn and carries the job-scoped
// logger; Meta.CleanupFunc, if set, runs once after the job finished or
// was canceled.
type Job struct {
	Name string
	Fn   JobFunc
	Meta *JobMeta
}

// JobMeta carries optional per-job context and cleanup.
type JobMeta struct {
	Ctx         context.Context
	CleanupFunc func()
}

// JobState is a coarse view of a queued job's lifecycle.
type JobState uint8

const (
	JobPending JobState = iota
	JobRunning
	JobDone
	JobCanceled
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobDone:
		return "done"
	case JobCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}
