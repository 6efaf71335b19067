package jobsched

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPriority is returned when a priority is outside the
	// levels the scheduler was built with.
	ErrInvalidPriority = errors.New("jobsched: invalid priority")

	// ErrNilFunc is returned when a submitted Job has a nil Fn.
	ErrNilFunc = errors.New("jobsched: job func is nil")

	// ErrInvalidRange is returned by SubmitRange for n < 1.
	ErrInvalidRange = errors.New("jobsched: range must contain at least one sub-unit")

	// ErrStopped is returned for submissions after Stop, including ones
	// that raced Stop and were taken back before any worker claimed them.
	// Submissions made before the first Start are accepted and run once
	// workers start.
	ErrStopped = errors.New("jobsched: scheduler stopped")

	// ErrNilItem is returned when nil is enqueued into a RingBuffer.
	// nil marks a free slot.
	ErrNilItem = errors.New("ringbuffer: nil item")

	// ErrBufferFull is wrapped by EnqueueContext when the context ends
	// before a slot became free.
	ErrBufferFull = errors.New("ringbuffer: buffer full")

	// ErrJobCanceled is reported by QueuedJob.Wait for jobs canceled
	// before any worker claimed them.
	ErrJobCanceled = errors.New("jobsched: job canceled")

	// ErrPinUnsupported is returned by PinToCPU on platforms without
	// thread affinity support.
	ErrPinUnsupported = errors.New("jobsched: cpu pinning not supported on this platform")

	ErrInvalidConfig = errors.New("jobsched: invalid config")
)

// JobError describes a failed job execution.
//
// It is delivered through Options.OnJobError; submission and execution are
// decoupled, so execution failures never reach the submitter directly.
type JobError struct {
	Name     string
	Priority Priority
	WorkerID int

	// Unit is the sub-unit index for range jobs, 0 otherwise.
	Unit int

	// Panic is set when Err was recovered from a panic; Stack holds the
	// goroutine stack at recovery time.
	Panic bool
	Stack []byte

	Err error
}

func (e *JobError) Error() string {
	name := e.Name
	if name == "" {
		name = "<unnamed>"
	}
	if e.Panic {
		return fmt.Sprintf("job %s (prio %d, worker %d): panic: %v", name, e.Priority, e.WorkerID, e.Err)
	}
	return fmt.Sprintf("job %s (prio %d, worker %d): %v", name, e.Priority, e.WorkerID, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
