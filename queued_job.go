package jobsched

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"
)

// canceledMark is stored in the claim word of a job canceled before any
// sub-unit was claimed. It is never a valid sub-unit count.
const canceledMark = math.MaxUint32

// QueuedJob is a submitted unit of work and the handle returned to the
// submitter.
//
// Every job owns a claim word. Workers race on it with compare-and-swap;
// a plain job has a single sub-unit, so exactly one claim ever succeeds
// and its body runs at most once. Range jobs hand out one sub-unit index
// per successful claim.
type QueuedJob struct {
	name    string
	prio    Priority
	ctx     context.Context
	fn      RangeFunc
	cleanup func()
	units   uint32

	// next is the next sub-unit to hand out, or canceledMark.
	next     atomic.Uint32
	finished atomic.Uint32
	// ran is set once any sub-unit body was entered.
	ran atomic.Bool

	err  atomic.Pointer[error]
	done chan struct{}

	owner *Scheduler
}

func newQueuedJob(owner *Scheduler, name string, prio Priority, units uint32, fn RangeFunc, meta *JobMeta) *QueuedJob {
	j := &QueuedJob{
		name:  name,
		prio:  prio,
		ctx:   context.Background(),
		fn:    fn,
		units: units,
		done:  make(chan struct{}),
		owner: owner,
	}
	if meta != nil {
		if meta.Ctx != nil {
			j.ctx = meta.Ctx
		}
		j.cleanup = meta.CleanupFunc
	}
	return j
}

// TryExecute claims the next sub-unit of the job and runs it on the
// calling goroutine. It returns false, without side effects, when another
// worker already claimed the job (or all of its sub-units), or when the
// job was canceled.
//
// Failures of the body, including panics, are reported through the
// scheduler's error channel and never escape TryExecute.
func (j *QueuedJob) TryExecute(workerID int) bool {
	idx, ok := j.claim()
	if !ok {
		return false
	}
	j.run(workerID, idx)
	return true
}

func (j *QueuedJob) claim() (uint32, bool) {
	for {
		n := j.next.Load()
		if n >= j.units {
			return 0, false
		}
		if j.next.CompareAndSwap(n, n+1) {
			return n, true
		}
		statJobClaimMiss()
	}
}

// claimable reports whether a claim could still succeed.
func (j *QueuedJob) claimable() bool {
	return j.next.Load() < j.units
}

func (j *QueuedJob) run(workerID int, idx uint32) {
	if cerr := j.ctx.Err(); cerr != nil {
		lg.FromContext(j.ctx).Info("Job canceled before execution",
			lg.String("job", j.name),
			lg.Any("reason", cerr),
		)
		j.setErr(cerr)
	} else {
		j.ran.Store(true)
		if jerr := j.call(workerID, idx); jerr != nil {
			j.setErr(jerr)
			if j.owner != nil {
				j.owner.metrics.IncFailed(j.prio)
				j.owner.reportJobError(j.ctx, jerr)
			}
		}
	}

	// Jobs whose context ended before any sub-unit ran are not counted
	// as executed.
	if j.finished.Add(1) == j.units {
		if j.owner != nil && j.ran.Load() {
			j.owner.metrics.IncExecuted(j.prio)
		}
		j.finish()
	}
}

func (j *QueuedJob) call(workerID int, idx uint32) (jerr *JobError) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			jerr = &JobError{
				Name:     j.name,
				Priority: j.prio,
				WorkerID: workerID,
				Unit:     int(idx),
				Panic:    true,
				Stack:    debug.Stack(),
				Err:      err,
			}
		}
	}()

	if err := j.fn(j.ctx, int(idx)); err != nil {
		return &JobError{
			Name:     j.name,
			Priority: j.prio,
			WorkerID: workerID,
			Unit:     int(idx),
			Err:      err,
		}
	}
	return nil
}

// finish runs exactly once per job: after the last sub-unit, or on a
// successful Cancel.
func (j *QueuedJob) finish() {
	if j.cleanup != nil {
		func() {
			defer func() {
				if r := recover(); r != nil && j.owner != nil {
					j.owner.reportInternalError(fmt.Errorf("job %q cleanup panicked: %v", j.name, r))
				}
			}()
			j.cleanup()
		}()
	}
	close(j.done)
}

func (j *QueuedJob) setErr(err error) {
	j.err.CompareAndSwap(nil, &err)
}

// Cancel prevents the job from running. It only succeeds while no
// sub-unit has been claimed yet.
func (j *QueuedJob) Cancel() bool {
	if !j.next.CompareAndSwap(0, canceledMark) {
		return false
	}
	j.setErr(ErrJobCanceled)
	j.finish()
	return true
}

// withdraw takes back an unclaimed job without finishing it. The job is
// never run and its cleanup is skipped.
func (j *QueuedJob) withdraw() bool {
	return j.next.CompareAndSwap(0, canceledMark)
}

// Done is closed when the job finished or was canceled.
func (j *QueuedJob) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is done or ctx ends. It returns the first
// error recorded for the job.
func (j *QueuedJob) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the first error recorded for the job, if any.
func (j *QueuedJob) Err() error {
	if p := j.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (j *QueuedJob) State() JobState {
	n := j.next.Load()
	switch {
	case n == canceledMark:
		return JobCanceled
	case j.finished.Load() >= j.units:
		return JobDone
	case n > 0:
		return JobRunning
	default:
		return JobPending
	}
}

func (j *QueuedJob) Name() string       { return j.name }
func (j *QueuedJob) Priority() Priority { return j.prio }

// Units returns the number of sub-units; 1 for plain jobs.
func (j *QueuedJob) Units() int { return int(j.units) }
