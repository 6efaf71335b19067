package jobsched

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WorkerState is the coarse activity of a worker, for diagnostics.
type WorkerState uint32

const (
	WorkerScanning WorkerState = iota
	WorkerExecuting
	WorkerParked
	WorkerTerminated
)

func (s WorkerState) String() string {
	switch s {
	case WorkerScanning:
		return "scanning"
	case WorkerExecuting:
		return "executing"
	case WorkerParked:
		return "parked"
	case WorkerTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("WorkerState(%d)", uint32(s))
	}
}

type worker struct {
	id   int
	s    *Scheduler
	log  *zap.Logger
	wake chan struct{}
	stop <-chan struct{}

	state atomic.Uint32
}

func newWorker(s *Scheduler, id int, stop <-chan struct{}) *worker {
	return &worker{
		id:   id,
		s:    s,
		log:  s.log.With(zap.Int("worker", id)),
		wake: make(chan struct{}, 1),
		stop: stop,
	}
}

func (w *worker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *worker) setState(st WorkerState) { w.state.Store(uint32(st)) }

// signal wakes the worker if it is parked. A pending signal is kept, so a
// worker about to park returns immediately.
func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *worker) run() {
	defer w.s.wg.Done()
	defer w.setState(WorkerTerminated)

	if w.s.opts.PinWorkers {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		cpu := w.id % runtime.NumCPU()
		if err := PinToCPU(cpu); err != nil {
			w.s.reportInternalError(fmt.Errorf("worker %d: pin to cpu %d: %w", w.id, cpu, err))
		}
	}

	var stamp uint32
	for {
		if w.stopped() && (!w.s.opts.DrainOnStop || w.s.forceSingle.Load()) {
			return
		}

		if w.s.forceSingle.Load() {
			if !w.pollSingleThread() {
				return
			}
			continue
		}

		if w.sweep(&stamp) {
			continue
		}

		// A full sweep found nothing to claim.
		if !w.stopped() {
			w.s.reg.compact()
			if w.park(stamp) {
				continue
			}
		}
		// Submissions accepted before Stop can land after the sweep began.
		if w.s.opts.DrainOnStop && w.s.reg.stamp.Load() != stamp {
			continue
		}
		return
	}
}

// pollSingleThread idles while the force-single-thread toggle is set. It
// returns false when the worker should exit.
func (w *worker) pollSingleThread() bool {
	w.setState(WorkerParked)
	t := time.NewTimer(w.s.opts.SingleThreadPoll)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.wake:
		return true
	case <-w.stop:
		return false
	}
}

// sweep scans the buckets from highest to lowest priority and runs every
// job it can claim. On return *stamp holds the stamp value the sweep
// started from; sweep reports whether it executed anything.
//
// Whenever the stamp moves, newer work may sit in a higher bucket, so the
// scan restarts from the top. A bucket's slice is loaded once when the
// scan enters it; compaction never invalidates a loaded view.
func (w *worker) sweep(stamp *uint32) bool {
	w.setState(WorkerScanning)
	reg := w.s.reg
	ran := false

restart:
	*stamp = reg.stamp.Load()
	for p := 0; p < reg.levels(); p++ {
		jobs := reg.snapshot(p)
		for i := 0; i < len(jobs); {
			if reg.stamp.Load() != *stamp {
				statStampReset()
				goto restart
			}
			j := jobs[i]
			if !j.claimable() {
				i++
				continue
			}
			w.setState(WorkerExecuting)
			executed := j.TryExecute(w.id)
			w.setState(WorkerScanning)
			if !executed {
				i++
				continue
			}
			// Stay on j: a range job may still have sub-units.
			ran = true
			if w.stopped() && !w.s.opts.DrainOnStop {
				return true
			}
			if w.s.forceSingle.Load() {
				return true
			}
		}
	}
	return ran
}

// park sleeps until a submitter signals or the pool stops. It returns false
// when the worker should exit.
//
// The worker registers as parked before re-reading the stamp, and the
// submitter bumps the stamp before reading the parked count, so a job
// enqueued concurrently is never missed.
func (w *worker) park(stamp uint32) bool {
	w.s.parked.Add(1)
	defer w.s.parked.Add(-1)

	if w.s.reg.stamp.Load() != stamp || w.s.forceSingle.Load() {
		return true
	}
	if w.stopped() {
		return false
	}

	w.setState(WorkerParked)
	w.s.metrics.IncParked()
	if ce := w.log.Check(zap.DebugLevel, "worker parked"); ce != nil {
		ce.Write(zap.Uint32("stamp", stamp))
	}

	select {
	case <-w.wake:
		return true
	case <-w.stop:
		return false
	}
}
