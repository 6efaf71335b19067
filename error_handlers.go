package jobsched

import (
	"context"
	"runtime"

	lg "github.com/Andrej220/go-utils/zlog"
	"go.uber.org/zap"
)

// jobFailure is what workers hand to the reporter goroutine.
type jobFailure struct {
	ctx context.Context
	err *JobError
}

// reportInternalError reports an internal scheduler error.
//
// Internal errors are non-job-related failures such as
// worker setup issues or cleanup hooks panicking.
func (s *Scheduler) reportInternalError(e error) {
	s.log.Error("internal error", zap.Error(e))
	if s.opts.OnInternalError != nil {
		s.opts.OnInternalError(e)
	}
}

// reportJobError hands a failed execution to the error channel.
//
// While the pool runs, failures travel through the error ring to the
// reporter goroutine so a slow OnJobError never stalls a worker for long.
// Otherwise the failure is delivered on the calling goroutine.
func (s *Scheduler) reportJobError(ctx context.Context, e *JobError) {
	s.reportInflight.Add(1)
	if !s.reporting.Load() {
		s.reportInflight.Add(-1)
		s.deliver(jobFailure{ctx: ctx, err: e})
		return
	}
	err := s.errRing.Enqueue(&jobFailure{ctx: ctx, err: e})
	s.reportInflight.Add(-1)
	if err != nil {
		s.reportInternalError(err)
		return
	}
	select {
	case s.errWake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) deliver(f jobFailure) {
	if s.opts.OnJobError != nil {
		s.opts.OnJobError(f.err)
	}
	if s.errLimiter == nil {
		return
	}
	if !s.errLimiter.Allow() {
		s.errSuppressed.Add(1)
		return
	}
	logger := lg.FromContext(f.ctx).With(lg.String("job", f.err.Name))
	if f.err.Panic {
		logger.Error("Job panicked",
			lg.Int("worker", f.err.WorkerID),
			lg.Int("unit", f.err.Unit),
			lg.Any("panic", f.err.Err),
			lg.String("stack", string(f.err.Stack)),
		)
		return
	}
	logger.Error("Job failed",
		lg.Int("worker", f.err.WorkerID),
		lg.Int("unit", f.err.Unit),
		lg.Any("error", f.err.Err),
	)
}

// startReporter launches the single consumer of the error ring.
func (s *Scheduler) startReporter() chan struct{} {
	stop := make(chan struct{})
	done := make(chan struct{})
	s.reporting.Store(true)
	go func() {
		defer close(done)
		for {
			s.drainErrors()
			select {
			case <-s.errWake:
			case <-stop:
				s.reporting.Store(false)
				// Producers that saw reporting == true may still be
				// enqueueing; keep consuming until they are gone.
				for s.reportInflight.Load() > 0 {
					s.drainErrors()
					runtime.Gosched()
				}
				s.drainErrors()
				return
			}
		}
	}()
	s.reporterStop = stop
	return done
}

func (s *Scheduler) drainErrors() {
	for {
		f, ok := s.errRing.TryDequeue()
		if !ok {
			return
		}
		s.deliver(*f)
	}
}
