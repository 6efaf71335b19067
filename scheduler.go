package jobsched

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HostWorkerID is the worker id used for jobs executed through RunPending.
const HostWorkerID = -1

const (
	stateIdle uint32 = iota
	stateRunning
	stateStopped
)

// Scheduler owns the priority registry and the worker pool.
//
// A Scheduler is safe for concurrent use. Any goroutine may submit; jobs
// submitted before Start are kept and run once workers start.
type Scheduler struct {
	opts    Options
	log     *zap.Logger
	metrics MetricsPolicy
	reg     *registry

	forceSingle atomic.Bool
	state       atomic.Uint32
	parked      atomic.Int32

	// mu guards lifecycle transitions.
	mu      sync.Mutex
	workers atomic.Pointer[[]*worker]
	stopCh  chan struct{}
	runDone chan struct{}
	wg      sync.WaitGroup

	errRing        *RingBuffer[jobFailure]
	errWake        chan struct{}
	errLimiter     *rate.Limiter
	errSuppressed  atomic.Uint64
	reporting      atomic.Bool
	reportInflight atomic.Int32
	reporterStop   chan struct{}
}

// New builds a scheduler. Workers are not started until Start.
func New(opts Options) *Scheduler {
	opts.FillDefaults()

	s := &Scheduler{
		opts:    opts,
		log:     opts.Logger.Named("jobsched"),
		metrics: opts.Metrics,
		reg:     newRegistry(opts.Levels, opts.BucketSize),
		errRing: NewRingBuffer[jobFailure](opts.ErrorBufferSize),
		errWake: make(chan struct{}, 1),
	}
	if opts.ErrorLogRate > 0 {
		burst := int(math.Ceil(opts.ErrorLogRate))
		s.errLimiter = rate.NewLimiter(rate.Limit(opts.ErrorLogRate), burst)
	}
	s.forceSingle.Store(opts.ForceSingleThread)
	return s
}

// Options returns the effective options.
func (s *Scheduler) Options() Options { return s.opts }

// Levels returns the number of priority buckets.
func (s *Scheduler) Levels() int { return s.reg.levels() }

// Submit queues fn at the given priority.
func (s *Scheduler) Submit(fn JobFunc, prio Priority) (*QueuedJob, error) {
	return s.SubmitJob(Job{Fn: fn}, prio)
}

// SubmitJob queues job at the given priority and returns its handle.
//
// It returns immediately. Execution errors are not returned here; they
// go to Options.OnJobError and are visible through the handle.
func (s *Scheduler) SubmitJob(job Job, prio Priority) (*QueuedJob, error) {
	if job.Fn == nil {
		return nil, ErrNilFunc
	}
	fn := job.Fn
	return s.submit(job.Name, prio, 1, func(ctx context.Context, _ int) error {
		return fn(ctx)
	}, job.Meta)
}

// RangeJob describes a job split into N independently claimable sub-units.
type RangeJob struct {
	Name string
	N    int
	Fn   RangeFunc
	Meta *JobMeta
}

// SubmitRange queues a range job. Workers claim sub-units one at a time,
// so up to N workers can cooperate on it; each index runs exactly once.
func (s *Scheduler) SubmitRange(job RangeJob, prio Priority) (*QueuedJob, error) {
	if job.Fn == nil {
		return nil, ErrNilFunc
	}
	if job.N < 1 || uint64(job.N) >= canceledMark {
		return nil, fmt.Errorf("%w: n=%d", ErrInvalidRange, job.N)
	}
	return s.submit(job.Name, prio, uint32(job.N), job.Fn, job.Meta)
}

func (s *Scheduler) submit(name string, prio Priority, units uint32, fn RangeFunc, meta *JobMeta) (*QueuedJob, error) {
	if !s.reg.valid(prio) {
		return nil, fmt.Errorf("%w: %d (levels %d)", ErrInvalidPriority, prio, s.reg.levels())
	}
	if s.state.Load() == stateStopped {
		return nil, ErrStopped
	}
	if meta != nil && meta.Ctx != nil {
		if err := meta.Ctx.Err(); err != nil {
			return nil, fmt.Errorf("jobsched: submit %q: %w", name, err)
		}
	}

	j := newQueuedJob(s, name, prio, units, fn, meta)
	stamp := s.reg.enqueue(j)
	// A Stop that raced the enqueue may have let draining workers finish
	// their last sweep without the job. Take it back unless one claimed it.
	if s.state.Load() == stateStopped && j.withdraw() {
		return nil, ErrStopped
	}
	s.metrics.IncSubmitted(prio)

	if ce := s.log.Check(zap.DebugLevel, "job submitted"); ce != nil {
		ce.Write(
			zap.String("job", name),
			zap.Stringer("priority", prio),
			zap.Uint32("units", units),
			zap.Uint32("stamp", stamp),
		)
	}

	s.wakeParked()
	return j, nil
}

// wakeParked signals workers after an enqueue. The stamp bump in enqueue
// happens before the parked load; a worker increments parked before it
// re-reads the stamp. One of the two always sees the other.
func (s *Scheduler) wakeParked() {
	if s.parked.Load() == 0 {
		return
	}
	s.wakeAll()
}

func (s *Scheduler) wakeAll() {
	ws := s.workers.Load()
	if ws == nil {
		return
	}
	for _, w := range *ws {
		w.signal()
	}
}

// Start spawns n workers (Options.Workers when n <= 0). It returns false
// without doing anything when the pool is already running. A stopped
// scheduler can be started again.
func (s *Scheduler) Start(n int) bool {
	if n <= 0 {
		n = s.opts.Workers
	}

	s.mu.Lock()
	if s.state.Load() == stateRunning {
		s.mu.Unlock()
		return false
	}
	// A previous run may still be winding down.
	prev := s.runDone
	s.mu.Unlock()
	if prev != nil {
		<-prev
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load() == stateRunning {
		return false
	}

	stopCh := make(chan struct{})
	ws := make([]*worker, n)
	for i := range ws {
		ws[i] = newWorker(s, i, stopCh)
	}
	s.stopCh = stopCh
	s.runDone = make(chan struct{})
	reporterDone := s.startReporter()
	s.workers.Store(&ws)
	s.state.Store(stateRunning)

	for _, w := range ws {
		s.wg.Add(1)
		go w.run()
	}
	go s.join(s.runDone, reporterDone)

	s.log.Info("scheduler started",
		zap.Int("workers", n),
		zap.Int("levels", s.reg.levels()),
		zap.Bool("force_single_thread", s.forceSingle.Load()),
	)
	return true
}

// join waits for the workers of one run, then retires the reporter.
func (s *Scheduler) join(runDone, reporterDone chan struct{}) {
	s.wg.Wait()

	s.mu.Lock()
	stop := s.reporterStop
	s.mu.Unlock()
	close(stop)
	<-reporterDone

	s.workers.Store(nil)
	if n := s.errSuppressed.Swap(0); n > 0 {
		s.log.Warn("job error logs suppressed", zap.Uint64("count", n))
	}
	s.log.Info("scheduler stopped")
	close(runDone)
}

// Stop terminates the pool and waits for every worker to exit. It returns
// false when the pool was not running.
func (s *Scheduler) Stop() bool {
	stopped, done := s.beginStop()
	if done != nil {
		<-done
	}
	return stopped
}

// Shutdown is Stop bounded by ctx. If ctx ends first the workers keep
// winding down in the background and a later Shutdown can wait again.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	_, done := s.beginStop()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) beginStop() (bool, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Load() {
	case stateRunning:
		s.state.Store(stateStopped)
		close(s.stopCh)
		s.log.Info("scheduler stopping", zap.Int32("parked", s.parked.Load()))
		return true, s.runDone
	case stateStopped:
		return false, s.runDone
	default:
		return false, nil
	}
}

// Running reports whether the worker pool is active.
func (s *Scheduler) Running() bool { return s.state.Load() == stateRunning }

// SetForceSingleThread toggles the debug mode in which workers stop
// scanning and only poll the toggle. Claimed jobs keep running to
// completion; nothing is torn down.
func (s *Scheduler) SetForceSingleThread(on bool) {
	if s.forceSingle.Swap(on) == on {
		return
	}
	s.log.Info("force single thread toggled", zap.Bool("enabled", on))
	if !on {
		s.wakeAll()
	}
}

func (s *Scheduler) ForceSingleThread() bool { return s.forceSingle.Load() }

// RunPending executes queued jobs on the calling goroutine, highest
// priority first, until a full sweep finds nothing, limit jobs ran
// (limit <= 0 means no limit) or ctx ends. It returns the number of
// executions, counting every sub-unit of range jobs.
//
// This is how work makes progress while ForceSingleThread is set.
func (s *Scheduler) RunPending(ctx context.Context, limit int) int {
	ran := 0
	for {
		progress := false
		for p := 0; p < s.reg.levels(); p++ {
			for _, j := range s.reg.snapshot(p) {
				for j.TryExecute(HostWorkerID) {
					ran++
					progress = true
					if (limit > 0 && ran >= limit) || ctx.Err() != nil {
						return ran
					}
				}
			}
		}
		if !progress {
			return ran
		}
	}
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Running           bool
	ForceSingleThread bool
	Workers           []WorkerState
	Parked            int
	Pending           []int
	Stamp             uint32
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Running:           s.Running(),
		ForceSingleThread: s.forceSingle.Load(),
		Parked:            int(s.parked.Load()),
		Pending:           s.reg.pending(),
		Stamp:             s.reg.stamp.Load(),
	}
	if ws := s.workers.Load(); ws != nil {
		st.Workers = make([]WorkerState, len(*ws))
		for i, w := range *ws {
			st.Workers[i] = w.State()
		}
	}
	return st
}
