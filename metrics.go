package jobsched

import (
	"sync/atomic"
)

// MetricsPolicy defines hooks used by the scheduler to report
// queueing and execution activity.
//
// Implementations must be safe for concurrent use.
// All methods are expected to be lightweight and non-blocking.
type MetricsPolicy interface {
	// IncSubmitted is called once per accepted submission.
	IncSubmitted(p Priority)

	// IncExecuted is called once per job, after its last sub-unit ran.
	// Jobs whose context ended before any sub-unit ran are not counted.
	IncExecuted(p Priority)

	// IncFailed is called for every sub-unit whose body returned an
	// error or panicked.
	IncFailed(p Priority)

	// IncParked is called each time a worker goes to sleep.
	IncParked()
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	submitted atomic.Uint64
	_         cachePad

	executed atomic.Uint64
	_        cachePad

	failed atomic.Uint64
	_      cachePad

	parked atomic.Uint64
}

func (m *AtomicMetrics) Submitted() uint64 { return m.submitted.Load() }
func (m *AtomicMetrics) Executed() uint64  { return m.executed.Load() }
func (m *AtomicMetrics) Failed() uint64    { return m.failed.Load() }
func (m *AtomicMetrics) Parked() uint64    { return m.parked.Load() }

// Pending returns submitted minus executed. Canceled jobs, including
// ones skipped for an ended context, stay counted.
func (m *AtomicMetrics) Pending() int64 {
	return int64(m.submitted.Load()) - int64(m.executed.Load())
}

func (m *AtomicMetrics) IncSubmitted(Priority) { m.submitted.Add(1) }
func (m *AtomicMetrics) IncExecuted(Priority)  { m.executed.Add(1) }
func (m *AtomicMetrics) IncFailed(Priority)    { m.failed.Add(1) }
func (m *AtomicMetrics) IncParked()            { m.parked.Add(1) }

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
type NoopMetrics struct{}

func (m *NoopMetrics) IncSubmitted(Priority) {}
func (m *NoopMetrics) IncExecuted(Priority)  {}
func (m *NoopMetrics) IncFailed(Priority)    {}
func (m *NoopMetrics) IncParked()            {}
