package jobsched

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSingleThreadPoll is how often a worker re-checks the
	// force-single-thread toggle while it is set.
	DefaultSingleThreadPoll = 30 * time.Millisecond

	// DefaultErrorBufferSize is the capacity of the job error ring.
	DefaultErrorBufferSize = 1024

	// DefaultErrorLogRate caps job failure log lines per second.
	DefaultErrorLogRate = 10
)

// Options configure a Scheduler.
//
// All zero values are replaced with sensible defaults in FillDefaults.
type Options struct {
	// Workers is the pool size used by Start(0).
	Workers int

	// Levels is the number of priority buckets. Priorities are 0..Levels-1.
	Levels int

	// BucketSize is the initial capacity of each priority bucket.
	BucketSize int

	ErrorBufferSize int

	// ForceSingleThread parks the pool in a slow poll loop; jobs then only
	// run through RunPending. It can be flipped at runtime.
	ForceSingleThread bool
	SingleThreadPoll  time.Duration

	// DrainOnStop makes stopping workers finish the queued backlog
	// before they terminate.
	DrainOnStop bool

	// PinWorkers locks each worker to an OS thread pinned to one CPU.
	// Linux only; elsewhere pinning failures are reported as internal errors.
	PinWorkers bool

	// ErrorLogRate limits job failure log lines per second.
	// Negative disables job failure logging.
	ErrorLogRate float64

	Logger  *zap.Logger
	Metrics MetricsPolicy

	// OnJobError receives every failed job execution. While the pool runs
	// it is called from the reporter goroutine, never from a worker.
	// Stop and Shutdown wait for that goroutine, so the hook must not call
	// them directly; start them on a new goroutine instead.
	OnJobError func(*JobError)

	// OnInternalError receives failures inside the scheduler itself.
	OnInternalError func(error)
}

func (o *Options) FillDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Levels <= 0 {
		o.Levels = DefaultLevels
	}
	if o.Levels > MaxLevels {
		o.Levels = MaxLevels
	}
	if o.BucketSize <= 0 {
		o.BucketSize = DefaultBucketSize
	}
	if o.ErrorBufferSize <= 0 {
		o.ErrorBufferSize = DefaultErrorBufferSize
	}
	if o.SingleThreadPoll <= 0 {
		o.SingleThreadPoll = DefaultSingleThreadPoll
	}
	if o.ErrorLogRate == 0 {
		o.ErrorLogRate = DefaultErrorLogRate
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = &NoopMetrics{}
	}
}
