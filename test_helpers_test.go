package jobsched_test

import (
	"context"
	"crypto/sha256"
	"os"
	"runtime"
	"strconv"
	"testing"
	"time"

	"go.uber.org/goleak"

	js "github.com/azargarov/jobsched"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type workload struct {
	name string
	fn   js.JobFunc
}

var shaData = []byte("some deterministic payloadsome deterministic payloadsome deterministic payloadsome deterministic payload")

var (
	emptyWork = func(context.Context) error {
		return nil
	}

	cpuWork = func(context.Context) error {
		x := 0
		for i := range 1000 {
			x += i * i
		}
		_ = x
		return nil
	}

	ioWork = func(context.Context) error {
		time.Sleep(5 * time.Microsecond)
		return nil
	}

	shaWork = func(context.Context) error {
		_ = sha256.Sum256(shaData)
		return nil
	}
)

var workloads = []workload{
	{"empty ", emptyWork},
	{"sha256", shaWork},
	{"cpu   ", cpuWork},
	{"io    ", ioWork},
}

func newTestOptions(workers int) js.Options {
	return js.Options{
		Workers:    workers,
		Levels:     js.DefaultLevels,
		BucketSize: 16,
	}
}

// newTestScheduler returns a started scheduler that is stopped when the
// test ends.
func newTestScheduler(t *testing.T, workers int, tweak func(*js.Options)) *js.Scheduler {
	t.Helper()

	opts := newTestOptions(workers)
	if tweak != nil {
		tweak(&opts)
	}
	s := js.New(opts)
	if !s.Start(0) {
		t.Fatal("Start returned false on a fresh scheduler")
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
	}
	t.Fatal("condition not satisfied before timeout")
}

func waitDone(t *testing.T, timeout time.Duration, jobs ...*js.QueuedJob) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			t.Fatalf("job %q not done before timeout (state %s)", j.Name(), j.State())
		}
	}
}

func percentile(samples []int64, q float64) time.Duration {
	pos := int(float64(len(samples)-1) * q)
	return time.Duration(samples[pos])
}

func getenvInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
