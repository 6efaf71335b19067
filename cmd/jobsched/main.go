// Command jobsched runs a synthetic load against the scheduler and prints
// per-priority queueing latency and the recorded metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/azargarov/jobsched"
)

var errSynthetic = errors.New("synthetic failure")

type sample struct {
	prio    jobsched.Priority
	latency time.Duration
}

func main() {
	var (
		cfgPath   string
		jobs      int
		producers int
		units     int
		failEvery int
		watch     bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to yaml config")
	flag.IntVar(&jobs, "jobs", 10000, "jobs per producer")
	flag.IntVar(&producers, "producers", 4, "concurrent submitting goroutines")
	flag.IntVar(&units, "range", 0, "also submit one range job with this many sub-units")
	flag.IntVar(&failEvery, "fail-every", 0, "make every n-th job return an error (0 disables)")
	flag.BoolVar(&watch, "watch", false, "reload log level and force_single_thread when the config changes")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	log, err := newLogger(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(ctx, log, level, cfgPath, jobs, producers, units, failEvery, watch); err != nil {
		log.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func run(ctx context.Context, log *zap.Logger, level zap.AtomicLevel, cfgPath string, jobs, producers, units, failEvery int, watch bool) error {
	var fc jobsched.FileConfig
	if cfgPath != "" {
		var err error
		if fc, err = jobsched.LoadConfig(cfgPath); err != nil {
			return err
		}
	}
	if lvl, err := fc.Level(); err == nil {
		level.SetLevel(lvl)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	var failures atomic.Int64
	opts := fc.Options()
	opts.Logger = log
	opts.Metrics = jobsched.NewOTelMetricsWithMeter(mp.Meter("jobsched"), opts.Levels)
	opts.OnJobError = func(*jobsched.JobError) { failures.Add(1) }

	s := jobsched.New(opts)
	s.Start(0)

	if watch && cfgPath != "" {
		go func() {
			_ = jobsched.WatchConfig(ctx, cfgPath, log, func(c jobsched.FileConfig) {
				if lvl, err := c.Level(); err == nil {
					level.SetLevel(lvl)
				}
				s.SetForceSingleThread(c.ForceSingleThread)
			})
		}()
	}

	hostCtx, stopHost := context.WithCancel(ctx)
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		driveHost(hostCtx, s)
	}()
	defer func() {
		stopHost()
		<-hostDone
	}()

	samples := make([]sample, jobs*producers)
	handles := make([][]*jobsched.QueuedJob, producers)
	levels := s.Levels()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			hs := make([]*jobsched.QueuedJob, 0, jobs)
			for i := 0; i < jobs; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				idx := p*jobs + i
				prio := jobsched.Priority(i % levels)
				submitted := time.Now()
				h, err := s.SubmitJob(jobsched.Job{
					Name: fmt.Sprintf("synthetic-%d", idx),
					Fn: func(context.Context) error {
						samples[idx] = sample{prio: prio, latency: time.Since(submitted)}
						if failEvery > 0 && idx%failEvery == 0 {
							return errSynthetic
						}
						return nil
					},
				}, prio)
				if err != nil {
					return err
				}
				hs = append(hs, h)
			}
			handles[p] = hs
			return nil
		})
	}

	var rangeJob *jobsched.QueuedJob
	var rangeSum atomic.Int64
	if units > 0 {
		var err error
		rangeJob, err = s.SubmitRange(jobsched.RangeJob{
			Name: "range",
			N:    units,
			Fn: func(_ context.Context, i int) error {
				rangeSum.Add(int64(i))
				return nil
			},
		}, jobsched.PriorityNormal)
		if err != nil {
			return err
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, hs := range handles {
		for _, h := range hs {
			if err := h.Wait(ctx); err != nil && ctx.Err() != nil {
				return err
			}
		}
	}
	if rangeJob != nil {
		if err := rangeJob.Wait(ctx); err != nil {
			return err
		}
		log.Info("range job done", zap.Int("units", units), zap.Int64("sum", rangeSum.Load()))
	}
	elapsed := time.Since(start)
	stopHost()
	<-hostDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	total := jobs * producers
	fmt.Printf("jobs=%d producers=%d elapsed=%s throughput=%.0f jobs/s failures=%d\n",
		total, producers, elapsed, float64(total)/elapsed.Seconds(), failures.Load())
	printLatency(samples, levels)
	return printMetrics(reader)
}

// driveHost runs queued jobs on the calling goroutine while the scheduler
// is in single-thread mode, where workers only poll the toggle. It
// returns when ctx ends.
func driveHost(ctx context.Context, s *jobsched.Scheduler) {
	t := time.NewTicker(s.Options().SingleThreadPoll)
	defer t.Stop()
	for {
		if s.ForceSingleThread() {
			s.RunPending(ctx, 0)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func printLatency(samples []sample, levels int) {
	byPrio := make([][]time.Duration, levels)
	for _, s := range samples {
		byPrio[s.prio] = append(byPrio[s.prio], s.latency)
	}
	for p, lat := range byPrio {
		if len(lat) == 0 {
			continue
		}
		slices.Sort(lat)
		fmt.Printf("%-9s n=%-7d p50=%-12s p90=%-12s p99=%-12s max=%s\n",
			jobsched.Priority(p), len(lat),
			percentile(lat, 0.50), percentile(lat, 0.90), percentile(lat, 0.99), lat[len(lat)-1])
	}
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	i := int(q * float64(len(sorted)-1))
	return sorted[i]
}

func printMetrics(reader *sdkmetric.ManualReader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			fmt.Printf("%-24s %d\n", m.Name, total)
		}
	}
	return nil
}
