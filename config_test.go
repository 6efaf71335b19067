package jobsched_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	js "github.com/azargarov/jobsched"
)

const sampleConfig = `
workers: 3
levels: 4
bucket_size: 32
error_buffer: 256
force_single_thread: true
single_thread_poll: 15ms
drain_on_stop: true
error_log_rate: 2.5
log_level: debug
`

func TestParseConfig(t *testing.T) {
	cfg, err := js.ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	opts := cfg.Options()
	if opts.Workers != 3 || opts.Levels != 4 || opts.BucketSize != 32 || opts.ErrorBufferSize != 256 {
		t.Fatalf("sizes not carried over: %+v", opts)
	}
	if !opts.ForceSingleThread || !opts.DrainOnStop || opts.PinWorkers {
		t.Fatalf("flags not carried over: %+v", opts)
	}
	if opts.SingleThreadPoll != 15*time.Millisecond {
		t.Fatalf("poll = %s; want 15ms", opts.SingleThreadPoll)
	}
	if opts.ErrorLogRate != 2.5 {
		t.Fatalf("error log rate = %v", opts.ErrorLogRate)
	}
	if lvl, err := cfg.Level(); err != nil || lvl != zapcore.DebugLevel {
		t.Fatalf("level = %v, %v; want debug", lvl, err)
	}
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := js.ParseConfig(nil)
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if lvl, _ := cfg.Level(); lvl != zapcore.InfoLevel {
		t.Fatalf("default level = %v; want info", lvl)
	}
	opts := cfg.Options()
	opts.FillDefaults()
	if opts.Levels != js.DefaultLevels || opts.SingleThreadPoll != js.DefaultSingleThreadPoll {
		t.Fatalf("defaults not applied: %+v", opts)
	}
}

func TestParseConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"UnknownKey", "workers: 2\nbogus: 1\n"},
		{"NegativeWorkers", "workers: -1\n"},
		{"TooManyLevels", "levels: 65\n"},
		{"BadDuration", "single_thread_poll: soon\n"},
		{"NegativeDuration", "single_thread_poll: -5ms\n"},
		{"BadLevel", "log_level: chatty\n"},
		{"NotYAML", "workers: [1, 2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := js.ParseConfig([]byte(tc.yaml))
			if !errors.Is(err, js.ErrInvalidConfig) {
				t.Fatalf("got %v; want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := js.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v; want ErrNotExist", err)
	}
}

func TestWatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobsched.yaml")
	if err := os.WriteFile(path, []byte("workers: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	applied := make(chan js.FileConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- js.WatchConfig(ctx, path, zaptest.NewLogger(t), func(c js.FileConfig) {
			applied <- c
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid version is skipped.
	if err := os.WriteFile(path, []byte("workers: nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	select {
	case c := <-applied:
		t.Fatalf("invalid config applied: %+v", c)
	default:
	}

	if err := os.WriteFile(path, []byte("workers: 6\nforce_single_thread: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-applied:
		if c.Workers != 6 || !c.ForceSingleThread {
			t.Fatalf("applied = %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change not applied")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WatchConfig returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WatchConfig did not return after cancel")
	}
}
