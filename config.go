package jobsched

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
	"go.uber.org/zap/zapcore"
)

// FileConfig is the on-disk form of Options.
//
//	workers: 8
//	levels: 5
//	bucket_size: 64
//	error_buffer: 1024
//	force_single_thread: false
//	single_thread_poll: 30ms
//	drain_on_stop: true
//	pin_workers: false
//	error_log_rate: 10
//	log_level: info
type FileConfig struct {
	Workers           int     `yaml:"workers"`
	Levels            int     `yaml:"levels"`
	BucketSize        int     `yaml:"bucket_size"`
	ErrorBuffer       int     `yaml:"error_buffer"`
	ForceSingleThread bool    `yaml:"force_single_thread"`
	SingleThreadPoll  string  `yaml:"single_thread_poll"`
	DrainOnStop       bool    `yaml:"drain_on_stop"`
	PinWorkers        bool    `yaml:"pin_workers"`
	ErrorLogRate      float64 `yaml:"error_log_rate"`
	LogLevel          string  `yaml:"log_level"`
}

// LoadConfig reads and validates a YAML config file. Unknown keys are
// rejected.
func LoadConfig(path string) (FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(data []byte) (FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, fmt.Errorf("%w: yaml: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

func (c FileConfig) Validate() error {
	var problems []string
	if c.Workers < 0 {
		problems = append(problems, "workers must be >= 0")
	}
	if c.Levels < 0 || c.Levels > MaxLevels {
		problems = append(problems, fmt.Sprintf("levels must be in [0, %d]", MaxLevels))
	}
	if c.BucketSize < 0 {
		problems = append(problems, "bucket_size must be >= 0")
	}
	if c.ErrorBuffer < 0 {
		problems = append(problems, "error_buffer must be >= 0")
	}
	if _, err := c.pollInterval(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c FileConfig) pollInterval() (time.Duration, error) {
	s := strings.TrimSpace(c.SingleThreadPoll)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("single_thread_poll: invalid duration %q", c.SingleThreadPoll)
	}
	if d < 0 {
		return 0, fmt.Errorf("single_thread_poll: duration must be >= 0")
	}
	return d, nil
}

// Level returns the configured log level, info when unset.
func (c FileConfig) Level() (zapcore.Level, error) {
	if strings.TrimSpace(c.LogLevel) == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Options converts the file form into Options. Logger, metrics and hooks
// are left for the caller.
func (c FileConfig) Options() Options {
	poll, _ := c.pollInterval()
	return Options{
		Workers:           c.Workers,
		Levels:            c.Levels,
		BucketSize:        c.BucketSize,
		ErrorBufferSize:   c.ErrorBuffer,
		ForceSingleThread: c.ForceSingleThread,
		SingleThreadPoll:  poll,
		DrainOnStop:       c.DrainOnStop,
		PinWorkers:        c.PinWorkers,
		ErrorLogRate:      c.ErrorLogRate,
	}
}
