package jobsched

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for scheduler metrics.
const meterName = "github.com/azargarov/jobsched"

// OTelMetrics is a MetricsPolicy that records counters through an
// OpenTelemetry meter. Every job counter carries a "priority" attribute.
//
// Instruments:
//   - jobsched.job.submitted (Int64Counter)
//   - jobsched.job.executed (Int64Counter)
//   - jobsched.job.failed (Int64Counter)
//   - jobsched.worker.parked (Int64Counter)
type OTelMetrics struct {
	submitted metric.Int64Counter
	executed  metric.Int64Counter
	failed    metric.Int64Counter
	parked    metric.Int64Counter

	// attrs is indexed by priority so hot paths do not allocate.
	attrs []metric.AddOption
}

// NewOTelMetrics uses the global MeterProvider. With no provider
// configured the instruments are noops.
func NewOTelMetrics(levels int) *OTelMetrics {
	return NewOTelMetricsWithMeter(otel.Meter(meterName), levels)
}

// NewOTelMetricsWithMeter builds the instruments on the given meter.
func NewOTelMetricsWithMeter(meter metric.Meter, levels int) *OTelMetrics {
	if levels <= 0 {
		levels = DefaultLevels
	}
	// On error the API returns noop instruments, so failures only lose data.
	submitted, _ := meter.Int64Counter("jobsched.job.submitted",
		metric.WithDescription("Jobs accepted by the scheduler"),
		metric.WithUnit("{job}"),
	)
	executed, _ := meter.Int64Counter("jobsched.job.executed",
		metric.WithDescription("Jobs whose last sub-unit finished"),
		metric.WithUnit("{job}"),
	)
	failed, _ := meter.Int64Counter("jobsched.job.failed",
		metric.WithDescription("Sub-unit executions that returned an error or panicked"),
		metric.WithUnit("{execution}"),
	)
	parked, _ := meter.Int64Counter("jobsched.worker.parked",
		metric.WithDescription("Times a worker went to sleep for lack of work"),
		metric.WithUnit("{park}"),
	)

	m := &OTelMetrics{
		submitted: submitted,
		executed:  executed,
		failed:    failed,
		parked:    parked,
		attrs:     make([]metric.AddOption, levels),
	}
	for i := range m.attrs {
		m.attrs[i] = metric.WithAttributes(attribute.String("priority", Priority(i).String()))
	}
	return m
}

func (m *OTelMetrics) attr(p Priority) metric.AddOption {
	if int(p) < len(m.attrs) {
		return m.attrs[p]
	}
	return metric.WithAttributes(attribute.String("priority", p.String()))
}

func (m *OTelMetrics) IncSubmitted(p Priority) {
	m.submitted.Add(context.Background(), 1, m.attr(p))
}

func (m *OTelMetrics) IncExecuted(p Priority) {
	m.executed.Add(context.Background(), 1, m.attr(p))
}

func (m *OTelMetrics) IncFailed(p Priority) {
	m.failed.Add(context.Background(), 1, m.attr(p))
}

func (m *OTelMetrics) IncParked() {
	m.parked.Add(context.Background(), 1)
}
