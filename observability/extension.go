package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/ext"
	"github.com/xraph/queuejob/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobDelayed    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued   = (*MetricsExtension)(nil)
	_ ext.JobStarted    = (*MetricsExtension)(nil)
	_ ext.JobDone       = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.JobPostponed  = (*MetricsExtension)(nil)
	_ ext.LeaseReset    = (*MetricsExtension)(nil)
	_ ext.BatchFinished = (*MetricsExtension)(nil)
	_ ext.CronFired     = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/queuejob/observability"

// MetricsExtension records system-wide lifecycle counters. Register it on
// the extension registry of the engine, the delay client and the runner.
type MetricsExtension struct {
	Delayed       metric.Int64Counter
	Enqueued      metric.Int64Counter
	Started       metric.Int64Counter
	Done          metric.Int64Counter
	Failed        metric.Int64Counter
	Postponed     metric.Int64Counter
	LeaseResets   metric.Int64Counter
	BatchFinished metric.Int64Counter
	CronFired     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the OTel API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		Delayed:       counter("queue_job.delayed", "Jobs stored by delay"),
		Enqueued:      counter("queue_job.enqueued", "Jobs leased by the runner"),
		Started:       counter("queue_job.started", "Jobs started by an executor"),
		Done:          counter("queue_job.done", "Jobs done"),
		Failed:        counter("queue_job.failed", "Jobs failed"),
		Postponed:     counter("queue_job.postponed", "Jobs postponed for a retry"),
		LeaseResets:   counter("queue_job.lease_resets", "Leases returned to pending"),
		BatchFinished: counter("queue_job.batch.finished", "Batches finished"),
		CronFired:     counter("queue_job.cron.fired", "Cron entries fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func channelAttr(channel string) metric.AddOption {
	return metric.WithAttributes(attribute.String("channel", channel))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobDelayed implements ext.JobDelayed.
func (m *MetricsExtension) OnJobDelayed(ctx context.Context, j *job.Job) error {
	m.Delayed.Add(ctx, 1, channelAttr(j.Channel))
	return nil
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, db string, row job.Row) error {
	m.Enqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("db", db),
		attribute.String("channel", row.Channel),
	))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.Started.Add(ctx, 1, channelAttr(j.Channel))
	return nil
}

// OnJobDone implements ext.JobDone.
func (m *MetricsExtension) OnJobDone(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.Done.Add(ctx, 1, channelAttr(j.Channel))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.Failed.Add(ctx, 1, channelAttr(j.Channel))
	return nil
}

// OnJobPostponed implements ext.JobPostponed.
func (m *MetricsExtension) OnJobPostponed(ctx context.Context, j *job.Job, _ time.Time) error {
	m.Postponed.Add(ctx, 1, channelAttr(j.Channel))
	return nil
}

// OnLeaseReset implements ext.LeaseReset.
func (m *MetricsExtension) OnLeaseReset(ctx context.Context, db, _, reason string) error {
	m.LeaseResets.Add(ctx, 1, metric.WithAttributes(
		attribute.String("db", db),
		attribute.String("reason", reason),
	))
	return nil
}

// ── Batch and cron hooks ────────────────────────────

// OnBatchFinished implements ext.BatchFinished.
func (m *MetricsExtension) OnBatchFinished(ctx context.Context, _ *batch.Batch) error {
	m.BatchFinished.Add(ctx, 1)
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName, _ string) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
