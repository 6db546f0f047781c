package brain

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/omomi/internal/telemetry"
)

type metrics struct {
	processed     metric.Int64Counter
	failed        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	indexBytes    metric.Int64Counter
	sourceRuns    metric.Int64Counter
}

// newMetrics creates the dispatcher instruments. Instrument errors only
// happen with a misconfigured provider; the no-op fallbacks keep the
// service usable.
func newMetrics() *metrics {
	meter := telemetry.Meter("omomi/brain")
	m := &metrics{}
	m.processed, _ = meter.Int64Counter("omomi.brain.events_processed",
		metric.WithDescription("Events handled by the dispatcher"))
	m.failed, _ = meter.Int64Counter("omomi.brain.events_failed",
		metric.WithDescription("Events whose handler failed or panicked"))
	m.cycleDuration, _ = meter.Float64Histogram("omomi.brain.periodic_duration_ms",
		metric.WithDescription("Wall time of one periodic cycle"),
		metric.WithUnit("ms"))
	m.indexBytes, _ = meter.Int64Counter("omomi.index.bytes",
		metric.WithDescription("Document bytes written to the index"),
		metric.WithUnit("By"))
	m.sourceRuns, _ = meter.Int64Counter("omomi.scheduler.runs",
		metric.WithDescription("Units of scheduled work performed"))
	return m
}

// registerGauges exposes live state through observable gauges. Called from
// Start so the global provider is already installed.
func (s *Service) registerGauges() {
	meter := telemetry.Meter("omomi/brain")

	_, _ = meter.Int64ObservableGauge("omomi.brain.inbox_depth",
		metric.WithDescription("Events waiting in the in-memory inbox"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.inbox.len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("omomi.queue.depth",
		metric.WithDescription("Records waiting in the durable queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := s.durable.Len(ctx)
			if err != nil {
				return nil
			}
			o.Observe(int64(n))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("omomi.timevariance.machines",
		metric.WithDescription("Live time variance machines"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.variance.Count()))
			return nil
		}),
	)
}
