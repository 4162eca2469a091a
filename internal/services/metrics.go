package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "event-photo-backend/services"

var tracer trace.Tracer = otel.Tracer(instrumentationName)

type serviceMetrics struct {
	grants          metric.Int64Counter
	finalized       metric.Int64Counter
	thumbnails      metric.Int64Counter
	archiveEntries  metric.Int64Counter
	rateLimitDenied metric.Int64Counter
}

var metrics = newServiceMetrics()

func newServiceMetrics() *serviceMetrics {
	meter := otel.Meter(instrumentationName)
	m := &serviceMetrics{}
	var err error

	m.grants, err = meter.Int64Counter("eventpix.upload.grants",
		metric.WithDescription("Signed upload grants issued"))
	logMetricInitError("eventpix.upload.grants", err)

	m.finalized, err = meter.Int64Counter("eventpix.upload.finalized",
		metric.WithDescription("Photo records created by finalize"))
	logMetricInitError("eventpix.upload.finalized", err)

	m.thumbnails, err = meter.Int64Counter("eventpix.thumbnail.requests",
		metric.WithDescription("Thumbnail requests by outcome"))
	logMetricInitError("eventpix.thumbnail.requests", err)

	m.archiveEntries, err = meter.Int64Counter("eventpix.archive.entries",
		metric.WithDescription("Entries written to bulk archives"))
	logMetricInitError("eventpix.archive.entries", err)

	m.rateLimitDenied, err = meter.Int64Counter("eventpix.ratelimit.rejections",
		metric.WithDescription("Calls rejected by rate limits"))
	logMetricInitError("eventpix.ratelimit.rejections", err)

	return m
}

func logMetricInitError(name string, err error) {
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to create metric instrument")
	}
}

func (m *serviceMetrics) thumbnail(ctx context.Context, result string) {
	if m.thumbnails != nil {
		m.thumbnails.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

func (m *serviceMetrics) add(ctx context.Context, c metric.Int64Counter, n int) {
	if c != nil && n > 0 {
		c.Add(ctx, int64(n))
	}
}
