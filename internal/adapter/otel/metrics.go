package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fitcoach"

// Metrics holds the coaching and approval instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	messages           metric.Int64Counter
	escalations        metric.Int64Counter
	approvalsCreated   metric.Int64Counter
	approvalsResolved  metric.Int64Counter
	generationFailures metric.Int64Counter
	generationDuration metric.Float64Histogram
	sweepDuration      metric.Float64Histogram
	sweepAffected      metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.messages, err = meter.Int64Counter("fitcoach.messages",
		metric.WithDescription("Messages handled, by category")); err != nil {
		return nil, err
	}
	if m.escalations, err = meter.Int64Counter("fitcoach.escalations",
		metric.WithDescription("Escalated responses, by trigger")); err != nil {
		return nil, err
	}
	if m.approvalsCreated, err = meter.Int64Counter("fitcoach.approvals.created",
		metric.WithDescription("Approval requests created, by action type and initial status")); err != nil {
		return nil, err
	}
	if m.approvalsResolved, err = meter.Int64Counter("fitcoach.approvals.resolved",
		metric.WithDescription("Approval requests leaving pending, by status and resolver")); err != nil {
		return nil, err
	}
	if m.generationFailures, err = meter.Int64Counter("fitcoach.generation.failures",
		metric.WithDescription("Specialist generation failures")); err != nil {
		return nil, err
	}
	if m.generationDuration, err = meter.Float64Histogram("fitcoach.generation.duration_seconds",
		metric.WithDescription("Specialist generation latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.sweepDuration, err = meter.Float64Histogram("fitcoach.sweep.duration_seconds",
		metric.WithDescription("Timeout sweep duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.sweepAffected, err = meter.Int64Counter("fitcoach.sweep.affected",
		metric.WithDescription("Requests resolved by the timeout sweeper")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) MessageHandled(ctx context.Context, category string, escalated bool, trigger string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
	if escalated {
		m.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

func (m *Metrics) ApprovalCreated(ctx context.Context, actionType, status string) {
	if m == nil {
		return
	}
	m.approvalsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("status", status),
	))
}

func (m *Metrics) ApprovalResolved(ctx context.Context, status, resolvedBy string) {
	if m == nil {
		return
	}
	m.approvalsResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("resolved_by", resolvedBy),
	))
}

func (m *Metrics) Generation(ctx context.Context, category string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("category", category))
	m.generationDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.generationFailures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) Sweep(ctx context.Context, d time.Duration, affected int) {
	if m == nil {
		return
	}
	m.sweepDuration.Record(ctx, d.Seconds())
	m.sweepAffected.Add(ctx, int64(affected))
}
