package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	policyDecisionCounter    metric.Int64Counter
	policyLatencyHistogram   metric.Float64Histogram
	inspectionCounter        metric.Int64Counter
	inspectionRiskCounter    metric.Int64Counter
	preflightDecisionCounter metric.Int64Counter
)

// PolicyDecision captures the fields needed to record a policy evaluation.
type PolicyDecision struct {
	PolicyID string
	Allowed  bool
	Matched  bool
	Duration time.Duration
}

// RecordPolicyDecision counts a policy evaluation and records its latency.
func RecordPolicyDecision(ctx context.Context, decision PolicyDecision) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("policy.id", decision.PolicyID),
		attribute.Bool("policy.allowed", decision.Allowed),
		attribute.Bool("policy.rule_matched", decision.Matched),
	}

	policyDecisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if decision.Duration > 0 {
		policyLatencyHistogram.Record(ctx, float64(decision.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// InspectionOutcome captures the fields needed to record a typed-data inspection.
type InspectionOutcome struct {
	PrimaryType string
	Risk        string
	Safe        bool
}

// RecordInspection counts a typed-data inspection partitioned by verdict.
func RecordInspection(ctx context.Context, outcome InspectionOutcome) {
	if err := ensureMetrics(); err != nil {
		return
	}

	inspectionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("eip712.safe", outcome.Safe),
		attribute.String("eip712.primary_type", outcome.PrimaryType),
	))
	inspectionRiskCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("eip712.risk", outcome.Risk),
	))
}

// RecordPreflight counts a pre-flight recommendation.
func RecordPreflight(ctx context.Context, policyID, recommendation string) {
	if err := ensureMetrics(); err != nil {
		return
	}

	preflightDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy.id", policyID),
		attribute.String("preflight.recommendation", recommendation),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("txguard")

		policyDecisionCounter, metricsInitErr = meter.Int64Counter(
			"txguard.policy.decisions_total",
			metric.WithDescription("Policy evaluations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"txguard.policy.duration_ms",
			metric.WithDescription("Observed policy evaluation latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		inspectionCounter, metricsInitErr = meter.Int64Counter(
			"txguard.eip712.inspections_total",
			metric.WithDescription("Typed-data inspections partitioned by verdict"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		inspectionRiskCounter, metricsInitErr = meter.Int64Counter(
			"txguard.eip712.risk_total",
			metric.WithDescription("Typed-data inspections partitioned by risk level"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		preflightDecisionCounter, metricsInitErr = meter.Int64Counter(
			"txguard.preflight.decisions_total",
			metric.WithDescription("Pre-flight recommendations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

// RecordRiskEvent attaches a coarse-grained inspection verdict to the provided span
// without leaking message contents.
func RecordRiskEvent(span trace.Span, safe bool, risk string, errors int, warnings int) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("eip712.safe", safe),
		attribute.Int("eip712.errors.count", errors),
		attribute.Int("eip712.warnings.count", warnings),
	}

	if risk != "" {
		attrs = append(attrs, attribute.String("eip712.risk", risk))
	}

	span.AddEvent("eip712.verdict", trace.WithAttributes(attrs...))
}
