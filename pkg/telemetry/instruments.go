package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	ruleEvaluationCounter metric.Int64Counter
	ruleViolationCounter  metric.Int64Counter
	ruleErrorCounter      metric.Int64Counter
	ruleLatencyHistogram  metric.Float64Histogram
)

// RuleOutcome classifies the result of evaluating a single contract rule.
type RuleOutcome string

const (
	// RuleOutcomePass means the rule held for the request.
	RuleOutcomePass RuleOutcome = "pass"
	// RuleOutcomeViolation means the rule produced at least one violation.
	RuleOutcomeViolation RuleOutcome = "violation"
	// RuleOutcomeError means the rule could not be evaluated.
	RuleOutcomeError RuleOutcome = "error"
)

// RuleMetrics captures the fields needed to record per-rule telemetry metrics.
type RuleMetrics struct {
	Tenant          string
	ContractID      string
	ContractVersion int64
	RuleID          string
	RuleKind        string
	Outcome         RuleOutcome
	Duration        time.Duration
}

// RecordRuleMetrics emits counters and histograms that describe rule evaluation behaviour.
func RecordRuleMetrics(ctx context.Context, metrics RuleMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tenant", metrics.Tenant),
		attribute.String("contract.id", metrics.ContractID),
		attribute.Int64("contract.version", metrics.ContractVersion),
		attribute.String("rule.id", metrics.RuleID),
		attribute.String("rule.kind", metrics.RuleKind),
		attribute.String("rule.outcome", string(metrics.Outcome)),
	}

	ruleEvaluationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		ruleLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	switch metrics.Outcome {
	case RuleOutcomeViolation:
		ruleViolationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case RuleOutcomeError:
		ruleErrorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("nomos.engine")

		ruleEvaluationCounter, metricsInitErr = meter.Int64Counter(
			"nomos.rule.evaluations_total",
			metric.WithDescription("Contract rule evaluations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		ruleViolationCounter, metricsInitErr = meter.Int64Counter(
			"nomos.rule.violations_total",
			metric.WithDescription("Rule evaluations that produced violations"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		ruleErrorCounter, metricsInitErr = meter.Int64Counter(
			"nomos.rule.errors_total",
			metric.WithDescription("Rule evaluations that failed with an error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		ruleLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"nomos.rule.duration_ms",
			metric.WithDescription("Observed rule evaluation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
