package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// RecordDecision annotates the provided span with the evaluation outcome.
func RecordDecision(span trace.Span, decision domain.Decision) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("nomos.decision.id", decision.ID),
		attribute.String("nomos.decision.outcome", string(decision.Outcome)),
		attribute.String("nomos.tenant", string(decision.Tenant)),
		attribute.Int("nomos.violations.count", len(decision.Violations)),
	)

	if decision.ContractID != "" {
		span.SetAttributes(
			attribute.String("nomos.contract.id", decision.ContractID),
			attribute.Int64("nomos.contract.version", decision.ContractVersion),
		)
	}

	if decision.Outcome != domain.OutcomeDeny {
		return
	}

	// Violation rule identifiers and codes are coarse enough to export;
	// messages may embed request payload values and stay off the span.
	codes := make([]string, 0, len(decision.Violations))
	rules := make([]string, 0, len(decision.Violations))
	for _, v := range decision.Violations {
		if v.Severity != domain.SeverityBlock {
			continue
		}
		codes = append(codes, string(v.Code))
		rules = append(rules, v.Rule)
	}

	span.AddEvent("contract.denied", trace.WithAttributes(
		attribute.StringSlice("nomos.violation.codes", codes),
		attribute.StringSlice("nomos.violation.rules", rules),
	))
}
