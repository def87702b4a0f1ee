package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nomoslabs/nomos/pkg/domain"
	"github.com/nomoslabs/nomos/pkg/guard"
	"github.com/nomoslabs/nomos/pkg/machine"
	"github.com/nomoslabs/nomos/pkg/registry"
	"github.com/nomoslabs/nomos/pkg/telemetry"
)

// Config wires the gateway's collaborators. Registry is required; the rest
// default to the global otel tracer, no metrics, and the system clock.
type Config struct {
	Registry *registry.Registry
	Tracer   trace.Tracer
	Metrics  *telemetry.Metrics
	Clock    func() time.Time
}

// Gateway evaluates requests against the contracts a registry serves. It is
// stateless apart from the decision sequence counter and safe for concurrent
// use. An evaluation in flight keeps the compiled contract version it
// resolved; a concurrent republish affects only later calls.
type Gateway struct {
	registry *registry.Registry
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	clock    func() time.Time
	sequence atomic.Int64
}

// New builds a Gateway from the configuration.
func New(cfg Config) *Gateway {
	g := &Gateway{
		registry: cfg.Registry,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("nomos.engine")
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	return g
}

// Evaluate runs one request against the tenant's contract. A resolution miss
// or a contract with no rule of the requested kind yields Unconfigured, not
// an error; the error return is reserved for malformed requests. Outcome and
// violations depend only on the request and the contract version captured at
// resolve time, so repeated calls against an unchanged contract agree.
func (g *Gateway) Evaluate(ctx context.Context, tenant domain.TenantID, contractID string, req domain.EvaluationRequest) (domain.Decision, error) {
	start := time.Now()
	tenant = tenant.Normalize()

	ctx, span := g.tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(
		attribute.String("nomos.tenant", string(tenant)),
		attribute.String("nomos.contract.id", contractID),
		attribute.String("nomos.request.kind", string(req.Kind)),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return domain.Decision{}, g.fail(span, start, tenant, req.Kind, err)
	}

	compiled, err := g.registry.ResolveCompiled(ctx, tenant, contractID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrContractNotFound):
		// A missing contract is an outcome, not a failure.
		decision := domain.Decision{Outcome: domain.OutcomeUnconfigured, Tenant: tenant}
		return g.finish(span, start, req.Kind, decision), nil
	default:
		return domain.Decision{}, g.fail(span, start, tenant, req.Kind, err)
	}

	decision := g.run(ctx, tenant, compiled, req)
	return g.finish(span, start, req.Kind, decision), nil
}

// EvaluateBatch evaluates each request in order and returns one decision per
// request. Requests are validated up front so a malformed batch fails before
// any rule runs.
func (g *Gateway) EvaluateBatch(ctx context.Context, tenant domain.TenantID, contractID string, reqs []domain.EvaluationRequest) ([]domain.Decision, error) {
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("request[%d]: %w", i, err)
		}
	}

	ctx, span := g.tracer.Start(ctx, "engine.evaluate_batch", trace.WithAttributes(
		attribute.Int("nomos.batch.size", len(reqs)),
	))
	defer span.End()

	decisions := make([]domain.Decision, 0, len(reqs))
	for _, req := range reqs {
		decision, err := g.Evaluate(ctx, tenant, contractID, req)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

// run dispatches every rule of the matching kind in declaration order and
// folds the violations into an outcome. Nothing short-circuits: the decision
// always carries the complete violation list.
func (g *Gateway) run(ctx context.Context, tenant domain.TenantID, compiled *registry.Compiled, req domain.EvaluationRequest) domain.Decision {
	kind := req.RuleKind()

	matched := false
	var violations []domain.Violation
	for _, rule := range compiled.Contract.Rules {
		if rule.Kind != kind {
			continue
		}
		matched = true

		ruleStart := time.Now()
		found := evaluateRule(ctx, compiled, rule, req)
		telemetry.RecordRuleMetrics(ctx, telemetry.RuleMetrics{
			Tenant:          string(tenant),
			ContractID:      compiled.Contract.ID,
			ContractVersion: compiled.Contract.Version,
			RuleID:          rule.ID,
			RuleKind:        string(rule.Kind),
			Outcome:         ruleOutcome(found),
			Duration:        time.Since(ruleStart),
		})
		violations = append(violations, found...)
	}

	if !matched {
		return domain.Decision{
			Outcome:         domain.OutcomeUnconfigured,
			Tenant:          tenant,
			ContractID:      compiled.Contract.ID,
			ContractVersion: compiled.Contract.Version,
		}
	}

	outcome := domain.OutcomeAllow
	for _, v := range violations {
		if v.Severity == domain.SeverityBlock {
			outcome = domain.OutcomeDeny
			break
		}
	}

	return domain.Decision{
		Outcome:         outcome,
		Tenant:          tenant,
		ContractID:      compiled.Contract.ID,
		ContractVersion: compiled.Contract.Version,
		Violations:      violations,
	}
}

func evaluateRule(ctx context.Context, compiled *registry.Compiled, rule domain.Rule, req domain.EvaluationRequest) []domain.Violation {
	switch rule.Kind {
	case domain.KindTransition:
		return evaluateTransition(ctx, compiled, rule, req.Transition)
	case domain.KindDependency:
		return evaluateDependency(compiled, rule, req.Dependency)
	case domain.KindPredicate:
		return evaluatePredicate(ctx, compiled, rule, req.Generic)
	default:
		return nil
	}
}

func evaluateTransition(ctx context.Context, compiled *registry.Compiled, rule domain.Rule, req *domain.TransitionRequest) []domain.Violation {
	m := compiled.Machines[rule.ID]
	if m == nil {
		return nil
	}

	resolve := func(name string) (machine.GuardFunc, bool) {
		predicate, ok := compiled.Predicates[name]
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, reqCtx map[string]any) (bool, error) {
			return predicate(ctx, guard.Input{Subject: req.Entity, Params: rule.Params, Context: reqCtx})
		}, true
	}

	res := m.ValidateTransition(ctx, req.From, req.To, resolve, req.Context)
	if res.OK {
		return nil
	}

	details := res.Details
	if req.Entity != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["entity"] = req.Entity
	}
	return []domain.Violation{{
		Rule:     rule.ID,
		Code:     res.Code,
		Severity: rule.Severity,
		Message:  res.Message,
		Details:  details,
	}}
}

func evaluateDependency(compiled *registry.Compiled, rule domain.Rule, req *domain.DependencyRequest) []domain.Violation {
	graph := compiled.Graphs[rule.ID]
	if graph == nil {
		return nil
	}

	res := graph.ValidateDependency(req.FromModule, req.ToModule)
	if res.OK {
		return nil
	}
	return []domain.Violation{{
		Rule:     rule.ID,
		Code:     res.Code,
		Severity: rule.Severity,
		Message:  res.Message,
		Hint:     res.Hint,
		Details:  res.Details,
	}}
}

func evaluatePredicate(ctx context.Context, compiled *registry.Compiled, rule domain.Rule, req *domain.GenericRequest) []domain.Violation {
	violation := domain.Violation{
		Rule:     rule.ID,
		Code:     domain.CodePredicateFailed,
		Severity: rule.Severity,
		Details:  map[string]any{"predicate": rule.Predicate, "subject": req.Subject},
	}

	predicate, ok := compiled.Predicates[rule.Predicate]
	if !ok {
		// Publish-time resolution makes this unreachable for published
		// contracts; degrade to a violation rather than panic.
		violation.Message = fmt.Sprintf("predicate %q is not resolved", rule.Predicate)
		violation.Details["error"] = "predicate not resolved"
		return []domain.Violation{violation}
	}

	held, err := predicate(ctx, guard.Input{Subject: req.Subject, Params: rule.Params, Context: req.Context})
	if err != nil {
		violation.Message = fmt.Sprintf("predicate %q failed for subject %q", rule.Predicate, req.Subject)
		violation.Details["error"] = err.Error()
		return []domain.Violation{violation}
	}
	if !held {
		violation.Message = fmt.Sprintf("predicate %q did not hold for subject %q", rule.Predicate, req.Subject)
		return []domain.Violation{violation}
	}
	return nil
}

// ruleOutcome classifies a rule's violations for metrics. Guard and predicate
// evaluation errors surface through the "error" detail key.
func ruleOutcome(violations []domain.Violation) telemetry.RuleOutcome {
	if len(violations) == 0 {
		return telemetry.RuleOutcomePass
	}
	for _, v := range violations {
		if _, ok := v.Details["error"]; ok {
			return telemetry.RuleOutcomeError
		}
	}
	return telemetry.RuleOutcomeViolation
}

// finish stamps per-call identity onto the decision and records telemetry.
func (g *Gateway) finish(span trace.Span, start time.Time, kind domain.RequestKind, decision domain.Decision) domain.Decision {
	decision.ID = uuid.NewString()
	decision.Sequence = g.sequence.Add(1)
	decision.EvaluatedAt = g.clock().UTC()

	telemetry.RecordDecision(span, decision)

	if g.metrics != nil {
		g.metrics.RecordEvaluation(string(decision.Tenant), string(kind), string(decision.Outcome), time.Since(start))
		for _, v := range decision.Violations {
			g.metrics.RecordViolation(string(v.Code), string(v.Severity))
		}
	}
	return decision
}

// fail records a host-misuse error on the span and metrics.
func (g *Gateway) fail(span trace.Span, start time.Time, tenant domain.TenantID, kind domain.RequestKind, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if g.metrics != nil {
		g.metrics.RecordEvaluation(string(tenant), string(kind), "error", time.Since(start))
	}
	return err
}
