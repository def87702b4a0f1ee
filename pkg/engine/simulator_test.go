package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nomoslabs/nomos/pkg/domain"
)

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()

	g, r := newTestGateway(t)
	publish(t, r, "acme", orderContract())
	return NewSimulator(g, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSimulatorPassingScenario(t *testing.T) {
	sim := newTestSimulator(t)

	report, err := sim.Run(context.Background(), Scenario{
		Name:     "payment lifecycle",
		Tenant:   "acme",
		Contract: "order-flow",
		Steps: []Step{
			{
				Name:    "capture",
				Request: domain.NewTransitionRequest("order-1", "pending", "paid", nil),
				Expect:  Expectation{Outcome: domain.OutcomeAllow},
			},
			{
				Name:    "skip straight to refund",
				Request: domain.NewTransitionRequest("order-2", "pending", "refunded", nil),
				Expect: Expectation{
					Outcome: domain.OutcomeDeny,
					Codes:   []domain.ViolationCode{domain.CodeIllegalTransition},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}

	if !report.Passed {
		t.Fatalf("report failed: %+v", report.Steps)
	}
	if len(report.Steps) != 2 {
		t.Fatalf("got %d step results, want 2", len(report.Steps))
	}
	for _, step := range report.Steps {
		if !step.Passed {
			t.Errorf("step %q failed: %v", step.Step, step.Mismatches)
		}
	}
}

func TestSimulatorReportsMismatches(t *testing.T) {
	sim := newTestSimulator(t)

	report, err := sim.Run(context.Background(), Scenario{
		Name:     "wrong expectations",
		Tenant:   "acme",
		Contract: "order-flow",
		Steps: []Step{
			{
				Name:    "expects the wrong outcome",
				Request: domain.NewTransitionRequest("order-1", "pending", "paid", nil),
				Expect:  Expectation{Outcome: domain.OutcomeDeny},
			},
			{
				Name:    "expects the wrong code",
				Request: domain.NewTransitionRequest("order-2", "pending", "refunded", nil),
				Expect: Expectation{
					Outcome: domain.OutcomeDeny,
					Codes:   []domain.ViolationCode{domain.CodeUnknownState},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}

	if report.Passed {
		t.Fatal("report passed, want failure")
	}
	if report.Steps[0].Passed {
		t.Error("step 0 passed, want outcome mismatch")
	}
	if report.Steps[1].Passed {
		t.Error("step 1 passed, want code mismatch")
	}
	if len(report.Steps[1].Mismatches) == 0 {
		t.Error("step 1 has no mismatch detail")
	}
}

func TestSimulatorStepOverrides(t *testing.T) {
	g, r := newTestGateway(t)
	publish(t, r, "acme", orderContract())
	sim := NewSimulator(g, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := sim.Run(context.Background(), Scenario{
		Name:     "tenant override",
		Tenant:   "acme",
		Contract: "order-flow",
		Steps: []Step{
			{
				Name:    "other tenant is unconfigured",
				Tenant:  "globex",
				Request: domain.NewTransitionRequest("order-1", "pending", "paid", nil),
				Expect:  Expectation{Outcome: domain.OutcomeUnconfigured},
			},
		},
	})
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}
	if !report.Passed {
		t.Fatalf("report failed: %+v", report.Steps)
	}
}

func TestSimulatorEmptyScenario(t *testing.T) {
	sim := newTestSimulator(t)

	if _, err := sim.Run(context.Background(), Scenario{Name: "empty"}); err == nil {
		t.Fatal("expected error for scenario without steps")
	}
}

func TestSimulatorMalformedStepFails(t *testing.T) {
	sim := newTestSimulator(t)

	_, err := sim.Run(context.Background(), Scenario{
		Name:     "broken",
		Tenant:   "acme",
		Contract: "order-flow",
		Steps:    []Step{{Name: "no variant", Request: domain.EvaluationRequest{Kind: domain.RequestTransition}}},
	})
	if err == nil {
		t.Fatal("expected error for malformed request")
	}
}
