package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// Scenario is a deterministic sequence of evaluation requests with
// expected outcomes, used by CI and the `nomos simulate` command to
// exercise a contract before it ships.
type Scenario struct {
	Name     string `yaml:"name" json:"name"`
	Tenant   string `yaml:"tenant,omitempty" json:"tenant,omitempty"`
	Contract string `yaml:"contract" json:"contract"`
	Steps    []Step `yaml:"steps" json:"steps"`
}

// Step is one evaluation within a scenario. Tenant and Contract
// override the scenario defaults when set.
type Step struct {
	Name     string                   `yaml:"name" json:"name"`
	Tenant   string                   `yaml:"tenant,omitempty" json:"tenant,omitempty"`
	Contract string                   `yaml:"contract,omitempty" json:"contract,omitempty"`
	Request  domain.EvaluationRequest `yaml:"request" json:"request"`
	Expect   Expectation              `yaml:"expect" json:"expect"`
}

// Expectation describes the decision a step must produce. Codes, when
// given, must match the violation codes exactly and in order; an empty
// list checks the outcome alone.
type Expectation struct {
	Outcome domain.Outcome         `yaml:"outcome" json:"outcome"`
	Codes   []domain.ViolationCode `yaml:"codes,omitempty" json:"codes,omitempty"`
}

// StepResult records one executed step.
type StepResult struct {
	Step       string          `yaml:"step" json:"step"`
	Decision   domain.Decision `yaml:"decision" json:"decision"`
	Passed     bool            `yaml:"passed" json:"passed"`
	Mismatches []string        `yaml:"mismatches,omitempty" json:"mismatches,omitempty"`
}

// Report is the outcome of a full scenario run.
type Report struct {
	Scenario string       `yaml:"scenario" json:"scenario"`
	Steps    []StepResult `yaml:"steps" json:"steps"`
	Passed   bool         `yaml:"passed" json:"passed"`
}

// Simulator replays scenarios against a gateway. Evaluation itself is
// side-effect-free, so a simulation never changes registry state.
type Simulator struct {
	gateway *Gateway
	logger  *slog.Logger
}

// NewSimulator creates a scenario runner.
func NewSimulator(gateway *Gateway, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{gateway: gateway, logger: logger}
}

// Run executes every step in order and compares decisions against the
// step expectations. A mismatch fails the report, not the run; the
// error return is reserved for malformed scenarios and evaluation
// faults.
func (s *Simulator) Run(ctx context.Context, scenario Scenario) (*Report, error) {
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", scenario.Name)
	}

	s.logger.Info("starting scenario",
		slog.String("scenario", scenario.Name),
		slog.Int("steps", len(scenario.Steps)))

	report := &Report{Scenario: scenario.Name, Passed: true}
	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step[%d]", i)
		}

		tenant := domain.TenantID(step.Tenant)
		if step.Tenant == "" {
			tenant = domain.TenantID(scenario.Tenant)
		}
		contract := step.Contract
		if contract == "" {
			contract = scenario.Contract
		}

		decision, err := s.gateway.Evaluate(ctx, tenant, contract, step.Request)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}

		result := StepResult{
			Step:       name,
			Decision:   decision,
			Mismatches: compare(step.Expect, decision),
		}
		result.Passed = len(result.Mismatches) == 0
		if !result.Passed {
			report.Passed = false
		}
		report.Steps = append(report.Steps, result)
	}

	s.logger.Info("scenario complete",
		slog.String("scenario", scenario.Name),
		slog.Bool("passed", report.Passed))
	return report, nil
}

func compare(expect Expectation, decision domain.Decision) []string {
	var mismatches []string

	if expect.Outcome != "" && decision.Outcome != expect.Outcome {
		mismatches = append(mismatches,
			fmt.Sprintf("outcome: want %s, got %s", expect.Outcome, decision.Outcome))
	}

	if len(expect.Codes) == 0 {
		return mismatches
	}

	got := make([]domain.ViolationCode, len(decision.Violations))
	for i, v := range decision.Violations {
		got[i] = v.Code
	}
	if len(got) != len(expect.Codes) {
		mismatches = append(mismatches,
			fmt.Sprintf("violations: want codes %v, got %v", expect.Codes, got))
		return mismatches
	}
	for i, code := range expect.Codes {
		if got[i] != code {
			mismatches = append(mismatches,
				fmt.Sprintf("violations[%d]: want code %s, got %s", i, code, got[i]))
		}
	}
	return mismatches
}
