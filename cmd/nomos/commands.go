package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nomoslabs/nomos/pkg/config"
	"github.com/nomoslabs/nomos/pkg/domain"
	"github.com/nomoslabs/nomos/pkg/engine"
	"github.com/nomoslabs/nomos/pkg/logging"
	"github.com/nomoslabs/nomos/pkg/registry"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a contract document",
		Long: `Parse a contract document and run full publish-time validation:
structural checks, state machine compilation (unreachable states,
terminal states with outgoing edges), architecture compilation
(dangling layer references), and predicate resolution. Every problem
is reported, not just the first. Exits non-zero when invalid.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(opts)

			doc, err := loadDocument(file)
			if err != nil {
				return err
			}

			_, _, _, err = buildRegistry(cmd.Context(), doc, logger)
			if err != nil {
				var verr *domain.ValidationError
				if errors.As(err, &verr) {
					fmt.Fprintf(cmd.ErrOrStderr(), "contract %q is invalid:\n", verr.Contract)
					for _, p := range verr.Problems {
						fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p.String())
					}
					return fmt.Errorf("%d problem(s) found", len(verr.Problems))
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d contract(s) valid\n", len(doc.Contracts))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Contract document (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var file, depsFile, tenant, contractID string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a dependency snapshot against architecture rules",
		Long: `Validate every module dependency in a snapshot against the
contract's architecture rules. All violations are collected and
reported in input order; the command exits non-zero when any
block-severity rule is violated, making it usable as a CI gate.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(opts)

			doc, err := loadDocument(file)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(depsFile) // #nosec G304 -- operator-supplied path
			if err != nil {
				return fmt.Errorf("read dependency snapshot: %w", err)
			}
			deps, err := config.ParseDeps(data)
			if err != nil {
				return err
			}

			reg, docTenant, _, err := buildRegistry(cmd.Context(), doc, logger)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			scope := docTenant
			if tenant != "" {
				scope = domain.TenantID(tenant)
			}
			compiled, err := reg.ResolveCompiled(cmd.Context(), scope, pickContract(doc, contractID))
			if err != nil {
				return err
			}

			violations := checkDependencies(compiled, deps)
			if err := printResult(cmd.OutOrStdout(), opts.output, violations, printCheckText); err != nil {
				return err
			}

			for _, v := range violations {
				if v.Severity == domain.SeverityBlock {
					return fmt.Errorf("%d violation(s) found", len(violations))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Contract document (YAML or JSON)")
	cmd.Flags().StringVar(&depsFile, "deps", "", "Dependency snapshot file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant scope (defaults to the document's tenant)")
	cmd.Flags().StringVar(&contractID, "contract", "", "Contract ID (defaults to the document's first contract)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("deps")
	return cmd
}

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var file, requestFile, tenant, contractID string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one request against a contract",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(opts)

			doc, err := loadDocument(file)
			if err != nil {
				return err
			}
			req, err := loadRequest(requestFile)
			if err != nil {
				return err
			}

			reg, docTenant, gateway, err := buildRegistry(cmd.Context(), doc, logger)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			scope := docTenant
			if tenant != "" {
				scope = domain.TenantID(tenant)
			}
			decision, err := gateway.Evaluate(cmd.Context(), scope, pickContract(doc, contractID), req)
			if err != nil {
				return err
			}

			if err := printResult(cmd.OutOrStdout(), opts.output, decision, printDecisionText); err != nil {
				return err
			}
			if decision.Outcome == domain.OutcomeDeny {
				return errors.New("request denied")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Contract document (YAML or JSON)")
	cmd.Flags().StringVar(&requestFile, "request", "", "Evaluation request file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant scope (defaults to the document's tenant)")
	cmd.Flags().StringVar(&contractID, "contract", "", "Contract ID (defaults to the document's first contract)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var file, scenarioFile string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a scenario of requests with expected outcomes",
		Long: `Run a scenario file: an ordered list of evaluation requests with
the outcomes and violation codes each must produce. Exits non-zero
when any step's decision differs from its expectation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(opts)

			doc, err := loadDocument(file)
			if err != nil {
				return err
			}
			scenario, err := loadScenario(scenarioFile)
			if err != nil {
				return err
			}

			reg, docTenant, gateway, err := buildRegistry(cmd.Context(), doc, logger)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			if scenario.Tenant == "" {
				scenario.Tenant = string(docTenant)
			}
			if scenario.Contract == "" {
				scenario.Contract = pickContract(doc, "")
			}

			report, err := engine.NewSimulator(gateway, logger).Run(cmd.Context(), scenario)
			if err != nil {
				return err
			}

			if err := printResult(cmd.OutOrStdout(), opts.output, report, printReportText); err != nil {
				return err
			}
			if !report.Passed {
				return errors.New("scenario failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Contract document (YAML or JSON)")
	cmd.Flags().StringVar(&scenarioFile, "scenario", "", "Scenario file")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newLogger(opts *rootOptions) *slog.Logger {
	logger := logging.NewLogger(logging.Config{
		Level:  opts.logLevel,
		Pretty: opts.logPretty,
		Writer: os.Stderr,
	})
	slog.SetDefault(logger)
	return logger
}

func loadDocument(path string) (*config.Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read contract document: %w", err)
	}
	return config.ParseDocument(data)
}

// buildRegistry publishes every contract of the document into a fresh
// in-process registry, running the same validation the daemon runs.
func buildRegistry(ctx context.Context, doc *config.Document, logger *slog.Logger) (*registry.Registry, domain.TenantID, *engine.Gateway, error) {
	tenant, contracts, err := doc.ToDomain()
	if err != nil {
		return nil, "", nil, err
	}

	reg := registry.New(registry.Options{Logger: logger})
	for _, contract := range contracts {
		if _, err := reg.Publish(ctx, tenant, contract); err != nil {
			_ = reg.Close()
			return nil, "", nil, err
		}
	}

	return reg, tenant, engine.New(engine.Config{Registry: reg}), nil
}

// pickContract returns the explicit contract ID or the document's first.
func pickContract(doc *config.Document, contractID string) string {
	if contractID != "" {
		return contractID
	}
	if len(doc.Contracts) > 0 {
		return doc.Contracts[0].ID
	}
	return ""
}

func loadRequest(path string) (domain.EvaluationRequest, error) {
	var req domain.EvaluationRequest
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return req, fmt.Errorf("read request file: %w", err)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse request file: %w", err)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func loadScenario(path string) (engine.Scenario, error) {
	var scenario engine.Scenario
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return scenario, fmt.Errorf("read scenario file: %w", err)
	}
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return scenario, fmt.Errorf("parse scenario file: %w", err)
	}
	return scenario, nil
}

// checkDependencies runs every dependency rule of the compiled contract
// over the snapshot and folds the failures into violations, input order
// preserved per rule.
func checkDependencies(compiled *registry.Compiled, deps []domain.ModuleDep) []domain.Violation {
	var violations []domain.Violation
	for _, rule := range compiled.Contract.Rules {
		if rule.Kind != domain.KindDependency {
			continue
		}
		graph := compiled.Graphs[rule.ID]
		if graph == nil {
			continue
		}
		for _, res := range graph.ValidateAll(deps) {
			if res.OK {
				continue
			}
			violations = append(violations, domain.Violation{
				Rule:     rule.ID,
				Code:     res.Code,
				Severity: rule.Severity,
				Message:  res.Message,
				Hint:     res.Hint,
				Details:  res.Details,
			})
		}
	}
	return violations
}

// printResult renders value in the selected output format; text output
// goes through the command-specific renderer.
func printResult[T any](w io.Writer, format string, value T, text func(io.Writer, T)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "yaml":
		data, err := yaml.Marshal(value)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "text":
		text(w, value)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printCheckText(w io.Writer, violations []domain.Violation) {
	if len(violations) == 0 {
		fmt.Fprintln(w, "OK: no violations")
		return
	}
	for _, v := range violations {
		fmt.Fprintf(w, "%s [%s] %s: %s\n", v.Severity, v.Code, v.Rule, v.Message)
		if v.Hint != "" {
			fmt.Fprintf(w, "  hint: %s\n", v.Hint)
		}
	}
	fmt.Fprintf(w, "%d violation(s)\n", len(violations))
}

func printDecisionText(w io.Writer, decision domain.Decision) {
	fmt.Fprintf(w, "outcome: %s (contract %s v%d)\n", decision.Outcome, decision.ContractID, decision.ContractVersion)
	for _, v := range decision.Violations {
		fmt.Fprintf(w, "  %s [%s] %s: %s\n", v.Severity, v.Code, v.Rule, v.Message)
		if v.Hint != "" {
			fmt.Fprintf(w, "    hint: %s\n", v.Hint)
		}
	}
}

func printReportText(w io.Writer, report *engine.Report) {
	for _, step := range report.Steps {
		status := "PASS"
		if !step.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s (outcome %s)\n", status, step.Step, step.Decision.Outcome)
		for _, mismatch := range step.Mismatches {
			fmt.Fprintf(w, "      %s\n", mismatch)
		}
	}
	if report.Passed {
		fmt.Fprintf(w, "scenario %q passed (%d steps)\n", report.Scenario, len(report.Steps))
	} else {
		fmt.Fprintf(w, "scenario %q FAILED\n", report.Scenario)
	}
}
