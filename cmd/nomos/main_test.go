package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validDocument = `
schemaVersion: 1
tenant: acme
contracts:
  - id: order-flow
    revision: v1
    rules:
      - id: lifecycle
        kind: transition
        severity: block
        machine:
          states: [pending, paid, refunded]
          initial: pending
          transitions:
            - {from: pending, to: paid}
            - {from: paid, to: refunded}
          terminal: [refunded]
      - id: layering
        kind: dependency
        severity: block
        architecture:
          layers: [web, data]
          modules: {api: web, db: data}
          allowed: [{from: web, to: data}]
          hints: {"data->web": "data may not reach back into web"}
`

const invalidDocument = `
schemaVersion: 1
tenant: acme
contracts:
  - id: broken
    rules:
      - id: lifecycle
        kind: transition
        severity: block
        machine:
          states: [pending, paid, orphan]
          initial: pending
          transitions:
            - {from: pending, to: paid}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// runCLI executes the root command with args and returns stdout, stderr,
// and the execution error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateAcceptsGoodDocument(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", validDocument)

	stdout, _, err := runCLI(t, "validate", "-f", doc)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(stdout, "OK") {
		t.Errorf("stdout = %q, want OK marker", stdout)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", invalidDocument)

	_, stderr, err := runCLI(t, "validate", "-f", doc)
	if err == nil {
		t.Fatal("validate succeeded on an invalid document")
	}
	if !strings.Contains(stderr, "unreachable") {
		t.Errorf("stderr = %q, want unreachable-state problem", stderr)
	}
}

func TestCheckFlagsForbiddenEdges(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", validDocument)
	deps := writeFile(t, dir, "deps.yaml", "edges:\n  - {from: api, to: db}\n  - {from: db, to: api}\n")

	stdout, _, err := runCLI(t, "check", "-f", doc, "--deps", deps)
	if err == nil {
		t.Fatal("check succeeded despite a forbidden edge")
	}
	if !strings.Contains(stdout, "forbidden-layer-edge") {
		t.Errorf("stdout = %q, want forbidden-layer-edge violation", stdout)
	}
	if !strings.Contains(stdout, "data may not reach back into web") {
		t.Errorf("stdout = %q, want remediation hint", stdout)
	}
}

func TestCheckPassesCleanSnapshot(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", validDocument)
	deps := writeFile(t, dir, "deps.yaml", "edges:\n  - {from: api, to: db}\n")

	stdout, _, err := runCLI(t, "check", "-f", doc, "--deps", deps)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(stdout, "no violations") {
		t.Errorf("stdout = %q, want clean report", stdout)
	}
}

func TestEvalDeniesIllegalTransition(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", validDocument)
	req := writeFile(t, dir, "request.yaml", `
kind: transition
transition:
  entity: order-1
  from: pending
  to: refunded
`)

	stdout, _, err := runCLI(t, "eval", "-f", doc, "--tenant", "acme", "--request", req)
	if err == nil {
		t.Fatal("eval succeeded on a denied request")
	}
	if !strings.Contains(stdout, "deny") {
		t.Errorf("stdout = %q, want deny outcome", stdout)
	}
	if !strings.Contains(stdout, "illegal-transition") {
		t.Errorf("stdout = %q, want illegal-transition violation", stdout)
	}
}

func TestEvalAllowsLegalTransitionAsJSON(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", validDocument)
	req := writeFile(t, dir, "request.yaml", `
kind: transition
transition:
  from: pending
  to: paid
`)

	stdout, _, err := runCLI(t, "eval", "-f", doc, "--request", req, "-o", "json")
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if !strings.Contains(stdout, `"outcome": "allow"`) {
		t.Errorf("stdout = %q, want allow outcome in JSON", stdout)
	}
}

func TestSimulateRunsScenario(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", validDocument)
	scenario := writeFile(t, dir, "scenario.yaml", `
name: payment lifecycle
tenant: acme
contract: order-flow
steps:
  - name: capture
    request:
      kind: transition
      transition: {from: pending, to: paid}
    expect: {outcome: allow}
  - name: refund from pending
    request:
      kind: transition
      transition: {from: pending, to: refunded}
    expect:
      outcome: deny
      codes: [illegal-transition]
`)

	stdout, _, err := runCLI(t, "simulate", "-f", doc, "--scenario", scenario)
	if err != nil {
		t.Fatalf("simulate failed: %v\n%s", err, stdout)
	}
	if !strings.Contains(stdout, "passed") {
		t.Errorf("stdout = %q, want passing report", stdout)
	}
}

func TestSimulateFailsOnMismatch(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "contracts.yaml", validDocument)
	scenario := writeFile(t, dir, "scenario.yaml", `
name: wrong
tenant: acme
contract: order-flow
steps:
  - name: capture
    request:
      kind: transition
      transition: {from: pending, to: paid}
    expect: {outcome: deny}
`)

	stdout, _, err := runCLI(t, "simulate", "-f", doc, "--scenario", scenario)
	if err == nil {
		t.Fatal("simulate succeeded on a mismatching scenario")
	}
	if !strings.Contains(stdout, "FAIL") {
		t.Errorf("stdout = %q, want FAIL marker", stdout)
	}
}
