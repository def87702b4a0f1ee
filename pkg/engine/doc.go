// Package engine implements the enforcement gateway that evaluates requests
// against published contracts.
//
// Architecture:
//
// gateway.go   - Core evaluation engine (Gateway, rule dispatch, outcome fold)
// cache.go     - Opt-in decision cache keyed by registry generation
// simulator.go - Scenario runner replaying expected decisions for CI
//
// The gateway resolves a compiled contract snapshot once per call, runs every
// rule matching the request kind in declaration order, and aggregates all
// violations into a single Decision. Evaluation never logs; telemetry flows
// through spans and metrics only.
package engine
