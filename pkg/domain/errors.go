package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors
var (
	ErrContractNotFound = errors.New("contract not found")
	ErrContractInvalid  = errors.New("contract invalid")
	ErrVersionNotFound  = errors.New("contract version not found")
	ErrUnknownPredicate = errors.New("unknown predicate")
	ErrRequestInvalid   = errors.New("invalid evaluation request")
	ErrRegistryClosed   = errors.New("registry closed")
)

// Problem is a single defect found during contract validation.
type Problem struct {
	Field  string `json:"field" yaml:"field"`
	Detail string `json:"detail" yaml:"detail"`
}

func (p Problem) String() string {
	if p.Field == "" {
		return p.Detail
	}
	return p.Field + ": " + p.Detail
}

// ValidationError reports every defect found while validating a contract for
// publication, not just the first. It unwraps to ErrContractInvalid.
type ValidationError struct {
	Contract string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("contract %q invalid", e.Contract)
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("contract %q invalid: %s", e.Contract, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrContractInvalid
}

// Add appends a problem. An empty detail is ignored so callers can report
// conditionally without branching.
func (e *ValidationError) Add(field, detail string) {
	if detail == "" {
		return
	}
	e.Problems = append(e.Problems, Problem{Field: field, Detail: detail})
}

// Addf appends a formatted problem.
func (e *ValidationError) Addf(field, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Field: field, Detail: fmt.Sprintf(format, args...)})
}

// Err returns the error when problems were recorded, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// NotFoundError reports a resolve miss after both the tenant and global
// scopes were consulted. It unwraps to ErrContractNotFound.
type NotFoundError struct {
	Tenant   TenantID
	Contract string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("contract %q not found for tenant %q", e.Contract, e.Tenant)
}

func (e *NotFoundError) Unwrap() error {
	return ErrContractNotFound
}

// ErrorResponse defines the standard JSON error model returned by the daemon
// APIs. It avoids exposing sensitive details while providing a stable
// machine-readable code. TraceID should carry the current OpenTelemetry trace
// identifier when available to aid diagnostics.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., CONTRACT_INVALID, RATE_LIMITED)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
