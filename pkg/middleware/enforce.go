package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nomoslabs/nomos/pkg/domain"
)

// HeaderContractWarnings reports the number of advisory violations on
// allowed responses.
const HeaderContractWarnings = "X-Contract-Warnings"

// Posture decides what happens when no contract is configured for the
// tenant. The engine enforces no default; the host picks one here.
type Posture string

const (
	// PostureFailOpen passes unconfigured requests through.
	PostureFailOpen Posture = "fail-open"
	// PostureFailClosed denies unconfigured requests.
	PostureFailClosed Posture = "fail-closed"
)

// IsValid reports whether the posture is recognised.
func (p Posture) IsValid() bool {
	switch p {
	case PostureFailOpen, PostureFailClosed:
		return true
	default:
		return false
	}
}

// ParsePosture converts a textual posture into its constant.
func ParsePosture(value string) (Posture, error) {
	p := Posture(strings.TrimSpace(strings.ToLower(value)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid posture %q", value)
	}
	return p, nil
}

// Evaluator is the decision surface the middleware calls. Both
// engine.Gateway and engine.CachedGateway satisfy it.
type Evaluator interface {
	Evaluate(ctx context.Context, tenant domain.TenantID, contractID string, req domain.EvaluationRequest) (domain.Decision, error)
}

// RequestFunc builds the evaluation request for one HTTP request.
type RequestFunc func(*http.Request) domain.EvaluationRequest

// EnforceConfig wires the enforcement middleware.
type EnforceConfig struct {
	Gateway    Evaluator
	ContractID string
	Request    RequestFunc
	// Posture governs unconfigured tenants. Defaults to fail-open.
	Posture Posture
	Logger  *slog.Logger
}

// DenyResponse is the JSON body returned for denied requests.
type DenyResponse struct {
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// Enforce evaluates every request through the gateway. Denied requests
// get a 403 with the full violation list; allowed requests with
// advisory violations pass through with a warning header; unconfigured
// tenants follow the configured posture.
func Enforce(cfg EnforceConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	posture := cfg.Posture
	if posture == "" {
		posture = PostureFailOpen
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, _ := TenantFromContext(r.Context())

			decision, err := cfg.Gateway.Evaluate(r.Context(), tenant, cfg.ContractID, cfg.Request(r))
			if err != nil {
				logger.Error("contract evaluation failed",
					"tenant", string(tenant),
					"contract", cfg.ContractID,
					"error", err)
				writeJSON(w, http.StatusInternalServerError, DenyResponse{
					Code:    "EVALUATION_FAILED",
					Message: "contract evaluation failed",
				})
				return
			}

			switch decision.Outcome {
			case domain.OutcomeDeny:
				writeJSON(w, http.StatusForbidden, DenyResponse{
					Code:       "CONTRACT_DENIED",
					Message:    fmt.Sprintf("request denied by contract %q", decision.ContractID),
					Violations: decision.Violations,
				})
				return

			case domain.OutcomeUnconfigured:
				if posture == PostureFailClosed {
					writeJSON(w, http.StatusForbidden, DenyResponse{
						Code:    "CONTRACT_UNCONFIGURED",
						Message: fmt.Sprintf("no contract configured for tenant %q", tenant),
					})
					return
				}

			case domain.OutcomeAllow:
				if len(decision.Violations) > 0 {
					w.Header().Set(HeaderContractWarnings, strconv.Itoa(len(decision.Violations)))
					for _, v := range decision.Violations {
						logger.Warn("contract warning",
							"tenant", string(tenant),
							"contract", decision.ContractID,
							"rule", v.Rule,
							"code", string(v.Code),
							"message", v.Message)
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
