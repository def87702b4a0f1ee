package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomoslabs/nomos/internal/governance"
	"github.com/nomoslabs/nomos/pkg/domain"
)

type stubEvaluator struct {
	decision domain.Decision
	err      error
	tenant   domain.TenantID
}

func (s *stubEvaluator) Evaluate(_ context.Context, tenant domain.TenantID, _ string, _ domain.EvaluationRequest) (domain.Decision, error) {
	s.tenant = tenant
	if s.err != nil {
		return domain.Decision{}, s.err
	}
	d := s.decision
	d.Tenant = tenant
	return d, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func genericRequest(r *http.Request) domain.EvaluationRequest {
	return domain.NewGenericRequest(r.URL.Path, nil)
}

func enforceWith(eval Evaluator, posture Posture) http.Handler {
	chain := TenantFromHeader("")(Enforce(EnforceConfig{
		Gateway:    eval,
		ContractID: "gate",
		Request:    genericRequest,
		Posture:    posture,
		Logger:     discardLogger(),
	})(okHandler()))
	return chain
}

func TestTenantFromHeaderPrecedence(t *testing.T) {
	var got domain.TenantID
	handler := TenantFromHeader("fallback")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = TenantFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenantID, "acme")
	req.Header.Set(HeaderUserID, "user-9")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, domain.TenantID("acme"), got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "user-9")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, domain.TenantID("user-9"), got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, domain.TenantID("fallback"), got)
}

func TestTenantFromHeaderEmptyDefaultIsGlobal(t *testing.T) {
	var got domain.TenantID
	handler := TenantFromHeader("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = TenantFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, domain.GlobalTenant, got)
}

func TestEnforceDenyReturns403WithViolations(t *testing.T) {
	eval := &stubEvaluator{decision: domain.Decision{
		Outcome:    domain.OutcomeDeny,
		ContractID: "gate",
		Violations: []domain.Violation{
			{Rule: "lifecycle", Code: domain.CodeIllegalTransition, Severity: domain.SeverityBlock, Message: "illegal transition pending -> refunded"},
		},
	}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set(HeaderTenantID, "acme")
	enforceWith(eval, PostureFailOpen).ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)

	var body DenyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "CONTRACT_DENIED", body.Code)
	require.Len(t, body.Violations, 1)
	assert.Equal(t, domain.CodeIllegalTransition, body.Violations[0].Code)
	assert.Equal(t, domain.TenantID("acme"), eval.tenant)
}

func TestEnforceWarningsPassThroughWithHeader(t *testing.T) {
	eval := &stubEvaluator{decision: domain.Decision{
		Outcome:    domain.OutcomeAllow,
		ContractID: "gate",
		Violations: []domain.Violation{
			{Rule: "fraud", Code: domain.CodePredicateFailed, Severity: domain.SeverityWarn, Message: "fraud score high"},
			{Rule: "audit", Code: domain.CodePredicateFailed, Severity: domain.SeverityWarn, Message: "missing audit tag"},
		},
	}}

	rec := httptest.NewRecorder()
	enforceWith(eval, PostureFailOpen).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get(HeaderContractWarnings))
}

func TestEnforceUnconfiguredHonorsPosture(t *testing.T) {
	eval := &stubEvaluator{decision: domain.Decision{Outcome: domain.OutcomeUnconfigured}}

	rec := httptest.NewRecorder()
	enforceWith(eval, PostureFailOpen).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	enforceWith(eval, PostureFailClosed).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body DenyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "CONTRACT_UNCONFIGURED", body.Code)
}

func TestEnforceEvaluationErrorReturns500(t *testing.T) {
	eval := &stubEvaluator{err: errors.New("registry closed")}

	rec := httptest.NewRecorder()
	enforceWith(eval, PostureFailOpen).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body DenyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "EVALUATION_FAILED", body.Code)
}

func TestParsePosture(t *testing.T) {
	p, err := ParsePosture("Fail-Closed")
	require.NoError(t, err)
	assert.Equal(t, PostureFailClosed, p)

	_, err = ParsePosture("whatever")
	assert.Error(t, err)
}

func TestRateLimitMiddleware(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := governance.NewTenantLimiter(
		governance.LimitConfig{RequestsPerSecond: 1, BurstSize: 2},
		governance.WithClock(func() time.Time { return clock }),
	)

	handler := TenantFromHeader("")(RateLimit(limiter, discardLogger())(okHandler()))

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/contracts", nil)
		req.Header.Set(HeaderTenantID, "acme")
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	send()
	rec = send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body DenyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Code)
}
