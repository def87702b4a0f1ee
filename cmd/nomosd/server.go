package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"github.com/nomoslabs/nomos/internal/governance"
	"github.com/nomoslabs/nomos/pkg/config"
	"github.com/nomoslabs/nomos/pkg/domain"
	"github.com/nomoslabs/nomos/pkg/engine"
	"github.com/nomoslabs/nomos/pkg/middleware"
	"github.com/nomoslabs/nomos/pkg/registry"
	"github.com/nomoslabs/nomos/pkg/telemetry"
)

const maxBodyBytes = 1 << 20 // 1 MiB request body cap

type apiServerConfig struct {
	Registry      *registry.Registry
	Gateway       *engine.Gateway
	Metrics       *telemetry.Metrics
	Limiter       *governance.TenantLimiter
	Logger        *slog.Logger
	DefaultTenant domain.TenantID
	Posture       middleware.Posture
}

// apiServer exposes the decision and admin APIs over HTTP.
type apiServer struct {
	registry *registry.Registry
	gateway  *engine.Gateway
	metrics  *telemetry.Metrics
	limiter  *governance.TenantLimiter
	logger   *slog.Logger
	tenant   domain.TenantID
	posture  middleware.Posture
}

func newAPIServer(cfg apiServerConfig) *apiServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &apiServer{
		registry: cfg.Registry,
		gateway:  cfg.Gateway,
		metrics:  cfg.Metrics,
		limiter:  cfg.Limiter,
		logger:   logger,
		tenant:   cfg.DefaultTenant,
		posture:  cfg.Posture,
	}
}

// Handler builds the route table. Publish endpoints sit behind the
// per-tenant rate limiter; evaluation endpoints do not, their cost is
// bounded by the engine itself.
func (s *apiServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /v1/evaluate/batch", s.handleEvaluateBatch)

	publish := middleware.RateLimit(s.limiter, s.logger)
	mux.Handle("POST /v1/contracts", publish(http.HandlerFunc(s.handlePublish)))
	mux.HandleFunc("GET /v1/contracts", s.handleList)
	mux.HandleFunc("GET /v1/contracts/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/contracts/{id}/versions", s.handleHistory)
	mux.HandleFunc("GET /v1/contracts/{id}/versions/{version}", s.handleGetVersion)

	var handler http.Handler = mux
	handler = middleware.TenantFromHeader(s.tenant)(handler)
	handler = s.metrics.Middleware(handler)
	return handler
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": s.registry.Generation(),
		"contracts":  s.registry.Count(),
	})
}

// evaluateRequest is the decision API payload. Tenant is optional and
// falls back to the tenant header.
type evaluateRequest struct {
	Tenant   domain.TenantID          `json:"tenant,omitempty"`
	Contract string                   `json:"contract"`
	Request  domain.EvaluationRequest `json:"request"`
}

type batchEvaluateRequest struct {
	Tenant   domain.TenantID            `json:"tenant,omitempty"`
	Contract string                     `json:"contract"`
	Requests []domain.EvaluationRequest `json:"requests"`
}

func (s *apiServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Contract == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_CONTRACT", "contract is required")
		return
	}

	tenant := s.requestTenant(r, req.Tenant)
	decision, err := s.gateway.Evaluate(r.Context(), tenant, req.Contract, req.Request)
	if err != nil {
		s.writeEvaluateError(w, r, err)
		return
	}
	w.Header().Set("X-Contract-Enforce", s.effectiveDisposition(decision))
	writeJSON(w, http.StatusOK, decision)
}

// effectiveDisposition folds the posture into the outcome so callers that
// only honor the header need no unconfigured handling of their own.
func (s *apiServer) effectiveDisposition(decision domain.Decision) string {
	switch decision.Outcome {
	case domain.OutcomeDeny:
		return "deny"
	case domain.OutcomeUnconfigured:
		if s.posture == middleware.PostureFailClosed {
			return "deny"
		}
		return "allow"
	default:
		return "allow"
	}
}

func (s *apiServer) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchEvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Contract == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_CONTRACT", "contract is required")
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, r, http.StatusBadRequest, "EMPTY_BATCH", "requests must not be empty")
		return
	}

	tenant := s.requestTenant(r, req.Tenant)
	decisions, err := s.gateway.EvaluateBatch(r.Context(), tenant, req.Contract, req.Requests)
	if err != nil {
		s.writeEvaluateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

// writeEvaluateError maps gateway errors; a missing contract is not one of
// them, the gateway folds that into an unconfigured decision.
func (s *apiServer) writeEvaluateError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrRequestInvalid) {
		writeError(w, r, http.StatusBadRequest, "REQUEST_INVALID", err.Error())
		return
	}
	s.logger.Error("Evaluation failed", "error", err)
	writeError(w, r, http.StatusInternalServerError, "EVALUATION_FAILED", "evaluation failed")
}

// handlePublish accepts a contract document, publishes every contract in
// it, and reports the stored versions. Publication is atomic per
// contract, not per document: earlier contracts stay published when a
// later one is rejected.
func (s *apiServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "BODY_READ_FAILED", "failed to read request body")
		return
	}

	doc, err := config.ParseDocument(body)
	if err != nil {
		s.recordPublish(r, "parse_error")
		writeError(w, r, http.StatusBadRequest, "DOCUMENT_INVALID", err.Error())
		return
	}

	tenant, contracts, err := doc.ToDomain()
	if err != nil {
		s.recordPublish(r, "invalid")
		writeError(w, r, http.StatusUnprocessableEntity, "CONTRACT_INVALID", err.Error())
		return
	}
	if headerTenant, ok := middleware.TenantFromContext(r.Context()); ok && tenant == domain.GlobalTenant {
		tenant = headerTenant
	}

	published := make([]domain.ContractInfo, 0, len(contracts))
	for _, c := range contracts {
		stored, err := s.registry.Publish(r.Context(), tenant, c)
		if err != nil {
			s.recordPublish(r, "rejected")
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"code":     "CONTRACT_INVALID",
					"contract": verr.Contract,
					"problems": verr.Problems,
					"trace_id": traceID(r),
				})
				return
			}
			s.logger.Error("Publish failed", "tenant", tenant, "contract", c.ID, "error", err)
			writeError(w, r, http.StatusInternalServerError, "PUBLISH_FAILED", "publish failed")
			return
		}
		published = append(published, contractInfo(stored))
	}

	s.recordPublish(r, "ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":     tenant,
		"generation": s.registry.Generation(),
		"contracts":  published,
	})
}

func (s *apiServer) recordPublish(r *http.Request, result string) {
	tenant, _ := middleware.TenantFromContext(r.Context())
	s.metrics.RecordPublish(string(tenant), result)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	tenant := s.requestTenant(r, domain.TenantID(r.URL.Query().Get("tenant")))
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":    tenant,
		"contracts": s.registry.List(r.Context(), tenant),
	})
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	tenant := s.requestTenant(r, domain.TenantID(r.URL.Query().Get("tenant")))
	c, err := s.registry.Resolve(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "CONTRACT_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	tenant := s.requestTenant(r, domain.TenantID(r.URL.Query().Get("tenant")))
	history, err := s.registry.History(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "CONTRACT_NOT_FOUND", err.Error())
		return
	}
	infos := make([]domain.ContractInfo, 0, len(history))
	for _, c := range history {
		infos = append(infos, contractInfo(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": infos})
}

func (s *apiServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(r.PathValue("version"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "VERSION_INVALID", "version must be an integer")
		return
	}

	tenant := s.requestTenant(r, domain.TenantID(r.URL.Query().Get("tenant")))
	c, err := s.registry.ResolveVersion(r.Context(), tenant, r.PathValue("id"), version)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "VERSION_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func contractInfo(c domain.Contract) domain.ContractInfo {
	return domain.ContractInfo{
		ID:       c.ID,
		Tenant:   c.Tenant,
		Version:  c.Version,
		Revision: c.Revision,
		Rules:    len(c.Rules),
	}
}

// requestTenant resolves the effective tenant: explicit payload or query
// value first, tenant header second.
func (s *apiServer) requestTenant(r *http.Request, explicit domain.TenantID) domain.TenantID {
	if explicit = explicit.Normalize(); explicit != domain.GlobalTenant {
		return explicit
	}
	if tenant, ok := middleware.TenantFromContext(r.Context()); ok {
		return tenant
	}
	return domain.GlobalTenant
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "BODY_INVALID", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, domain.ErrorResponse{
		Code:    code,
		Message: message,
		TraceID: traceID(r),
	})
}

func traceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
