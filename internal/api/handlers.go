package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"

	"github.com/gorilla/mux"
)

const (
	maxBodyBytes  = 4 << 10
	healthTimeout = time.Second
)

// Actions keyed by client address. A check for one of these without a token
// is counted against the caller's IP.
var ipKeyedActions = map[ratelimit.Action]bool{
	ratelimit.ActionUserLogin: true,
	ratelimit.ActionSignup:    true,
}

// Handlers contains the HTTP handlers of the gatekeeper sidecar.
type Handlers struct {
	limiter   *ratelimit.Limiter
	store     storage.CounterStore
	version   version.Info
	clientKey ratelimit.KeyFunc
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithTrustedProxyHeaders derives client addresses from X-Forwarded-For and
// X-Real-IP. Only enable it behind a proxy that overwrites those headers.
func WithTrustedProxyHeaders(trust bool) HandlerOption {
	return func(h *Handlers) {
		if trust {
			h.clientKey = ratelimit.ClientIP
		} else {
			h.clientKey = ratelimit.RemoteIP
		}
	}
}

// NewHandlers creates handlers backed by limiter. store is only pinged for
// health reporting.
func NewHandlers(limiter *ratelimit.Limiter, store storage.CounterStore, ver version.Info, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		limiter:   limiter,
		store:     store,
		version:   ver,
		clientKey: ratelimit.RemoteIP,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CheckLimit counts one attempt.
// POST /api/v1/limits/{action}/check
func (h *Handlers) CheckLimit(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.policyFromPath(w, r)
	if !ok {
		return
	}

	var req models.CheckRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	token := req.Token
	if token == "" && ipKeyedActions[policy.Action] {
		token = h.clientKey(r)
	}

	info, err := h.limiter.Allow(r.Context(), policy.Action, token)
	var exceeded *ratelimit.ExceededError
	switch {
	case err == nil:
		ratelimit.WriteHeaders(w, info)
		h.writeJSONResponse(w, http.StatusOK, models.CheckResponse{
			Allowed:   true,
			Action:    string(policy.Action),
			Limit:     info.Limit,
			Remaining: info.Remaining,
			ResetAt:   info.ResetAt.UTC(),
		})
	case errors.As(err, &exceeded):
		ratelimit.WriteHeaders(w, info)
		ratelimit.WriteExceeded(w, exceeded)
	default:
		slog.Debug("Limit check aborted", "action", policy.Action, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeInternalError, "Request canceled")
	}
}

// GetCounter returns the stored counter for a token without counting.
// GET /api/v1/limits/{action}/counters?token=...
func (h *Handlers) GetCounter(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.policyFromPath(w, r)
	if !ok {
		return
	}

	counter, err := h.limiter.Inspect(r.Context(), policy.Action, r.URL.Query().Get("token"))
	switch {
	case err == nil:
		h.writeJSONResponse(w, http.StatusOK, counter)
	case errors.Is(err, storage.ErrNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "No counter for this token")
	default:
		slog.Warn("Counter lookup failed", "action", policy.Action, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeInternalError, "Counter store unavailable")
	}
}

// ResetCounter clears the counters for a token.
// DELETE /api/v1/limits/{action}/counters
func (h *Handlers) ResetCounter(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.policyFromPath(w, r)
	if !ok {
		return
	}

	var req models.ResetRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.limiter.Reset(r.Context(), policy.Action, req.Token); err != nil {
		slog.Warn("Counter reset failed", "action", policy.Action, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeInternalError, "Counter store unavailable")
		return
	}
	slog.Info("Counter reset", "action", policy.Action)
	w.WriteHeader(http.StatusNoContent)
}

// ListPolicies returns the policy table.
// GET /api/v1/limits
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.limiter.Policies()
	resp := models.ListPoliciesResponse{Policies: make([]models.PolicyInfo, 0, len(policies))}
	for _, p := range policies {
		resp.Policies = append(resp.Policies, policyInfo(p))
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetPolicy returns one policy.
// GET /api/v1/limits/{action}
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.policyFromPath(w, r)
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, policyInfo(policy))
}

// HealthCheck reports the counter store's reachability. An unreachable store
// degrades the service but does not fail it, since limits are still enforced
// by the local fallback.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version

	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("Health check: counter store unreachable", "error", err)
		response.Status = models.StatusDegraded
		response.AddComponent("counter_store", models.StatusUnhealthy, "Counter store unreachable")
		response.AddComponent("limiter", models.StatusDegraded, "Limits enforced per instance by local fallback")
	} else {
		response.AddComponent("counter_store", models.StatusHealthy, "Counter store is reachable")
		response.AddComponent("limiter", models.StatusHealthy, "Limits enforced by shared counters")
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

func (h *Handlers) policyFromPath(w http.ResponseWriter, r *http.Request) (ratelimit.Policy, bool) {
	action := ratelimit.Action(mux.Vars(r)["action"])
	policy, ok := h.limiter.Policy(action)
	if !ok {
		resp := models.NewErrorResponse("Unknown action", models.ErrorCodeUnknownAction).
			WithDetails("action", string(action))
		h.writeJSONResponse(w, http.StatusNotFound, resp)
		return ratelimit.Policy{}, false
	}
	return policy, true
}

// decodeBody reads a small JSON body into dst. An empty body leaves dst zero.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func policyInfo(p ratelimit.Policy) models.PolicyInfo {
	return models.PolicyInfo{
		Action:        string(p.Action),
		Limit:         p.Limit,
		Window:        p.Window.String(),
		WindowSeconds: int64(p.Window.Seconds()),
	}
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
