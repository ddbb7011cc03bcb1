package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router  *mux.Router
	store   *storage.MemoryStorage
	limiter *ratelimit.Limiter
}

func newTestServer(t *testing.T, opts ...HandlerOption) *testServer {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)

	limiter, err := ratelimit.New(store,
		ratelimit.WithClock(func() time.Time { return now }),
		ratelimit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	handlers := NewHandlers(limiter, store, version.Info{Version: "1.2.3"}, opts...)
	return &testServer{
		router:  SetupRoutes(handlers),
		store:   store,
		limiter: limiter,
	}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "198.51.100.7:40000"
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func TestCheckLimit_Allowed(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("POST", "/api/v1/limits/password_reset/check", `{"token":"Alice@Example.com"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "3", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Remaining"))

	resp := decode[models.CheckResponse](t, rr)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "password_reset", resp.Action)
	assert.Equal(t, 3, resp.Limit)
	assert.Equal(t, 2, resp.Remaining)
	assert.True(t, now.Add(time.Hour).Equal(resp.ResetAt))

	c, err := ts.store.Get(context.Background(), "password_reset:alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
}

func TestCheckLimit_Exceeded(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		rr := ts.do("POST", "/api/v1/limits/signup/check", `{"token":"203.0.113.9"}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := ts.do("POST", "/api/v1/limits/signup/check", `{"token":"203.0.113.9"}`)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "3601", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	resp := decode[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeRateLimitExceeded, resp.Code)
	assert.Equal(t, "Too many requests, try again later", resp.Message)
}

func TestCheckLimit_UnknownAction(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("POST", "/api/v1/limits/comment/check", `{"token":"x"}`)

	require.Equal(t, http.StatusNotFound, rr.Code)
	resp := decode[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeUnknownAction, resp.Code)
	assert.Equal(t, "comment", resp.Details["action"])
}

func TestCheckLimit_BadJSON(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("POST", "/api/v1/limits/user_login/check", `{"token":`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeBadRequest, resp.Code)
}

func TestCheckLimit_OversizedBody(t *testing.T) {
	ts := newTestServer(t)

	body := `{"token":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rr := ts.do("POST", "/api/v1/limits/user_login/check", body)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckLimit_EmptyTokenFallsBackToRemoteAddr(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("POST", "/api/v1/limits/user_login/check", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := ts.store.Get(context.Background(), "user_login:198.51.100.7")
	assert.NoError(t, err)
}

func TestCheckLimit_EmptyTokenUsesUnknownForNonIPActions(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("POST", "/api/v1/limits/draft_update/check", "")
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := ts.store.Get(context.Background(), "draft_update:unknown")
	assert.NoError(t, err)
}

func TestCheckLimit_TrustedProxyHeaders(t *testing.T) {
	for _, tt := range []struct {
		name  string
		trust bool
		want  string
	}{
		{name: "trusted", trust: true, want: "user_login:203.0.113.50"},
		{name: "untrusted", trust: false, want: "user_login:198.51.100.7"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, WithTrustedProxyHeaders(tt.trust))

			req := httptest.NewRequest("POST", "/api/v1/limits/user_login/check", strings.NewReader(`{}`))
			req.RemoteAddr = "198.51.100.7:40000"
			req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
			rr := httptest.NewRecorder()
			ts.router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusOK, rr.Code)

			_, err := ts.store.Get(context.Background(), tt.want)
			assert.NoError(t, err)
		})
	}
}

func TestCheckLimit_StoreDownUsesFallback(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	var codes []int
	for i := 0; i < 4; i++ {
		codes = append(codes, ts.do("POST", "/api/v1/limits/signup/check", `{"token":"203.0.113.9"}`).Code)
	}
	assert.Equal(t, []int{200, 200, 200, 429}, codes)
}

func TestCheckLimit_WrongMethod(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/limits/signup/check"},
		{"DELETE", "/api/v1/limits"},
		{"POST", "/health"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := ts.do(tc.method, tc.path, "")

			require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			resp := decode[models.ErrorResponse](t, rr)
			assert.Equal(t, models.ErrorCodeInvalidRequest, resp.Code)
		})
	}
}

func TestListPolicies(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("GET", "/api/v1/limits", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[models.ListPoliciesResponse](t, rr)
	assert.Equal(t, []models.PolicyInfo{
		{Action: "draft_update", Limit: 60, Window: "1m0s", WindowSeconds: 60},
		{Action: "password_reset", Limit: 3, Window: "1h0m0s", WindowSeconds: 3600},
		{Action: "signup", Limit: 3, Window: "1h0m0s", WindowSeconds: 3600},
		{Action: "user_login", Limit: 5, Window: "1h0m0s", WindowSeconds: 3600},
	}, resp.Policies)
}

func TestGetPolicy(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("GET", "/api/v1/limits/user_login", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.PolicyInfo{Action: "user_login", Limit: 5, Window: "1h0m0s", WindowSeconds: 3600},
		decode[models.PolicyInfo](t, rr))

	rr = ts.do("GET", "/api/v1/limits/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetCounter(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do("GET", "/api/v1/limits/user_login/counters?token=10.0.0.1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	ts.do("POST", "/api/v1/limits/user_login/check", `{"token":"10.0.0.1"}`)
	ts.do("POST", "/api/v1/limits/user_login/check", `{"token":"10.0.0.1"}`)

	rr = ts.do("GET", "/api/v1/limits/user_login/counters?token=10.0.0.1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	c := decode[models.Counter](t, rr)
	assert.Equal(t, "user_login:10.0.0.1", c.Key)
	assert.Equal(t, 2, c.Count)
	assert.True(t, now.Equal(c.WindowStart))
}

func TestGetCounter_StoreDown(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	rr := ts.do("GET", "/api/v1/limits/user_login/counters?token=10.0.0.1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestResetCounter(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 4; i++ {
		ts.do("POST", "/api/v1/limits/signup/check", `{"token":"203.0.113.9"}`)
	}

	rr := ts.do("DELETE", "/api/v1/limits/signup/counters", `{"token":"203.0.113.9"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do("POST", "/api/v1/limits/signup/check", `{"token":"203.0.113.9"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Resetting a token with no counter succeeds.
	rr = ts.do("DELETE", "/api/v1/limits/signup/counters", `{"token":"198.51.100.1"}`)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		t.Run(path, func(t *testing.T) {
			rr := ts.do("GET", path, "")
			require.Equal(t, http.StatusOK, rr.Code)

			resp := decode[models.HealthCheckResponse](t, rr)
			assert.Equal(t, models.StatusHealthy, resp.Status)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.Equal(t, models.StatusHealthy, resp.Components["counter_store"].Status)
		})
	}
}

func TestHealthCheck_StoreDownIsDegraded(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	rr := ts.do("GET", "/health", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[models.HealthCheckResponse](t, rr)
	assert.Equal(t, models.StatusDegraded, resp.Status)
	assert.Equal(t, models.StatusUnhealthy, resp.Components["counter_store"].Status)
	assert.Equal(t, models.StatusDegraded, resp.Components["limiter"].Status)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/v1/updates", "/api/v1/limits/signup/check/extra", "/nope"} {
		rr := ts.do("GET", path, "")

		require.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"), path)
		resp := decode[models.ErrorResponse](t, rr)
		assert.Equal(t, models.ErrorCodeNotFound, resp.Code, path)
	}
}
