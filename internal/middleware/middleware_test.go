package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

const secret = "test-secret"

func whoami(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetTenantID(r.Context()) + "/" + GetUserID(r.Context())))
}

func TestAuth(t *testing.T) {
	h := Auth(secret)(http.HandlerFunc(whoami))
	token, err := IssueToken(secret, "acme", "alice", time.Minute, "jobs")
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", "acme", "alice", time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "acme", "alice", -time.Minute)
	require.NoError(t, err)
	noTenant, err := IssueToken(secret, "", "alice", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "bearer header", header: "Bearer " + token, status: http.StatusOK, body: "acme/alice"},
		{name: "query token", query: "?token=" + token, status: http.StatusOK, body: "acme/alice"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, status: http.StatusUnauthorized},
		{name: "forged", header: "Bearer " + forged, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "no tenant", header: "Bearer " + noTenant, status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	h := Auth(secret)(RequireScope("jobs")(http.HandlerFunc(whoami)))

	for scopes, want := range map[string]int{"jobs": http.StatusOK, "": http.StatusForbidden} {
		var list []string
		if scopes != "" {
			list = []string{scopes}
		}
		token, err := IssueToken(secret, "acme", "alice", time.Minute, list...)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "scopes %q", scopes)
	}
}

func TestLoggingRecordsIdentityAndCorrelation(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	r := chi.NewRouter()
	r.Use(Logging(log))
	r.Use(Auth(secret))
	r.Get("/things/{id}", whoami)

	token, err := IssueToken(secret, "acme", "alice", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/things/42", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "acme", fields["tenant_id"])
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}

func TestRequestLoggerCarriesIdentity(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	r := chi.NewRouter()
	r.Use(Logging(log))
	r.Use(Auth(secret))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("handled")
	})

	token, err := IssueToken(secret, "acme", "alice", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-ID", "corr-2")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("handled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "corr-2", fields["correlation_id"])
	assert.Equal(t, "acme", fields["tenant_id"])
	assert.Equal(t, "alice", fields["user_id"])
}

func TestRateLimitByTenant(t *testing.T) {
	h := Auth(secret)(RateLimit(2, time.Minute)(http.HandlerFunc(whoami)))
	acme, err := IssueToken(secret, "acme", "alice", time.Minute)
	require.NoError(t, err)
	globex, err := IssueToken(secret, "globex", "bob", time.Minute)
	require.NoError(t, err)

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(acme).Code)
	assert.Equal(t, http.StatusOK, do(acme).Code)
	limited := do(acme)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do(globex).Code)
}

func TestValidation(t *testing.T) {
	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(string(make([]byte, MaxContentLength+1))))
	assert.Error(t, ValidateMessageContent("\xff"))
	assert.NoError(t, ValidateMessageContent("hello"))

	assert.Error(t, ValidateThreadID("not-a-uuid"))
	assert.NoError(t, ValidateThreadID("0190f5b4-7c1e-7a3b-9c2d-1e2f3a4b5c6d"))
	assert.Error(t, ValidateJobID(""))
	assert.ErrorContains(t, ValidateJobID("job-1"), `job id "job-1" is not a UUID`)

	assert.Error(t, ValidateTenantID(""))
	assert.Error(t, ValidateTenantID(strings.Repeat("a", MaxTenantIDLength+1)))
	assert.Error(t, ValidateTenantID("acme corp"))
	assert.NoError(t, ValidateTenantID("acme"))

	assert.NoError(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle(strings.Repeat("é", MaxTitleRunes)))
	assert.Error(t, ValidateTitle(strings.Repeat("é", MaxTitleRunes+1)))
	assert.Error(t, ValidateTitle("line\nbreak"))
	assert.ErrorIs(t, ValidateTitle("\xff"), agenterr.ErrValidation)
}

func TestAuthRejectsMalformedTenant(t *testing.T) {
	token, err := IssueToken(secret, "acme\tcorp", "alice", time.Minute)
	require.NoError(t, err)

	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
