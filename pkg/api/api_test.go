package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rojo-labs/txguard/internal/governance"
	"github.com/rojo-labs/txguard/pkg/eip712"
	"github.com/rojo-labs/txguard/pkg/logging"
	"github.com/rojo-labs/txguard/pkg/policy"
	"github.com/rojo-labs/txguard/pkg/preflight"
	"github.com/rojo-labs/txguard/pkg/storage"
)

const (
	trustedRouter = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	recipient     = "0x1111111111111111111111111111111111111111"
)

const treasuryPolicy = `{
	"scope": "project",
	"description": "Treasury",
	"rules": [{
		"action": "reject",
		"operation": "sendEvmTransaction",
		"criteria": [{"type": "ethValue", "ethValue": "1000", "operator": ">"}]
	}]
}`

type fixture struct {
	handler http.Handler
	trust   *storage.TrustRegistry
	store   *policy.Store
}

func newFixture(t *testing.T, limits map[string]governance.RateLimiterConfig) fixture {
	t.Helper()
	logger := logging.Discard()

	store := policy.NewStore(storage.NewMemoryPolicyStore(), logger)
	evaluator := policy.NewEvaluator(store, policy.WithLogger(logger))
	trust := storage.NewTrustRegistry()
	engine, err := preflight.NewEngine(context.Background(), preflight.EngineOptions{Logger: logger})
	require.NoError(t, err)

	server := NewServer(Options{
		Policies:  store,
		Evaluator: evaluator,
		Trust:     trust,
		Inspector: eip712.NewInspector(trust, eip712.WithLogger(logger)),
		Validator: preflight.NewValidator(evaluator, engine, logger),
		Limiter:   governance.NewRateLimiter(limits),
		Logger:    logger,
	})
	return fixture{handler: server.Handler(), trust: trust, store: store}
}

func (f fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get(RequestIDHeader))
}

func TestPolicyLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/api/policies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	policies := body["policies"].([]any)
	require.Len(t, policies, 1)
	assert.Equal(t, "default", policies[0].(map[string]any)["id"])

	rec, body = f.do(t, http.MethodPost, "/api/policies", `{"policyId": "treasury", "policy": `+treasuryPolicy+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "project", body["policy"].(map[string]any)["scope"])

	rec, body = f.do(t, http.MethodGet, "/api/policies/treasury", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Treasury", body["policy"].(map[string]any)["description"])

	rec, body = f.do(t, http.MethodDelete, "/api/policies/treasury", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = f.do(t, http.MethodDelete, "/api/policies/treasury", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, body = f.do(t, http.MethodGet, "/api/policies/treasury", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestAddPolicyErrors(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodPost, "/api/policies", `{"policyId": "bad", "policy": {"scope": "galaxy", "rules": []}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs, ok := body["error"].([]any)
	require.True(t, ok, "expected structured errors, got %v", body["error"])
	paths := make([]string, 0, len(errs))
	for _, e := range errs {
		paths = append(paths, e.(map[string]any)["path"].(string))
	}
	assert.Contains(t, paths, "scope")
	assert.Contains(t, paths, "rules")

	rec, _ = f.do(t, http.MethodPost, "/api/policies", `{"policyId": "default", "policy": `+treasuryPolicy+`}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/api/policies", `{"policyId": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid JSON body")

	rec, _ = f.do(t, http.MethodDelete, "/api/policies/default", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodPost, "/api/policies/evaluate",
		`{"transaction": {"to": "`+recipient+`", "value": "1000000000000000", "chainId": 8453}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	evaluation := body["evaluation"].(map[string]any)
	assert.Equal(t, true, evaluation["allowed"])
	assert.Equal(t, "default", evaluation["policyId"])
	assert.Equal(t, float64(0), evaluation["ruleIndex"])

	_, body = f.do(t, http.MethodPost, "/api/policies/evaluate",
		`{"policyId": "missing", "transaction": {"chainId": 8453}}`)
	evaluation = body["evaluation"].(map[string]any)
	assert.Equal(t, false, evaluation["allowed"])
	assert.Equal(t, "policy not found", evaluation["reason"])

	rec, _ = f.do(t, http.MethodPost, "/api/policies/evaluate", `{"transaction": {"chainId": true}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInspect(t *testing.T) {
	f := newFixture(t, nil)

	doc := `{"typedData": {
		"types": {"Mail": [{"name": "content", "type": "string"}]},
		"primaryType": "Mail",
		"domain": {"name": "ROJO", "version": "1", "chainId": 8453, "verifyingContract": "` + trustedRouter + `"},
		"message": {"content": "hi"}
	}, "options": {"strict": true}}`

	rec, body := f.do(t, http.MethodPost, "/api/eip712/inspect", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inspection := body["inspection"].(map[string]any)
	assert.Equal(t, true, inspection["safe"])
	assert.Equal(t, "low", inspection["risk"])
	assert.Contains(t, inspection["summary"], "Risk level: low")

	_, body = f.do(t, http.MethodPost, "/api/eip712/inspect", `{"options": {}}`)
	inspection = body["inspection"].(map[string]any)
	assert.Equal(t, false, inspection["safe"])
	assert.Equal(t, "critical", inspection["risk"])
}

func TestTrustedContracts(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/api/eip712/trusted-contracts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["contracts"], len(storage.DefaultTrustedContracts))

	rec, body = f.do(t, http.MethodPost, "/api/eip712/trusted-contracts", `{"address": "0x1234"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid address format", body["error"])

	upper := "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD"
	rec, body = f.do(t, http.MethodPost, "/api/eip712/trusted-contracts", `{"address": "`+upper+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.True(t, f.trust.IsTrusted(strings.ToLower(upper)))

	_, body = f.do(t, http.MethodDelete, "/api/eip712/trusted-contracts/"+upper, "")
	assert.Equal(t, true, body["success"])
	_, body = f.do(t, http.MethodDelete, "/api/eip712/trusted-contracts/"+upper, "")
	assert.Equal(t, false, body["success"])
}

func TestValidateTransaction(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodPost, "/api/wallet/validate-transaction",
		`{"transaction": {"to": "`+recipient+`", "value": "1000000000000000", "chainId": 8453}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	validation := body["validation"].(map[string]any)
	assert.Equal(t, "APPROVE", validation["recommendation"])
	assert.Equal(t, true, validation["allowed"])
	checks := validation["securityChecks"].(map[string]any)
	assert.Equal(t, true, checks["networkAllowed"])

	_, body = f.do(t, http.MethodPost, "/api/wallet/validate-transaction",
		`{"transaction": {"to": "`+recipient+`", "value": "1000000000000000", "chainId": 1}}`)
	validation = body["validation"].(map[string]any)
	assert.Equal(t, "REJECT", validation["recommendation"])
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, map[string]governance.RateLimiterConfig{
		RouteEvaluate: {RequestsPerSecond: 1, BurstSize: 1},
	})
	payload := `{"transaction": {"chainId": 8453}}`

	rec, _ := f.do(t, http.MethodPost, "/api/policies/evaluate", payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body := f.do(t, http.MethodPost, "/api/policies/evaluate", payload)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, _ = f.do(t, http.MethodGet, "/api/policies", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", body["error"])

	rec, _ = f.do(t, http.MethodPut, "/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/policies/evaluate", `{"transaction": {"chainId": 8453}}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	text := rec.Body.String()
	assert.Contains(t, text, `txguard_http_requests_total{endpoint="/api/policies/evaluate",method="POST",status_code="200"} 1`)
	assert.Contains(t, text, `txguard_policy_decisions_total{outcome="allowed"} 1`)
	assert.Contains(t, text, "txguard_trusted_contracts 3")
}
