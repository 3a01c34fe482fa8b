package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"Manof-Chain/internal/agent"
	"Manof-Chain/internal/events"
	"Manof-Chain/internal/identity"
	"Manof-Chain/internal/index"
	"Manof-Chain/internal/ledger"
	"Manof-Chain/internal/record"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, auth identity.Authenticator) http.Handler {
	t.Helper()
	bus := events.NewMemoryBus(0)
	idx := index.NewMemoryIndex()
	bus.Subscribe(index.Feed(idx))
	svc := agent.New(ledger.NewMemoryStore(ledger.Pricing{}),
		agent.WithPublisher(bus),
		agent.WithSecurityIndex(idx),
		agent.WithLogger(discard(), discard()),
	)
	return NewServer(":0", svc, WithAuthenticator(auth), WithLogger(discard(), discard())).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, caller common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != (common.Address{}) {
		req.Header.Set(identity.HeaderCaller, caller.Hex())
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createAgent(t *testing.T, h http.Handler) common.Address {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/agents", owner, map[string]any{
		"name":   "A",
		"config": map[string]any{"analysis_threshold": 3, "security_level": "high", "optimization_params": map[string]uint64{"batch": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create agent: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp agentResponse
	decode(t, rec, &resp)
	if resp.Agent.Config.SecurityLevel != record.SecurityHigh || !resp.Agent.IsActive {
		t.Fatalf("unexpected agent: %+v", resp.Agent)
	}
	return resp.Address
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	h := newTestServer(t, identity.TrustedAuthenticator{})
	agentAddr := createAgent(t, h)
	base := "/api/v1/agents/" + agentAddr.Hex()

	rec := do(t, h, http.MethodPost, base+"/analyses", owner, map[string]any{
		"contract": common.HexToAddress("0xc0").Hex(),
		"params":   map[string]any{"depth": 2, "include_security": true},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("analyze: status %d body %s", rec.Code, rec.Body.String())
	}
	var analysis analysisResponse
	decode(t, rec, &analysis)
	if analysis.Analysis.Status != record.AnalysisInProgress || !analysis.Analysis.Params.IncludeSecurity {
		t.Fatalf("unexpected analysis: %+v", analysis.Analysis)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/analyses/"+analysis.Address.Hex()+"/complete", owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete analysis: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/api/v1/analyses/"+analysis.Address.Hex()+"/complete", owner, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second completion should conflict, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, base+"/security", owner, map[string]any{
		"data": map[string]any{"threats_detected": 2, "risk_level": "critical", "vulnerability_count": 1},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("security: status %d body %s", rec.Code, rec.Body.String())
	}
	var report securityResponse
	decode(t, rec, &report)

	rec = do(t, h, http.MethodGet, base+"/security/latest", common.Address{}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("latest: status %d body %s", rec.Code, rec.Body.String())
	}
	var latest securityResponse
	decode(t, rec, &latest)
	if latest.Address != report.Address || latest.Report.Data.RiskLevel != record.RiskCritical {
		t.Fatalf("unexpected latest report: %+v", latest)
	}

	rec = do(t, h, http.MethodGet, base, common.Address{}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get agent: status %d", rec.Code)
	}
	var got agentResponse
	decode(t, rec, &got)
	if got.Agent.Metrics.TotalAnalyses != 1 || got.Agent.Metrics.ThreatsPrevented != 2 {
		t.Fatalf("unexpected metrics: %+v", got.Agent.Metrics)
	}
}

func TestOptimizationOverHTTP(t *testing.T) {
	h := newTestServer(t, identity.TrustedAuthenticator{})
	agentAddr := createAgent(t, h)

	rec := do(t, h, http.MethodPost, "/api/v1/agents/"+agentAddr.Hex()+"/optimizations", stranger, map[string]any{
		"transaction": map[string]any{"instructions": "0x6000", "gas_limit": 100},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger should be forbidden, got %d", rec.Code)
	}
	var errResp errorResponse
	decode(t, rec, &errResp)
	if errResp.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected error body: %+v", errResp)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/agents/"+agentAddr.Hex()+"/optimizations", owner, map[string]any{
		"transaction": map[string]any{"instructions": "0x6000", "gas_limit": 100, "priority": 1},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("optimize: status %d body %s", rec.Code, rec.Body.String())
	}
	var opt optimizationResponse
	decode(t, rec, &opt)
	if !bytes.Equal(opt.Optimization.Transaction.Instructions, []byte{0x60, 0x00}) {
		t.Fatalf("instructions not preserved: %x", opt.Optimization.Transaction.Instructions)
	}

	path := "/api/v1/optimizations/" + opt.Address.Hex() + "/complete"
	rec = do(t, h, http.MethodPost, path, owner, map[string]any{"gas_used": 101})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("over-limit gas should be rejected, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, path, owner, map[string]any{"gas_used": 90})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete optimization: status %d body %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &opt)
	if opt.Optimization.Status != record.OptimizationOptimized {
		t.Fatalf("unexpected status %s", opt.Optimization.Status)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	h := newTestServer(t, identity.TrustedAuthenticator{})

	rec := do(t, h, http.MethodGet, "/api/v1/analyses/0x00000000000000000000000000000000000000ff", common.Address{}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing record should be 404, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/agents/not-an-address", common.Address{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad address should be 400, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/agents/0x00000000000000000000000000000000000000ff/analyses", owner, map[string]any{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing agent should be 403, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/agents", owner, map[string]any{"name": "A", "unknown": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields should be 400, got %d", rec.Code)
	}

	slot := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	body := map[string]any{"name": "A", "slot": slot.Hex()}
	if rec := do(t, h, http.MethodPost, "/api/v1/agents", owner, body); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/agents", owner, body); rec.Code != http.StatusConflict {
		t.Fatalf("occupied slot should be 409, got %d", rec.Code)
	}
}

func TestCreateAgentConfigDefaults(t *testing.T) {
	h := newTestServer(t, identity.TrustedAuthenticator{})

	rec := do(t, h, http.MethodPost, "/api/v1/agents", owner, map[string]any{
		"name":   "A",
		"config": map[string]any{"analysis_threshold": 5},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var created agentResponse
	decode(t, rec, &created)
	if created.Agent.Config.SecurityLevel != record.SecurityMedium {
		t.Fatalf("omitted security level should default to medium, got %s", created.Agent.Config.SecurityLevel)
	}
	if created.Agent.Config.AnalysisThreshold != 5 {
		t.Fatalf("threshold not applied: %+v", created.Agent.Config)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/agents/"+created.Address.Hex(), common.Address{}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get agent: status %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"optimization_params":{}`)) {
		t.Fatalf("empty params should round-trip as an object: %s", rec.Body.String())
	}
	var got agentResponse
	decode(t, rec, &got)
	if got.Agent.Config.SecurityLevel != record.SecurityMedium {
		t.Fatalf("stored security level drifted: %s", got.Agent.Config.SecurityLevel)
	}
}

func TestCreateAgentUnknownSecurityLevel(t *testing.T) {
	h := newTestServer(t, identity.TrustedAuthenticator{})

	rec := do(t, h, http.MethodPost, "/api/v1/agents", owner, map[string]any{
		"name":   "A",
		"config": map[string]any{"security_level": "apocalyptic"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown level should be 400, got %d", rec.Code)
	}
	var errResp errorResponse
	decode(t, rec, &errResp)
	if errResp.Error.Code != string(agent.CodeInvalidSecurityLevel) {
		t.Fatalf("unexpected error code %q", errResp.Error.Code)
	}
}

func TestSignatureModeOverHTTP(t *testing.T) {
	h := newTestServer(t, identity.NewSignatureAuthenticator(time.Minute))

	rec := do(t, h, http.MethodPost, "/api/v1/agents", owner, map[string]any{"name": "A"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request should be 401, got %d", rec.Code)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	body := []byte(`{"name":"signed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewReader(body))
	if err := identity.SignRequest(req, key, body); err != nil {
		t.Fatalf("sign: %v", err)
	}
	header := req.Header.Clone()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signed request: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp agentResponse
	decode(t, rec, &resp)
	if resp.Agent.Owner != signer {
		t.Fatalf("owner should be signer, got %s", resp.Agent.Owner.Hex())
	}

	// 原样重放同一个已签名请求。
	replay := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewReader(body))
	replay.Header = header
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, replay)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed request should be 401, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestShutdownContextRejectsRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := withContext(ctx, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
