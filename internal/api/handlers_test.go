package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/custody"
	"github.com/portfolio-ledger/internal/engine"
	"github.com/portfolio-ledger/internal/events"
	"github.com/portfolio-ledger/internal/guard"
	"github.com/portfolio-ledger/internal/oracle"
	"github.com/portfolio-ledger/internal/store"
	"github.com/portfolio-ledger/internal/types"
)

var (
	ownerAddr = types.Address{0x01}
	adminAddr = types.Address{0x0f}
	assetAddr = types.Address{0xaa}
)

func w(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), types.Wad())
}

type testServer struct {
	server  *Server
	breaker *guard.Breaker
	roles   *guard.RoleRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	registry := store.NewMemoryAssetRegistry()
	require.NoError(t, registry.Add(context.Background(), assetAddr))

	prices := oracle.NewStaticClient()
	prices.Set(assetAddr, w(1), time.Now(), 10000)

	vault := custody.NewVault()
	vault.Fund(assetAddr, ownerAddr, w(1_000_000))

	roles := guard.NewRoleRegistry(adminAddr)
	breaker := guard.NewBreaker()

	eng := engine.New(engine.DefaultConfig(), store.NewMemoryStore(), registry,
		prices, vault, roles, breaker, events.NewLogEmitter())

	cfg := &ServerConfig{
		Host:           "127.0.0.1",
		Port:           "0",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    5 * time.Second,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}

	return &testServer{
		server:  NewServer(cfg, eng, registry, roles, breaker),
		breaker: breaker,
		roles:   roles,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, caller *types.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if caller != nil {
		req.Header.Set(CallerHeader, caller.Hex())
	}

	rec := httptest.NewRecorder()
	ts.server.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (ts *testServer) createPortfolio(t *testing.T) uint64 {
	t.Helper()
	rec := ts.request(t, "POST", "/api/portfolios", &ownerAddr, map[string]interface{}{
		"name":                  "growth",
		"riskLevel":             5,
		"rebalanceThresholdBps": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID uint64 `json:"id"`
	}
	decodeBody(t, rec, &resp)
	return resp.ID
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCreatePortfolioRequiresCaller(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/portfolios", nil, map[string]interface{}{
		"name": "growth", "riskLevel": 5, "rebalanceThresholdBps": 500,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, ErrCodeCallerRequired, resp.Error.Code)
}

func TestCreatePortfolioValidationMapped(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/portfolios", &ownerAddr, map[string]interface{}{
		"name": "growth", "riskLevel": 99, "rebalanceThresholdBps": 500,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "INVALID_RISK_LEVEL", resp.Error.Code)
}

func TestAddAssetAndGetPortfolio(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPortfolio(t)

	rec := ts.request(t, "POST", fmt.Sprintf("/api/portfolios/%d/assets", id), &ownerAddr, map[string]interface{}{
		"asset":               assetAddr.Hex(),
		"amount":              w(100).String(),
		"targetAllocationBps": 3000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.request(t, "GET", fmt.Sprintf("/api/portfolios/%d", id), &ownerAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view portfolioView
	decodeBody(t, rec, &view)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, ownerAddr.Hex(), view.Owner)
	assert.True(t, view.IsActive)
	assert.Equal(t, "100", view.TotalValueUsd)
	require.Len(t, view.Holdings, 1)
	assert.Equal(t, assetAddr.Hex(), view.Holdings[0].Asset)
	assert.Equal(t, w(100).String(), view.Holdings[0].Amount)
	assert.Equal(t, int64(10000), view.Holdings[0].CurrentAllocationBps)
	assert.Equal(t, "1", view.Holdings[0].LastPriceUsd)
}

func TestGetPortfolioNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "GET", "/api/portfolios/999", &ownerAddr, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "PORTFOLIO_NOT_FOUND", resp.Error.Code)
}

func TestRemoveAssetFullWithdrawal(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPortfolio(t)

	rec := ts.request(t, "POST", fmt.Sprintf("/api/portfolios/%d/assets", id), &ownerAddr, map[string]interface{}{
		"asset":               assetAddr.Hex(),
		"amount":              w(100).String(),
		"targetAllocationBps": 3000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// No amount parameter: withdraw everything.
	rec = ts.request(t, "DELETE", fmt.Sprintf("/api/portfolios/%d/assets/%s", id, assetAddr.Hex()), &ownerAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.request(t, "GET", fmt.Sprintf("/api/portfolios/%d", id), &ownerAddr, nil)
	var view portfolioView
	decodeBody(t, rec, &view)
	assert.Empty(t, view.Holdings)
}

func TestRebalanceNotNeededMapped(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPortfolio(t)

	rec := ts.request(t, "POST", fmt.Sprintf("/api/portfolios/%d/assets", id), &ownerAddr, map[string]interface{}{
		"asset":               assetAddr.Hex(),
		"amount":              w(100).String(),
		"targetAllocationBps": 5000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// One asset sitting far over its target: the first cycle runs fine.
	rec = ts.request(t, "POST", fmt.Sprintf("/api/portfolios/%d/rebalance", id), &ownerAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Straight after, the cooldown gate reports 409.
	rec = ts.request(t, "POST", fmt.Sprintf("/api/portfolios/%d/rebalance", id), &ownerAddr, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "COOLDOWN_ACTIVE", resp.Error.Code)
}

func TestTVLEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPortfolio(t)

	rec := ts.request(t, "POST", fmt.Sprintf("/api/portfolios/%d/assets", id), &ownerAddr, map[string]interface{}{
		"asset":               assetAddr.Hex(),
		"amount":              w(250).String(),
		"targetAllocationBps": 3000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, "GET", "/api/tvl", &ownerAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, w(250).String(), resp["tvl"])
	assert.Equal(t, "250", resp["tvlUsd"])
}

func TestAdminRequiresAdminRole(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/admin/pause", &ownerAddr, map[string]string{"reason": "drill"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "NOT_ADMIN", resp.Error.Code)
}

func TestAdminPauseBlocksMutations(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/admin/pause", &adminAddr, map[string]string{"reason": "incident"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.breaker.IsPaused())

	rec = ts.request(t, "POST", "/api/portfolios", &ownerAddr, map[string]interface{}{
		"name": "growth", "riskLevel": 5, "rebalanceThresholdBps": 500,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "PROTOCOL_PAUSED", resp.Error.Code)

	rec = ts.request(t, "POST", "/admin/resume", &adminAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.breaker.IsPaused())
}

func TestAdminAssetAllowList(t *testing.T) {
	ts := newTestServer(t)
	newAsset := types.Address{0xbb}

	rec := ts.request(t, "POST", "/admin/assets", &adminAddr, map[string]string{"asset": newAsset.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, "GET", "/admin/assets", &adminAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp["assets"], newAsset.Hex())

	rec = ts.request(t, "DELETE", "/admin/assets/"+newAsset.Hex(), &adminAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, "GET", "/admin/assets", &adminAddr, nil)
	decodeBody(t, rec, &resp)
	assert.NotContains(t, resp["assets"], newAsset.Hex())
}

func TestAdminRebalancerGrant(t *testing.T) {
	ts := newTestServer(t)
	keeper := types.Address{0xee}

	rec := ts.request(t, "POST", "/admin/rebalancers", &adminAddr, map[string]string{"address": keeper.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.roles.HasRebalancerRole(keeper))

	rec = ts.request(t, "DELETE", "/admin/rebalancers/"+keeper.Hex(), &adminAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.roles.HasRebalancerRole(keeper))
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(CallerHeader, ownerAddr.Hex())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different caller has its own budget.
	other := httptest.NewRequest("GET", "/health", nil)
	other.Header.Set(CallerHeader, adminAddr.Hex())
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}
