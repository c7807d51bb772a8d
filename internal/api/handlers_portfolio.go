package api

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// usd renders a 1e18 fixed-point value as a human-readable decimal string.
func usd(v *big.Int) string {
	return decimal.NewFromBigInt(v, -types.WadDecimals).String()
}

// holdingView is the wire shape of one holding.
type holdingView struct {
	Asset                string `json:"asset"`
	Amount               string `json:"amount"`
	TargetAllocationBps  int64  `json:"targetAllocationBps"`
	CurrentAllocationBps int64  `json:"currentAllocationBps"`
	LastPrice            string `json:"lastPrice"`
	LastPriceUsd         string `json:"lastPriceUsd"`
	UnrealizedPnlUsd     string `json:"unrealizedPnlUsd"`
}

// portfolioView is the wire shape of a portfolio.
type portfolioView struct {
	ID                    uint64                     `json:"id"`
	Owner                 string                     `json:"owner"`
	Name                  string                     `json:"name"`
	IsActive              bool                       `json:"isActive"`
	RiskLevel             int64                      `json:"riskLevel"`
	RebalanceThresholdBps int64                      `json:"rebalanceThresholdBps"`
	TotalValue            string                     `json:"totalValue"`
	TotalValueUsd         string                     `json:"totalValueUsd"`
	CreatedAt             time.Time                  `json:"createdAt"`
	LastRebalanceTime     *time.Time                 `json:"lastRebalanceTime,omitempty"`
	Holdings              []holdingView              `json:"holdings"`
	Performance           *models.PerformanceMetrics `json:"performance,omitempty"`
}

func newPortfolioView(p *models.Portfolio) *portfolioView {
	view := &portfolioView{
		ID:                    p.ID,
		Owner:                 p.Owner.Hex(),
		Name:                  p.Name,
		IsActive:              p.IsActive,
		RiskLevel:             p.RiskLevel,
		RebalanceThresholdBps: p.RebalanceThresholdBps,
		TotalValue:            p.TotalValue.String(),
		TotalValueUsd:         usd(p.TotalValue),
		CreatedAt:             p.CreatedAt,
		Performance:           p.Performance,
		Holdings:              make([]holdingView, 0, len(p.AssetList)),
	}
	if !p.LastRebalanceTime.IsZero() {
		at := p.LastRebalanceTime
		view.LastRebalanceTime = &at
	}
	for _, asset := range p.AssetList {
		h := p.Holdings[asset]
		view.Holdings = append(view.Holdings, holdingView{
			Asset:                h.Asset.Hex(),
			Amount:               h.Amount.String(),
			TargetAllocationBps:  h.TargetAllocationBps,
			CurrentAllocationBps: h.CurrentAllocationBps,
			LastPrice:            h.LastPrice.String(),
			LastPriceUsd:         usd(h.LastPrice),
			UnrealizedPnlUsd:     usd(h.UnrealizedPnL),
		})
	}
	return view
}

// portfolioID extracts the {id} path variable.
func portfolioID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid portfolio ID", nil)
		return 0, false
	}
	return id, true
}

// parseAmount parses a base-10 integer amount in 1e18 fixed point.
func parseAmount(raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

// handleCreatePortfolio handles POST /api/portfolios
func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}

	var req struct {
		Name                  string `json:"name"`
		RiskLevel             int64  `json:"riskLevel"`
		RebalanceThresholdBps int64  `json:"rebalanceThresholdBps"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	id, err := s.engine.CreatePortfolio(r.Context(), caller, req.Name, req.RiskLevel, req.RebalanceThresholdBps)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

// handleListPortfolios handles GET /api/portfolios
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}

	owner := caller
	if raw := r.URL.Query().Get("owner"); raw != "" {
		parsed, err := types.ParseAddress(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid owner address", nil)
			return
		}
		owner = parsed
	}

	ids, err := s.engine.ListByOwner(r.Context(), owner)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"owner": owner.Hex(),
		"ids":   ids,
	})
}

// handleGetPortfolio handles GET /api/portfolios/:id
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := portfolioID(w, r)
	if !ok {
		return
	}

	p, err := s.engine.GetPortfolio(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newPortfolioView(p))
}

// handleDeactivatePortfolio handles DELETE /api/portfolios/:id
func (s *Server) handleDeactivatePortfolio(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := portfolioID(w, r)
	if !ok {
		return
	}

	if err := s.engine.Deactivate(r.Context(), caller, id); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// handleAddAsset handles POST /api/portfolios/:id/assets
func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := portfolioID(w, r)
	if !ok {
		return
	}

	var req struct {
		Asset               string `json:"asset"`
		Amount              string `json:"amount"`
		TargetAllocationBps int64  `json:"targetAllocationBps"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	asset, err := types.ParseAddress(req.Asset)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid asset address", nil)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid amount", nil)
		return
	}

	if err := s.engine.AddAsset(r.Context(), caller, id, asset, amount, req.TargetAllocationBps); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// handleRemoveAsset handles DELETE /api/portfolios/:id/assets/:asset
// An absent amount query parameter withdraws the whole holding.
func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := portfolioID(w, r)
	if !ok {
		return
	}

	asset, err := types.ParseAddress(mux.Vars(r)["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid asset address", nil)
		return
	}

	amount := new(big.Int)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		amount, ok = parseAmount(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid amount", nil)
			return
		}
	}

	if err := s.engine.RemoveAsset(r.Context(), caller, id, asset, amount); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleRebalance handles POST /api/portfolios/:id/rebalance
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	id, ok := portfolioID(w, r)
	if !ok {
		return
	}

	if err := s.engine.Rebalance(r.Context(), caller, id); err != nil {
		respondEngineError(w, err)
		return
	}

	p, err := s.engine.GetPortfolio(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newPortfolioView(p))
}

// handleUpdatePerformance handles POST /api/portfolios/:id/performance
func (s *Server) handleUpdatePerformance(w http.ResponseWriter, r *http.Request) {
	id, ok := portfolioID(w, r)
	if !ok {
		return
	}

	if err := s.engine.UpdatePerformance(r.Context(), id); err != nil {
		respondEngineError(w, err)
		return
	}

	p, err := s.engine.GetPortfolio(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, p.Performance)
}

// handleTVL handles GET /api/tvl
func (s *Server) handleTVL(w http.ResponseWriter, r *http.Request) {
	tvl := s.engine.TVL()
	respondJSON(w, http.StatusOK, map[string]string{
		"tvl":    tvl.String(),
		"tvlUsd": usd(tvl),
	})
}
