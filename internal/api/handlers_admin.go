package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/portfolio-ledger/internal/types"
)

// adminCaller extracts the caller and requires the admin capability.
func (s *Server) adminCaller(w http.ResponseWriter, r *http.Request) (types.Address, bool) {
	caller, ok := callerAddress(w, r)
	if !ok {
		return types.Address{}, false
	}
	if !s.roles.IsAdmin(caller) {
		respondError(w, http.StatusForbidden, "NOT_ADMIN", "Caller is not an admin", nil)
		return types.Address{}, false
	}
	return caller, true
}

// handleListSupportedAssets handles GET /admin/assets
func (s *Server) handleListSupportedAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.registry.List(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	hexes := make([]string, 0, len(assets))
	for _, asset := range assets {
		hexes = append(hexes, asset.Hex())
	}
	respondJSON(w, http.StatusOK, map[string][]string{"assets": hexes})
}

// handleAddSupportedAsset handles POST /admin/assets
func (s *Server) handleAddSupportedAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminCaller(w, r); !ok {
		return
	}

	var req struct {
		Asset string `json:"asset"`
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

	if err := s.registry.Add(r.Context(), asset); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// handleRemoveSupportedAsset handles DELETE /admin/assets/:asset
//
// Removal only blocks new deposits; existing holdings of the asset keep
// working.
func (s *Server) handleRemoveSupportedAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminCaller(w, r); !ok {
		return
	}

	asset, err := types.ParseAddress(mux.Vars(r)["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid asset address", nil)
		return
	}

	if err := s.registry.Remove(r.Context(), asset); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handlePause handles POST /admin/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	s.breaker.Pause(caller, req.Reason)
	respondJSON(w, http.StatusOK, s.breaker.Status())
}

// handleResume handles POST /admin/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}

	s.breaker.Resume(caller)
	respondJSON(w, http.StatusOK, s.breaker.Status())
}

// handleStatus handles GET /admin/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.breaker.Status())
}

// handleGrantRebalancer handles POST /admin/rebalancers
func (s *Server) handleGrantRebalancer(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminCaller(w, r); !ok {
		return
	}

	var req struct {
		Address string `json:"address"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	addr, err := types.ParseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid address", nil)
		return
	}

	s.roles.GrantRebalancer(addr)
	respondJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// handleRevokeRebalancer handles DELETE /admin/rebalancers/:address
func (s *Server) handleRevokeRebalancer(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminCaller(w, r); !ok {
		return
	}

	addr, err := types.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid address", nil)
		return
	}

	s.roles.RevokeRebalancer(addr)
	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
