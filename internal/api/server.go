// Package api provides the HTTP API server over the portfolio engine.
package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-ledger/internal/guard"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/store"
	"github.com/portfolio-ledger/internal/types"
)

// CallerHeader carries the hex address the request acts as. There is no
// signature verification here; authenticating the caller is the deployment's
// concern (gateway, mTLS), the engine only enforces capabilities.
const CallerHeader = "X-Caller-Address"

// EngineInterface defines the engine operations the server depends on.
type EngineInterface interface {
	CreatePortfolio(ctx context.Context, owner types.Address, name string, riskLevel, thresholdBps int64) (uint64, error)
	AddAsset(ctx context.Context, caller types.Address, id uint64, asset types.Address, amount *big.Int, targetBps int64) error
	RemoveAsset(ctx context.Context, caller types.Address, id uint64, asset types.Address, amount *big.Int) error
	Rebalance(ctx context.Context, caller types.Address, id uint64) error
	UpdatePerformance(ctx context.Context, id uint64) error
	Deactivate(ctx context.Context, caller types.Address, id uint64) error
	GetPortfolio(ctx context.Context, id uint64) (*models.Portfolio, error)
	ListByOwner(ctx context.Context, owner types.Address) ([]uint64, error)
	TVL() *big.Int
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	engine     EngineInterface
	registry   store.AssetRegistry
	roles      *guard.RoleRegistry
	breaker    *guard.Breaker
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	engine EngineInterface,
	registry store.AssetRegistry,
	roles *guard.RoleRegistry,
	breaker *guard.Breaker,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		engine:   engine,
		registry: registry,
		roles:    roles,
		breaker:  breaker,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Portfolio endpoints
	api.HandleFunc("/portfolios", s.handleCreatePortfolio).Methods("POST")
	api.HandleFunc("/portfolios", s.handleListPortfolios).Methods("GET")
	api.HandleFunc("/portfolios/{id}", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/portfolios/{id}", s.handleDeactivatePortfolio).Methods("DELETE")
	api.HandleFunc("/portfolios/{id}/assets", s.handleAddAsset).Methods("POST")
	api.HandleFunc("/portfolios/{id}/assets/{asset}", s.handleRemoveAsset).Methods("DELETE")
	api.HandleFunc("/portfolios/{id}/rebalance", s.handleRebalance).Methods("POST")
	api.HandleFunc("/portfolios/{id}/performance", s.handleUpdatePerformance).Methods("POST")

	// Protocol endpoints
	api.HandleFunc("/tvl", s.handleTVL).Methods("GET")

	// Admin endpoints
	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/assets", s.handleListSupportedAssets).Methods("GET")
	admin.HandleFunc("/assets", s.handleAddSupportedAsset).Methods("POST")
	admin.HandleFunc("/assets/{asset}", s.handleRemoveSupportedAsset).Methods("DELETE")
	admin.HandleFunc("/pause", s.handlePause).Methods("POST")
	admin.HandleFunc("/resume", s.handleResume).Methods("POST")
	admin.HandleFunc("/status", s.handleStatus).Methods("GET")
	admin.HandleFunc("/rebalancers", s.handleGrantRebalancer).Methods("POST")
	admin.HandleFunc("/rebalancers/{address}", s.handleRevokeRebalancer).Methods("DELETE")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-ledger",
	})
}

// callerAddress extracts and validates the caller identity header.
func callerAddress(w http.ResponseWriter, r *http.Request) (types.Address, bool) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeCallerRequired, "Caller address required", nil)
		return types.Address{}, false
	}

	addr, err := types.ParseAddress(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid caller address", nil)
		return types.Address{}, false
	}
	return addr, true
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
