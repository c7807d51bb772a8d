package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// PostgresDB wraps the pgxpool connection.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB creates a new Postgres database connection.
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	connString := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.MaxConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - validated in config
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool.
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// PostgresPortfolioStore is the Postgres-backed PortfolioStore. Amounts and
// values are persisted as decimal strings; Save replaces the aggregate inside
// a single transaction.
type PostgresPortfolioStore struct {
	db *PostgresDB
}

// NewPostgresPortfolioStore creates a Postgres-backed portfolio store.
func NewPostgresPortfolioStore(db *PostgresDB) *PostgresPortfolioStore {
	return &PostgresPortfolioStore{db: db}
}

func parseBig(s string) (*big.Int, error) {
	out, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal value: %q", s)
	}
	return out, nil
}

// Create implements PortfolioStore.
func (s *PostgresPortfolioStore) Create(ctx context.Context, p *models.Portfolio) error {
	perf, err := marshalPerformance(p.Performance)
	if err != nil {
		return err
	}
	allocations, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("failed to marshal allocations: %w", err)
	}

	query := `
		INSERT INTO portfolios (
			owner, name, total_value, allocations, last_rebalance_time,
			created_at, is_active, risk_level, rebalance_threshold_bps,
			last_performance_update, performance
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = s.db.Pool().QueryRow(ctx, query,
		p.Owner.Hex(),
		p.Name,
		p.TotalValue.String(),
		allocations,
		p.LastRebalanceTime,
		p.CreatedAt,
		p.IsActive,
		p.RiskLevel,
		p.RebalanceThresholdBps,
		p.LastPerformanceUpdate,
		perf,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}

	return nil
}

// Get implements PortfolioStore.
func (s *PostgresPortfolioStore) Get(ctx context.Context, id uint64) (*models.Portfolio, error) {
	query := `
		SELECT id, owner, name, total_value, allocations, last_rebalance_time,
		       created_at, is_active, risk_level, rebalance_threshold_bps,
		       last_performance_update, performance
		FROM portfolios
		WHERE id = $1
	`

	var (
		p           models.Portfolio
		owner       string
		totalValue  string
		allocations []byte
		perf        []byte
	)

	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&p.ID,
		&owner,
		&p.Name,
		&totalValue,
		&allocations,
		&p.LastRebalanceTime,
		&p.CreatedAt,
		&p.IsActive,
		&p.RiskLevel,
		&p.RebalanceThresholdBps,
		&p.LastPerformanceUpdate,
		&perf,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	ownerAddr, err := types.ParseAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("corrupt owner column: %w", err)
	}
	p.Owner = ownerAddr

	if p.TotalValue, err = parseBig(totalValue); err != nil {
		return nil, fmt.Errorf("corrupt total_value column: %w", err)
	}
	if len(allocations) > 0 {
		if err := json.Unmarshal(allocations, &p.Allocations); err != nil {
			return nil, fmt.Errorf("corrupt allocations column: %w", err)
		}
	}
	if len(perf) > 0 {
		p.Performance = &models.PerformanceMetrics{}
		if err := json.Unmarshal(perf, p.Performance); err != nil {
			return nil, fmt.Errorf("corrupt performance column: %w", err)
		}
	}

	if err := s.loadHoldings(ctx, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

func (s *PostgresPortfolioStore) loadHoldings(ctx context.Context, p *models.Portfolio) error {
	query := `
		SELECT asset, amount, target_allocation_bps, current_allocation_bps,
		       last_price, unrealized_pnl
		FROM holdings
		WHERE portfolio_id = $1
		ORDER BY position ASC
	`

	rows, err := s.db.Pool().Query(ctx, query, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load holdings: %w", err)
	}
	defer rows.Close()

	p.Holdings = make(map[types.Address]*models.AssetHolding)
	p.AssetList = nil

	for rows.Next() {
		var (
			h         models.AssetHolding
			asset     string
			amount    string
			lastPrice string
			pnl       string
		)
		if err := rows.Scan(&asset, &amount, &h.TargetAllocationBps, &h.CurrentAllocationBps, &lastPrice, &pnl); err != nil {
			return fmt.Errorf("failed to scan holding: %w", err)
		}

		assetAddr, err := types.ParseAddress(asset)
		if err != nil {
			return fmt.Errorf("corrupt asset column: %w", err)
		}
		h.Asset = assetAddr

		if h.Amount, err = parseBig(amount); err != nil {
			return fmt.Errorf("corrupt amount column: %w", err)
		}
		if h.LastPrice, err = parseBig(lastPrice); err != nil {
			return fmt.Errorf("corrupt last_price column: %w", err)
		}
		if h.UnrealizedPnL, err = parseBig(pnl); err != nil {
			return fmt.Errorf("corrupt unrealized_pnl column: %w", err)
		}

		p.AddHolding(&h)
	}

	return rows.Err()
}

// Save implements PortfolioStore. The portfolio row and its holdings are
// replaced inside one transaction.
func (s *PostgresPortfolioStore) Save(ctx context.Context, p *models.Portfolio) error {
	perf, err := marshalPerformance(p.Performance)
	if err != nil {
		return err
	}
	allocations, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("failed to marshal allocations: %w", err)
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `
		UPDATE portfolios SET
			owner = $2, name = $3, total_value = $4, allocations = $5,
			last_rebalance_time = $6, is_active = $7, risk_level = $8,
			rebalance_threshold_bps = $9, last_performance_update = $10,
			performance = $11
		WHERE id = $1
	`,
		p.ID,
		p.Owner.Hex(),
		p.Name,
		p.TotalValue.String(),
		allocations,
		p.LastRebalanceTime,
		p.IsActive,
		p.RiskLevel,
		p.RebalanceThresholdBps,
		p.LastPerformanceUpdate,
		perf,
	)
	if err != nil {
		return fmt.Errorf("failed to update portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM holdings WHERE portfolio_id = $1`, p.ID); err != nil {
		return fmt.Errorf("failed to clear holdings: %w", err)
	}

	for position, asset := range p.AssetList {
		h := p.Holdings[asset]
		if h == nil {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO holdings (
				portfolio_id, asset, position, amount, target_allocation_bps,
				current_allocation_bps, last_price, unrealized_pnl
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			p.ID,
			h.Asset.Hex(),
			position,
			h.Amount.String(),
			h.TargetAllocationBps,
			h.CurrentAllocationBps,
			h.LastPrice.String(),
			h.UnrealizedPnL.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert holding: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit portfolio save: %w", err)
	}

	return nil
}

// ListByOwner implements PortfolioStore.
func (s *PostgresPortfolioStore) ListByOwner(ctx context.Context, owner types.Address) ([]uint64, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id FROM portfolios WHERE owner = $1 ORDER BY id ASC`, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios by owner: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ListIDs implements PortfolioStore.
func (s *PostgresPortfolioStore) ListIDs(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT id FROM portfolios ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]uint64, error) {
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalPerformance(perf *models.PerformanceMetrics) ([]byte, error) {
	if perf == nil {
		return nil, nil
	}
	out, err := json.Marshal(perf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal performance: %w", err)
	}
	return out, nil
}

// PostgresAssetRegistry is the Postgres-backed supported-asset allow-list.
type PostgresAssetRegistry struct {
	db *PostgresDB
}

// NewPostgresAssetRegistry creates a Postgres-backed asset registry.
func NewPostgresAssetRegistry(db *PostgresDB) *PostgresAssetRegistry {
	return &PostgresAssetRegistry{db: db}
}

// Add implements AssetRegistry.
func (r *PostgresAssetRegistry) Add(ctx context.Context, asset types.Address) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO supported_assets (asset, added_at)
		VALUES ($1, $2)
		ON CONFLICT (asset) DO NOTHING
	`, asset.Hex(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add supported asset: %w", err)
	}
	return nil
}

// Remove implements AssetRegistry.
func (r *PostgresAssetRegistry) Remove(ctx context.Context, asset types.Address) error {
	_, err := r.db.Pool().Exec(ctx,
		`DELETE FROM supported_assets WHERE asset = $1`, asset.Hex())
	if err != nil {
		return fmt.Errorf("failed to remove supported asset: %w", err)
	}
	return nil
}

// IsSupported implements AssetRegistry.
func (r *PostgresAssetRegistry) IsSupported(ctx context.Context, asset types.Address) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM supported_assets WHERE asset = $1)`, asset.Hex()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check supported asset: %w", err)
	}
	return exists, nil
}

// List implements AssetRegistry.
func (r *PostgresAssetRegistry) List(ctx context.Context) ([]types.Address, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT asset FROM supported_assets ORDER BY asset ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list supported assets: %w", err)
	}
	defer rows.Close()

	var out []types.Address
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, fmt.Errorf("failed to scan supported asset: %w", err)
		}
		addr, err := types.ParseAddress(asset)
		if err != nil {
			return nil, fmt.Errorf("corrupt asset column: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
