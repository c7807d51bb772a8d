// Package custody abstracts the asset-transfer collaborator that moves
// assets into and out of protocol custody. The engine only does bookkeeping;
// the actual balance moves live behind this interface.
package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/portfolio-ledger/internal/types"
)

// ErrTransferFailed is returned when the underlying balance or allowance is
// insufficient for the requested move.
var ErrTransferFailed = errors.New("transfer failed")

// Service moves assets between external owners and protocol custody.
type Service interface {
	// CustodyIn pulls amount of asset from the owner into protocol custody.
	CustodyIn(ctx context.Context, asset, from types.Address, amount *big.Int) error
	// CustodyOut releases amount of asset from custody back to the owner.
	CustodyOut(ctx context.Context, asset, to types.Address, amount *big.Int) error
}

// Vault is an in-memory custody implementation for tests and dev mode. It
// tracks external balances per (asset, owner) and a custody total per asset.
type Vault struct {
	mu       sync.Mutex
	balances map[types.Address]map[types.Address]*big.Int
	custody  map[types.Address]*big.Int
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{
		balances: make(map[types.Address]map[types.Address]*big.Int),
		custody:  make(map[types.Address]*big.Int),
	}
}

// Fund credits an external balance, simulating an on-chain deposit source.
func (v *Vault) Fund(asset, owner types.Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance(asset, owner).Add(v.balance(asset, owner), amount)
}

// Balance returns the external balance for (asset, owner).
func (v *Vault) Balance(asset, owner types.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance(asset, owner))
}

// CustodyBalance returns the custody total held for an asset.
func (v *Vault) CustodyBalance(asset types.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.custody[asset]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (v *Vault) balance(asset, owner types.Address) *big.Int {
	owners, ok := v.balances[asset]
	if !ok {
		owners = make(map[types.Address]*big.Int)
		v.balances[asset] = owners
	}
	b, ok := owners[owner]
	if !ok {
		b = new(big.Int)
		owners[owner] = b
	}
	return b
}

func (v *Vault) custodyTotal(asset types.Address) *big.Int {
	b, ok := v.custody[asset]
	if !ok {
		b = new(big.Int)
		v.custody[asset] = b
	}
	return b
}

// CustodyIn implements Service.
func (v *Vault) CustodyIn(ctx context.Context, asset, from types.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b := v.balance(asset, from)
	if b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance for %s", ErrTransferFailed, from.Hex())
	}
	b.Sub(b, amount)
	v.custodyTotal(asset).Add(v.custodyTotal(asset), amount)
	return nil
}

// CustodyOut implements Service.
func (v *Vault) CustodyOut(ctx context.Context, asset, to types.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	c := v.custodyTotal(asset)
	if c.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient custody balance", ErrTransferFailed)
	}
	c.Sub(c, amount)
	v.balance(asset, to).Add(v.balance(asset, to), amount)
	return nil
}
