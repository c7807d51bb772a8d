package custody

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/types"
)

var (
	asset = types.Address{0x01}
	owner = types.Address{0x02}
)

func TestVaultCustodyRoundTrip(t *testing.T) {
	ctx := context.Background()
	vault := NewVault()
	vault.Fund(asset, owner, big.NewInt(1000))

	require.NoError(t, vault.CustodyIn(ctx, asset, owner, big.NewInt(400)))
	assert.Equal(t, int64(600), vault.Balance(asset, owner).Int64())
	assert.Equal(t, int64(400), vault.CustodyBalance(asset).Int64())

	require.NoError(t, vault.CustodyOut(ctx, asset, owner, big.NewInt(400)))
	assert.Equal(t, int64(1000), vault.Balance(asset, owner).Int64())
	assert.Zero(t, vault.CustodyBalance(asset).Sign())
}

func TestVaultInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	vault := NewVault()
	vault.Fund(asset, owner, big.NewInt(100))

	err := vault.CustodyIn(ctx, asset, owner, big.NewInt(200))
	assert.ErrorIs(t, err, ErrTransferFailed)

	// Nothing moved on failure.
	assert.Equal(t, int64(100), vault.Balance(asset, owner).Int64())
	assert.Zero(t, vault.CustodyBalance(asset).Sign())
}

func TestVaultInsufficientCustody(t *testing.T) {
	ctx := context.Background()
	vault := NewVault()

	err := vault.CustodyOut(ctx, asset, owner, big.NewInt(1))
	assert.ErrorIs(t, err, ErrTransferFailed)
}
