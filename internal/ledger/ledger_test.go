package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0xa0")
	tokenB = common.HexToAddress("0xb0")
	alice  = common.HexToAddress("0x01")
	bob    = common.HexToAddress("0x02")
	venue  = common.HexToAddress("0x03")
)

func TestTransfer(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(40)))
	assert.Equal(t, int64(60), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(40), l.BalanceOf(tokenA, bob).Int64())

	err := l.Transfer(tokenA, alice, bob, big.NewInt(61))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(60), l.BalanceOf(tokenA, alice).Int64())

	require.ErrorIs(t, l.Transfer(tokenA, alice, bob, big.NewInt(-1)), ErrInvalidAmount)
	require.ErrorIs(t, l.Transfer(tokenA, alice, bob, nil), ErrInvalidAmount)
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(5)))
	b := l.BalanceOf(tokenA, alice)
	b.SetInt64(1000)
	assert.Equal(t, int64(5), l.BalanceOf(tokenA, alice).Int64())
}

func TestApproveAndTransferFrom(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	err := l.TransferFrom(tokenA, venue, alice, venue, big.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, l.Approve(tokenA, alice, venue, big.NewInt(30)))
	require.NoError(t, l.Approve(tokenA, alice, venue, big.NewInt(25)))
	assert.Equal(t, int64(25), l.Allowance(tokenA, alice, venue).Int64(), "approve sets, never adds")

	require.NoError(t, l.TransferFrom(tokenA, venue, alice, venue, big.NewInt(20)))
	assert.Equal(t, int64(5), l.Allowance(tokenA, alice, venue).Int64())
	assert.Equal(t, int64(80), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(20), l.BalanceOf(tokenA, venue).Int64())

	require.ErrorIs(t, l.TransferFrom(tokenA, venue, alice, venue, big.NewInt(6)), ErrInsufficientAllowance)
}

func TestTransferFromInsufficientBalanceKeepsAllowance(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(10)))
	require.NoError(t, l.Approve(tokenA, alice, venue, big.NewInt(50)))

	err := l.TransferFrom(tokenA, venue, alice, venue, big.NewInt(20))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(50), l.Allowance(tokenA, alice, venue).Int64())
}

func TestSnapshotRevert(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))
	require.NoError(t, l.Mint(tokenB, bob, big.NewInt(7)))

	id := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(30)))
	require.NoError(t, l.Approve(tokenA, alice, venue, big.NewInt(70)))
	require.NoError(t, l.Mint(tokenB, venue, big.NewInt(3)))

	inner := l.Snapshot()
	require.NoError(t, l.Transfer(tokenB, bob, alice, big.NewInt(7)))
	l.RevertToSnapshot(inner)
	assert.Equal(t, int64(7), l.BalanceOf(tokenB, bob).Int64())
	assert.Equal(t, int64(70), l.BalanceOf(tokenA, alice).Int64())

	l.RevertToSnapshot(id)
	assert.Equal(t, int64(100), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(tokenA, bob).Int64())
	assert.Equal(t, int64(0), l.Allowance(tokenA, alice, venue).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(tokenB, venue).Int64())
	assert.Equal(t, []common.Address{alice}, l.Holders(tokenA))
}

func TestReleaseKeepsMutations(t *testing.T) {
	l := New()
	id := l.Snapshot()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(9)))
	l.Release(id)
	assert.Equal(t, int64(9), l.BalanceOf(tokenA, alice).Int64())
	assert.Panics(t, func() { l.RevertToSnapshot(id) })
}

func TestHolders(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(tokenA, bob, big.NewInt(1)))
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(1)))
	require.NoError(t, l.Mint(tokenB, venue, big.NewInt(1)))
	assert.Equal(t, []common.Address{alice, bob}, l.Holders(tokenA))
}
