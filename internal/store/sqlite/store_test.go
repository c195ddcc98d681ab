package sqlite

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

var weth = common.HexToAddress("0x00000000000000000000000000000000000000e1")

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "arb.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSafetyStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	want := domain.SafetyState{
		Halted:         true,
		MaxTradeSize:   huge,
		DailyLossLimit: big.NewInt(500),
		DailyLoss:      big.NewInt(12),
		LastResetDay:   20513,
	}
	require.NoError(t, s.Save(ctx, want))

	want.Halted = false
	require.NoError(t, s.Save(ctx, want))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Halted)
	assert.Equal(t, 0, got.MaxTradeSize.Cmp(huge))
	assert.Equal(t, int64(12), got.DailyLoss.Int64())
	assert.Equal(t, int64(20513), got.LastResetDay)
}

func TestExecutionRecords(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Publish(ctx,
		domain.FlashLoanExecuted{AttemptID: "a-1", Asset: weth, Amount: big.NewInt(1000), Premium: big.NewInt(1), At: at},
		domain.ArbitrageExecuted{
			AttemptID: "a-1", BaseToken: weth,
			Profit: big.NewInt(40), NetProfit: big.NewInt(39), Premium: big.NewInt(1),
			Borrowed: true, Steps: 2, Cost: 3 * time.Millisecond, At: at,
		},
		domain.ArbitrageExecuted{
			AttemptID: "a-2", BaseToken: weth,
			Profit: big.NewInt(5), NetProfit: big.NewInt(5), Premium: big.NewInt(0), Steps: 1, At: at,
		},
		domain.EmergencyHaltToggled{Halted: true, At: at},
	))

	rec, err := s.GetByAttempt(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, weth, rec.Execution.BaseToken)
	assert.Equal(t, int64(39), rec.Execution.NetProfit.Int64())
	assert.True(t, rec.Execution.Borrowed)
	assert.Equal(t, 3*time.Millisecond, rec.Execution.Cost)
	assert.True(t, at.Equal(rec.Execution.At))
	require.NotNil(t, rec.FlashLoan)
	assert.Equal(t, int64(1000), rec.FlashLoan.Amount.Int64())

	rec, err = s.GetByAttempt(ctx, "a-2")
	require.NoError(t, err)
	assert.Nil(t, rec.FlashLoan)
	assert.False(t, rec.Execution.Borrowed)

	_, err = s.GetByAttempt(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admin_events").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestPublishIsIdempotentPerAttempt(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	ev := domain.ArbitrageExecuted{AttemptID: "dup", BaseToken: weth, Profit: big.NewInt(1), NetProfit: big.NewInt(1), Premium: new(big.Int), Steps: 1}

	require.NoError(t, s.Publish(ctx, ev))
	ev.Profit = big.NewInt(99)
	require.NoError(t, s.Publish(ctx, ev))

	rec, err := s.GetByAttempt(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Execution.Profit.Int64())
}
