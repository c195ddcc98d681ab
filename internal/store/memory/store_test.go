package memory

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

func TestExecutionRecordNeedsCompletion(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Publish(ctx, domain.FlashLoanExecuted{AttemptID: "a", Amount: big.NewInt(1)}))
	_, err := s.GetByAttempt(ctx, "a")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Publish(ctx, domain.ArbitrageExecuted{AttemptID: "a", Borrowed: true}))
	rec, err := s.GetByAttempt(ctx, "a")
	require.NoError(t, err)
	assert.True(t, rec.Execution.Borrowed)
	require.NotNil(t, rec.FlashLoan)
}

func TestSafetyIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	st := domain.SafetyState{MaxTradeSize: big.NewInt(10)}
	require.NoError(t, s.Save(ctx, st))
	st.MaxTradeSize.SetInt64(99)

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), got.MaxTradeSize.Int64())
}
