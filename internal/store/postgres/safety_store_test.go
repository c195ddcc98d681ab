package postgres

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

func TestSafetySaveUpsertsNumericStrings(t *testing.T) {
	db := &fakeDB{}
	store := NewSafetyStore(db)

	err := store.Save(context.Background(), domain.SafetyState{
		Halted:       true,
		MaxTradeSize: new(big.Int).Lsh(big.NewInt(1), 200),
		DailyLoss:    big.NewInt(7),
		LastResetDay: 20512,
	})
	require.NoError(t, err)

	require.Len(t, db.execs, 1)
	call := db.execs[0]
	assert.Contains(t, call.sql, "INSERT INTO safety_state")
	assert.Contains(t, call.sql, "ON CONFLICT (id) DO UPDATE")
	assert.Equal(t, []any{
		true,
		new(big.Int).Lsh(big.NewInt(1), 200).String(),
		"0",
		"7",
		int64(20512),
	}, call.args)
}

func TestSafetySaveWrapsError(t *testing.T) {
	store := NewSafetyStore(&fakeDB{execErr: errors.New("read-only transaction")})

	err := store.Save(context.Background(), domain.SafetyState{})
	require.ErrorContains(t, err, "save safety_state")
}

func TestSafetyLoad(t *testing.T) {
	db := &fakeDB{row: fakeRow{vals: []any{true, "77", "0", "3", int64(20512)}}}
	store := NewSafetyStore(db)

	st, found, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, st.Halted)
	assert.Equal(t, int64(77), st.MaxTradeSize.Int64())
	assert.Zero(t, st.DailyLossLimit.Sign())
	assert.Equal(t, int64(3), st.DailyLoss.Int64())
	assert.Equal(t, int64(20512), st.LastResetDay)
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0].sql, "WHERE id = 1")
}

func TestSafetyLoadEmptyTable(t *testing.T) {
	store := NewSafetyStore(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})

	_, found, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSafetyLoadFailures(t *testing.T) {
	for name, row := range map[string]fakeRow{
		"query":   {err: errors.New("connection reset")},
		"numeric": {vals: []any{false, "1e3", "0", "0", int64(1)}},
	} {
		t.Run(name, func(t *testing.T) {
			_, found, err := NewSafetyStore(&fakeDB{row: row}).Load(context.Background())
			require.Error(t, err)
			assert.False(t, found)
		})
	}
}
