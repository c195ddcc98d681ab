package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// SafetyStore implements domain.SafetyStore as a single upserted row.
type SafetyStore struct {
	db DBTX
}

// NewSafetyStore creates a new SafetyStore.
func NewSafetyStore(db DBTX) *SafetyStore {
	return &SafetyStore{db: db}
}

// Load returns the stored state, or false when none has been saved.
func (s *SafetyStore) Load(ctx context.Context) (domain.SafetyState, bool, error) {
	var (
		st                        domain.SafetyState
		maxTrade, lossLimit, loss string
	)
	err := s.db.QueryRow(ctx, `
		SELECT halted, max_trade_size::text, daily_loss_limit::text, daily_loss::text, last_reset_day
		FROM safety_state WHERE id = 1`,
	).Scan(&st.Halted, &maxTrade, &lossLimit, &loss, &st.LastResetDay)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SafetyState{}, false, nil
		}
		return domain.SafetyState{}, false, fmt.Errorf("postgres: load safety_state: %w", err)
	}
	if st.MaxTradeSize, err = parseNumeric(maxTrade); err != nil {
		return domain.SafetyState{}, false, err
	}
	if st.DailyLossLimit, err = parseNumeric(lossLimit); err != nil {
		return domain.SafetyState{}, false, err
	}
	if st.DailyLoss, err = parseNumeric(loss); err != nil {
		return domain.SafetyState{}, false, err
	}
	return st, true, nil
}

// Save upserts the state.
func (s *SafetyStore) Save(ctx context.Context, st domain.SafetyState) error {
	st.Normalize()
	_, err := s.db.Exec(ctx, `
		INSERT INTO safety_state (id, halted, max_trade_size, daily_loss_limit, daily_loss, last_reset_day, updated_at)
		VALUES (1, $1, $2::numeric, $3::numeric, $4::numeric, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			halted = EXCLUDED.halted,
			max_trade_size = EXCLUDED.max_trade_size,
			daily_loss_limit = EXCLUDED.daily_loss_limit,
			daily_loss = EXCLUDED.daily_loss,
			last_reset_day = EXCLUDED.last_reset_day,
			updated_at = NOW()`,
		st.Halted, numeric(st.MaxTradeSize), numeric(st.DailyLossLimit), numeric(st.DailyLoss), st.LastResetDay,
	)
	if err != nil {
		return fmt.Errorf("postgres: save safety_state: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SafetyStore = (*SafetyStore)(nil)
