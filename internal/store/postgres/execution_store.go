package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Every
// Publish call is written in one transaction.
type ExecutionStore struct {
	db DBTX
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(db DBTX) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Publish persists completion, capital-sourcing and administrative records.
func (s *ExecutionStore) Publish(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ev := range events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.ArbitrageExecuted:
		_, err := tx.Exec(ctx, `
			INSERT INTO arb_executions (attempt_id, base_token, profit, net_profit, premium, borrowed, steps, cost_ns, executed_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, $9)
			ON CONFLICT (attempt_id) DO NOTHING`,
			e.AttemptID, e.BaseToken.Hex(), numeric(e.Profit), numeric(e.NetProfit), numeric(e.Premium),
			e.Borrowed, e.Steps, e.Cost.Nanoseconds(), e.At,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert arb_execution %s: %w", e.AttemptID, err)
		}
	case domain.FlashLoanExecuted:
		_, err := tx.Exec(ctx, `
			INSERT INTO flash_loans (attempt_id, asset, amount, premium, executed_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5)
			ON CONFLICT (attempt_id) DO NOTHING`,
			e.AttemptID, e.Asset.Hex(), numeric(e.Amount), numeric(e.Premium), e.At,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert flash_loan %s: %w", e.AttemptID, err)
		}
	default:
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("postgres: marshal %s: %w", ev.EventName(), err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO admin_events (event, payload, created_at) VALUES ($1, $2, $3)",
			ev.EventName(), payload, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("postgres: insert admin_event %s: %w", ev.EventName(), err)
		}
	}
	return nil
}

// GetByAttempt returns the completion record of a settled attempt together
// with its flash loan, if one was taken.
func (s *ExecutionStore) GetByAttempt(ctx context.Context, attemptID string) (domain.ExecutionRecord, error) {
	var (
		rec                        domain.ExecutionRecord
		baseToken                  string
		profit, netProfit, premium string
		costNs                     int64
		loanAsset                  *string
		loanAmount, loanPremium    *string
		loanAt                     *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT e.attempt_id, e.base_token, e.profit::text, e.net_profit::text, e.premium::text,
		       e.borrowed, e.steps, e.cost_ns, e.executed_at,
		       f.asset, f.amount::text, f.premium::text, f.executed_at
		FROM arb_executions e
		LEFT JOIN flash_loans f ON f.attempt_id = e.attempt_id
		WHERE e.attempt_id = $1`,
		attemptID,
	).Scan(&rec.Execution.AttemptID, &baseToken, &profit, &netProfit, &premium,
		&rec.Execution.Borrowed, &rec.Execution.Steps, &costNs, &rec.Execution.At,
		&loanAsset, &loanAmount, &loanPremium, &loanAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get arb_execution %s: %w", attemptID, err)
	}

	ex := &rec.Execution
	ex.BaseToken = common.HexToAddress(baseToken)
	ex.Cost = time.Duration(costNs)
	if ex.Profit, err = parseNumeric(profit); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if ex.NetProfit, err = parseNumeric(netProfit); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if ex.Premium, err = parseNumeric(premium); err != nil {
		return domain.ExecutionRecord{}, err
	}

	if loanAsset != nil && loanAmount != nil && loanPremium != nil && loanAt != nil {
		loan := &domain.FlashLoanExecuted{AttemptID: attemptID, Asset: common.HexToAddress(*loanAsset), At: *loanAt}
		if loan.Amount, err = parseNumeric(*loanAmount); err != nil {
			return domain.ExecutionRecord{}, err
		}
		if loan.Premium, err = parseNumeric(*loanPremium); err != nil {
			return domain.ExecutionRecord{}, err
		}
		rec.FlashLoan = loan
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
