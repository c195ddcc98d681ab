// Package sqlite persists safety state and execution records in a local
// SQLite database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS safety_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	halted           INTEGER NOT NULL,
	max_trade_size   TEXT    NOT NULL,
	daily_loss_limit TEXT    NOT NULL,
	daily_loss       TEXT    NOT NULL,
	last_reset_day   INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS arb_executions (
	attempt_id  TEXT PRIMARY KEY,
	base_token  TEXT    NOT NULL,
	profit      TEXT    NOT NULL,
	net_profit  TEXT    NOT NULL,
	premium     TEXT    NOT NULL,
	borrowed    INTEGER NOT NULL,
	steps       INTEGER NOT NULL,
	cost_ns     INTEGER NOT NULL,
	executed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS flash_loans (
	attempt_id  TEXT PRIMARY KEY,
	asset       TEXT    NOT NULL,
	amount      TEXT    NOT NULL,
	premium     TEXT    NOT NULL,
	executed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS admin_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);`

// Store wraps a SQLite DB connection. It implements both domain.SafetyStore
// and domain.ExecutionStore.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates (if needed) and opens the database at path, switches it to WAL
// mode and ensures the schema exists.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path must not be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: ensure data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)

	s := &Store{path: path, db: db}
	if err := s.init(ctx, busyTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context, busyTimeout time.Duration) error {
	if busyTimeout > 0 {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("sqlite: set busy_timeout: %w", err)
		}
	}
	if err := ensureWAL(ctx, s.db); err != nil {
		return fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: create tables: %w", err)
	}
	return nil
}

func ensureWAL(ctx context.Context, db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the stored safety state, or false when none has been saved.
func (s *Store) Load(ctx context.Context) (domain.SafetyState, bool, error) {
	var (
		st                        domain.SafetyState
		halted                    int
		maxTrade, lossLimit, loss string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT halted, max_trade_size, daily_loss_limit, daily_loss, last_reset_day
		FROM safety_state WHERE id = 1`,
	).Scan(&halted, &maxTrade, &lossLimit, &loss, &st.LastResetDay)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SafetyState{}, false, nil
		}
		return domain.SafetyState{}, false, fmt.Errorf("sqlite: load safety_state: %w", err)
	}
	st.Halted = halted != 0
	for _, f := range []struct {
		dst **big.Int
		raw string
	}{{&st.MaxTradeSize, maxTrade}, {&st.DailyLossLimit, lossLimit}, {&st.DailyLoss, loss}} {
		if *f.dst, err = parseAmount(f.raw); err != nil {
			return domain.SafetyState{}, false, err
		}
	}
	return st, true, nil
}

// Save upserts the safety state.
func (s *Store) Save(ctx context.Context, st domain.SafetyState) error {
	st.Normalize()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO safety_state (id, halted, max_trade_size, daily_loss_limit, daily_loss, last_reset_day, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			halted = excluded.halted,
			max_trade_size = excluded.max_trade_size,
			daily_loss_limit = excluded.daily_loss_limit,
			daily_loss = excluded.daily_loss,
			last_reset_day = excluded.last_reset_day,
			updated_at = excluded.updated_at`,
		boolInt(st.Halted), st.MaxTradeSize.String(), st.DailyLossLimit.String(), st.DailyLoss.String(),
		st.LastResetDay, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save safety_state: %w", err)
	}
	return nil
}

// Publish persists events in one transaction.
func (s *Store) Publish(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.ArbitrageExecuted:
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO arb_executions (attempt_id, base_token, profit, net_profit, premium, borrowed, steps, cost_ns, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.AttemptID, e.BaseToken.Hex(), amount(e.Profit), amount(e.NetProfit), amount(e.Premium),
			boolInt(e.Borrowed), e.Steps, e.Cost.Nanoseconds(), e.At.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert arb_execution %s: %w", e.AttemptID, err)
		}
	case domain.FlashLoanExecuted:
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO flash_loans (attempt_id, asset, amount, premium, executed_at)
			VALUES (?, ?, ?, ?, ?)`,
			e.AttemptID, e.Asset.Hex(), amount(e.Amount), amount(e.Premium), e.At.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert flash_loan %s: %w", e.AttemptID, err)
		}
	default:
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("sqlite: marshal %s: %w", ev.EventName(), err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO admin_events (event, payload, created_at) VALUES (?, ?, ?)",
			ev.EventName(), string(payload), time.Now().UnixNano(),
		); err != nil {
			return fmt.Errorf("sqlite: insert admin_event %s: %w", ev.EventName(), err)
		}
	}
	return nil
}

// GetByAttempt returns the completion record for attemptID, or
// domain.ErrNotFound.
func (s *Store) GetByAttempt(ctx context.Context, attemptID string) (domain.ExecutionRecord, error) {
	var (
		rec                        domain.ExecutionRecord
		baseToken                  string
		profit, netProfit, premium string
		borrowed                   int
		costNs, at                 int64
		loanAsset, loanAmount      sql.NullString
		loanPremium                sql.NullString
		loanAt                     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT e.attempt_id, e.base_token, e.profit, e.net_profit, e.premium,
		       e.borrowed, e.steps, e.cost_ns, e.executed_at,
		       f.asset, f.amount, f.premium, f.executed_at
		FROM arb_executions e
		LEFT JOIN flash_loans f ON f.attempt_id = e.attempt_id
		WHERE e.attempt_id = ?`,
		attemptID,
	).Scan(&rec.Execution.AttemptID, &baseToken, &profit, &netProfit, &premium,
		&borrowed, &rec.Execution.Steps, &costNs, &at,
		&loanAsset, &loanAmount, &loanPremium, &loanAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("sqlite: get arb_execution %s: %w", attemptID, err)
	}

	ex := &rec.Execution
	ex.BaseToken = common.HexToAddress(baseToken)
	ex.Borrowed = borrowed != 0
	ex.Cost = time.Duration(costNs)
	ex.At = time.Unix(0, at).UTC()
	if ex.Profit, err = parseAmount(profit); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if ex.NetProfit, err = parseAmount(netProfit); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if ex.Premium, err = parseAmount(premium); err != nil {
		return domain.ExecutionRecord{}, err
	}

	if loanAsset.Valid {
		loan := &domain.FlashLoanExecuted{
			AttemptID: attemptID,
			Asset:     common.HexToAddress(loanAsset.String),
			At:        time.Unix(0, loanAt.Int64).UTC(),
		}
		if loan.Amount, err = parseAmount(loanAmount.String); err != nil {
			return domain.ExecutionRecord{}, err
		}
		if loan.Premium, err = parseAmount(loanPremium.String); err != nil {
			return domain.ExecutionRecord{}, err
		}
		rec.FlashLoan = loan
	}
	return rec, nil
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("sqlite: malformed amount %q", s)
	}
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface checks.
var (
	_ domain.SafetyStore    = (*Store)(nil)
	_ domain.ExecutionStore = (*Store)(nil)
)
