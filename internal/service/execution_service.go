// Package service holds the inbound application path shared by the HTTP
// server and the one-shot execute mode.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/engine"
	"github.com/alanyoungcy/arbexecutor/internal/metrics"
)

// Engine is the orchestrator surface the service drives.
type Engine interface {
	Execute(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (engine.Result, error)
	Withdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error
	ToggleEmergencyHalt(ctx context.Context, caller common.Address) (bool, error)
	UpdateLimits(ctx context.Context, caller common.Address, maxTradeSize, dailyLossLimit *big.Int) error
	Safety() domain.SafetyState
	Address() common.Address
	Authority() common.Address
}

// RequestDecoder turns the ABI form of a request into the domain form.
type RequestDecoder interface {
	Decode(data []byte) (domain.ArbitrageRequest, error)
}

// BalanceReader reads ledger balances.
type BalanceReader interface {
	BalanceOf(token, holder common.Address) *big.Int
}

// Config tunes the service.
type Config struct {
	LockKey string
	LockTTL time.Duration
	// Decimals reports a token's precision for metrics; unknown tokens use 18.
	Decimals func(token common.Address) int
}

// ExecutionService serializes execute and admin calls across replicas with
// an optional distributed lock, records metrics and logs each outcome.
type ExecutionService struct {
	engine     Engine
	codec      RequestDecoder
	balances   BalanceReader
	executions domain.ExecutionStore
	locks      domain.LockManager
	metrics    *metrics.Metrics
	cfg        Config
	logger     *slog.Logger
}

// NewExecutionService wires the service. locks may be nil for single-node
// deployments.
func NewExecutionService(
	eng Engine,
	codec RequestDecoder,
	balances BalanceReader,
	executions domain.ExecutionStore,
	locks domain.LockManager,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *ExecutionService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Decimals == nil {
		cfg.Decimals = func(common.Address) int { return 18 }
	}
	s := &ExecutionService{
		engine:     eng,
		codec:      codec,
		balances:   balances,
		executions: executions,
		locks:      locks,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "execution_service")),
	}
	m.SetHalted(eng.Safety().Halted)
	return s
}

// Execute runs one arbitrage attempt on behalf of caller.
func (s *ExecutionService) Execute(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (engine.Result, error) {
	start := time.Now()
	unlock, err := s.lock(ctx)
	if err != nil {
		s.metrics.ObserveAttempt(err, time.Since(start))
		return engine.Result{}, err
	}
	defer unlock()

	res, err := s.engine.Execute(ctx, caller, req)
	s.metrics.ObserveAttempt(err, time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "attempt failed",
			slog.String("caller", caller.Hex()),
			slog.String("kind", string(domain.Classify(err))),
			slog.String("error", err.Error()),
		)
		return res, err
	}

	s.metrics.ObserveSettlement(req.BaseToken, res.NetProfit, s.cfg.Decimals(req.BaseToken), res.Borrowed)
	return res, nil
}

// ExecuteRaw decodes an ABI-encoded request and executes it. Callers other
// than the authority are turned away before the payload is decoded.
func (s *ExecutionService) ExecuteRaw(ctx context.Context, caller common.Address, raw []byte) (engine.Result, error) {
	if want := s.engine.Authority(); caller != want {
		err := &domain.UnauthorizedCallerError{Op: "execute", Caller: caller, Expected: want}
		s.metrics.ObserveAttempt(err, 0)
		s.logger.WarnContext(ctx, "attempt failed",
			slog.String("caller", caller.Hex()),
			slog.String("kind", string(domain.Classify(err))),
			slog.String("error", err.Error()),
		)
		return engine.Result{}, err
	}
	req, err := s.codec.Decode(raw)
	if err != nil {
		s.metrics.ObserveAttempt(err, 0)
		return engine.Result{}, err
	}
	return s.Execute(ctx, caller, req)
}

// Withdraw moves held funds to the authority.
func (s *ExecutionService) Withdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error {
	return s.admin(ctx, "withdraw", func() error {
		return s.engine.Withdraw(ctx, caller, token, amount)
	})
}

// ToggleEmergencyHalt flips the halt flag and returns its new value.
func (s *ExecutionService) ToggleEmergencyHalt(ctx context.Context, caller common.Address) (bool, error) {
	var halted bool
	err := s.admin(ctx, "toggle_emergency_halt", func() error {
		var err error
		halted, err = s.engine.ToggleEmergencyHalt(ctx, caller)
		return err
	})
	s.metrics.SetHalted(s.engine.Safety().Halted)
	return halted, err
}

// UpdateLimits replaces both safety limits.
func (s *ExecutionService) UpdateLimits(ctx context.Context, caller common.Address, maxTradeSize, dailyLossLimit *big.Int) error {
	return s.admin(ctx, "update_limits", func() error {
		return s.engine.UpdateLimits(ctx, caller, maxTradeSize, dailyLossLimit)
	})
}

// Safety returns a copy of the current safety state.
func (s *ExecutionService) Safety() domain.SafetyState {
	return s.engine.Safety()
}

// EngineAddress returns the executor's own address.
func (s *ExecutionService) EngineAddress() common.Address {
	return s.engine.Address()
}

// Balance returns the engine's balance of token.
func (s *ExecutionService) Balance(token common.Address) *big.Int {
	return s.balances.BalanceOf(token, s.engine.Address())
}

// Execution looks up a settled attempt.
func (s *ExecutionService) Execution(ctx context.Context, attemptID string) (domain.ExecutionRecord, error) {
	if s.executions == nil {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	return s.executions.GetByAttempt(ctx, attemptID)
}

func (s *ExecutionService) admin(ctx context.Context, op string, fn func() error) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		s.metrics.ObserveAdmin(op, err)
		return err
	}
	defer unlock()

	err = fn()
	s.metrics.ObserveAdmin(op, err)
	if err != nil {
		s.logger.WarnContext(ctx, "admin call failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (s *ExecutionService) lock(ctx context.Context) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire engine lock: %w", err)
	}
	return unlock, nil
}
