// Package engine drives one arbitrage attempt from validation to settlement
// and owns the process-wide safety state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/flashloan"
)

// State is a phase of one attempt.
type State string

const (
	StateIdle            State = "idle"
	StateValidating      State = "validating"
	StateSourcingCapital State = "sourcing_capital"
	StateSwapping        State = "swapping"
	StateEnforcing       State = "enforcing"
	StateSettled         State = "settled"
	StateAborted         State = "aborted"
)

// Ledger is the journaled token book attempts execute against.
type Ledger interface {
	BalanceOf(token, holder common.Address) *big.Int
	Approve(token, owner, spender common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
	Release(id int)
}

// SwapExecutor executes one swap step and returns the realized output.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, step domain.SwapStep, amountIn *big.Int) (*big.Int, error)
}

// CapitalSource borrows capital for one attempt and authenticates the
// lender's callback.
type CapitalSource interface {
	Lender() common.Address
	RequestCapital(ctx context.Context, receiver flashloan.Receiver, asset common.Address, amount *big.Int, params []byte) error
	Authenticate(caller, initiator common.Address) error
}

// ProfitEnforcer checks the profit invariant and returns the realized delta.
type ProfitEnforcer interface {
	Enforce(token common.Address, start, minProfit *big.Int) (*big.Int, error)
}

// RequestCodec carries a request through the lender as opaque bytes.
type RequestCodec interface {
	Encode(req domain.ArbitrageRequest) ([]byte, error)
	Decode(data []byte) (domain.ArbitrageRequest, error)
}

// Config holds the identities fixed at construction and the safety limits
// used when no persisted state exists.
type Config struct {
	Self           common.Address
	Authority      common.Address
	MaxTradeSize   *big.Int
	DailyLossLimit *big.Int
	// PublishTimeout bounds event delivery after an entrypoint returns its
	// lock. Defaults to 10s.
	PublishTimeout time.Duration
}

const defaultPublishTimeout = 10 * time.Second

// Dependencies are the collaborators injected into the Orchestrator. Events,
// Store, Clock, NewID and Logger are optional.
type Dependencies struct {
	Ledger  Ledger
	Swaps   SwapExecutor
	Capital CapitalSource
	Guard   ProfitEnforcer
	Codec   RequestCodec
	Events  domain.EventSink
	Store   domain.SafetyStore
	Clock   domain.Clock
	NewID   func() string
	Logger  *slog.Logger
}

// Result describes a settled or aborted attempt.
type Result struct {
	AttemptID string        `json:"attempt_id"`
	State     State         `json:"state"`
	Profit    *big.Int      `json:"profit"`
	NetProfit *big.Int      `json:"net_profit"`
	Premium   *big.Int      `json:"premium"`
	Borrowed  bool          `json:"borrowed"`
	Steps     int           `json:"steps"`
	Cost      time.Duration `json:"cost_ns"`
}

// Orchestrator is the execution engine. All public entrypoints are
// serialized; entrypoints invoked from within a running attempt fail with
// domain.ErrReentrant.
//
// Reentry is recognized by the attempt marker carried in the context. A
// collaborator that calls back into the engine with a context not derived
// from the one it was handed (context.Background, say) is not recognized:
// it waits on the entrypoint lock, and a synchronous call of that kind
// deadlocks the attempt instead of failing.
//
// Safety state is re-read from the SafetyStore at the start of every
// entrypoint, so engines sharing one store see each other's halts, limits
// and daily loss. Events are delivered after the entrypoint lock is
// released, on a context detached from the caller's cancellation.
type Orchestrator struct {
	self      common.Address
	authority common.Address

	ledger  Ledger
	swaps   SwapExecutor
	capital CapitalSource
	guard   ProfitEnforcer
	codec   RequestCodec
	events  domain.EventSink
	store   domain.SafetyStore
	clock   domain.Clock
	newID   func() string
	logger  *slog.Logger

	publishTimeout time.Duration

	// mu serializes entrypoints for the lifetime of each call.
	mu sync.Mutex

	safetyMu sync.RWMutex
	safety   domain.SafetyState

	currentMu sync.Mutex
	current   *attempt
}

// New builds an Orchestrator and loads persisted safety state, falling back
// to the configured limits.
func New(ctx context.Context, cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Ledger == nil || deps.Swaps == nil || deps.Capital == nil || deps.Guard == nil || deps.Codec == nil {
		return nil, errors.New("engine: ledger, swaps, capital, guard and codec are required")
	}
	if cfg.Self == (common.Address{}) || cfg.Authority == (common.Address{}) {
		return nil, errors.New("engine: self and authority addresses are required")
	}
	o := &Orchestrator{
		self:      cfg.Self,
		authority: cfg.Authority,
		ledger:    deps.Ledger,
		swaps:     deps.Swaps,
		capital:   deps.Capital,
		guard:     deps.Guard,
		codec:     deps.Codec,
		events:    deps.Events,
		store:     deps.Store,
		clock:     deps.Clock,
		newID:     deps.NewID,
		logger:    deps.Logger,

		publishTimeout: cfg.PublishTimeout,
	}
	if o.publishTimeout <= 0 {
		o.publishTimeout = defaultPublishTimeout
	}
	if o.events == nil {
		o.events = domain.DiscardSink{}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With(slog.String("component", "orchestrator"))

	o.safety = domain.SafetyState{
		MaxTradeSize:   cfg.MaxTradeSize,
		DailyLossLimit: cfg.DailyLossLimit,
		LastResetDay:   domain.DayIndex(o.clock()),
	}
	if o.store != nil {
		stored, found, err := o.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: load safety state: %w", err)
		}
		if found {
			o.safety = stored
			o.logger.InfoContext(ctx, "safety state restored",
				slog.Bool("halted", stored.Halted),
				slog.Int64("last_reset_day", stored.LastResetDay),
			)
		}
	}
	o.safety = o.safety.Clone()
	return o, nil
}

// Address returns the engine's own account.
func (o *Orchestrator) Address() common.Address { return o.self }

// Authority returns the only account allowed to execute and administer.
func (o *Orchestrator) Authority() common.Address { return o.authority }

// Lender returns the lender whose callbacks are trusted.
func (o *Orchestrator) Lender() common.Address { return o.capital.Lender() }

// Safety returns a copy of the current safety state.
func (o *Orchestrator) Safety() domain.SafetyState {
	o.safetyMu.RLock()
	defer o.safetyMu.RUnlock()
	return o.safety.Clone()
}

// InFlight reports the id and state of the running attempt, if any.
func (o *Orchestrator) InFlight() (string, State) {
	o.currentMu.Lock()
	defer o.currentMu.Unlock()
	if o.current == nil {
		return "", StateIdle
	}
	return o.current.id, o.current.state
}

type attemptKey struct{}

// attempt is the mutable record of one Execute call.
type attempt struct {
	id      string
	req     domain.ArbitrageRequest
	state   State
	started time.Time
	logger  *slog.Logger

	borrowed     bool
	calledBack   bool
	premium      *big.Int
	profit       *big.Int
	events       []domain.Event
	stepsApplied int
}

func (a *attempt) transition(ctx context.Context, next State) {
	a.logger.DebugContext(ctx, "attempt state",
		slog.String("from", string(a.state)),
		slog.String("state", string(next)),
	)
	a.state = next
}

func attemptFrom(ctx context.Context) *attempt {
	a, _ := ctx.Value(attemptKey{}).(*attempt)
	return a
}

func checkReentrancy(ctx context.Context) error {
	if attemptFrom(ctx) != nil {
		return domain.ErrReentrant
	}
	return nil
}

func (o *Orchestrator) setCurrent(a *attempt) {
	o.currentMu.Lock()
	o.current = a
	o.currentMu.Unlock()
}

func (o *Orchestrator) isCurrent(a *attempt) bool {
	o.currentMu.Lock()
	defer o.currentMu.Unlock()
	return a != nil && o.current == a
}

// Execute runs one attempt. On any failure every ledger mutation made by the
// attempt is undone and no event is emitted. The only state an aborted
// attempt can leave behind is a daily-loss rollover.
func (o *Orchestrator) Execute(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (Result, error) {
	if err := checkReentrancy(ctx); err != nil {
		return Result{State: StateAborted}, err
	}
	var settled []domain.Event
	defer func(parent context.Context) { o.publish(parent, settled...) }(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()

	if caller != o.authority {
		return Result{State: StateAborted}, &domain.UnauthorizedCallerError{Op: "execute", Caller: caller, Expected: o.authority}
	}
	if err := o.reload(ctx); err != nil {
		return Result{State: StateAborted}, err
	}

	now := o.clock()
	a := &attempt{
		id:      o.newID(),
		req:     req,
		state:   StateIdle,
		started: now,
		premium: new(big.Int),
	}
	a.logger = o.logger.With(
		slog.String("attempt_id", a.id),
		slog.String("base_token", req.BaseToken.Hex()),
	)
	ctx = context.WithValue(ctx, attemptKey{}, a)
	ctx = domain.WithExecutionTime(ctx, now)

	a.transition(ctx, StateValidating)
	o.rollover(ctx, now)

	if err := o.preflight(req); err != nil {
		return o.abort(ctx, a, err)
	}

	rev := o.ledger.Snapshot()
	o.setCurrent(a)
	err := o.dispatch(ctx, a)
	if err == nil {
		err = o.settle(ctx, a)
	}
	o.setCurrent(nil)
	if err != nil {
		o.ledger.RevertToSnapshot(rev)
		return o.abort(ctx, a, err)
	}
	o.ledger.Release(rev)

	res := a.result(o.clock())
	a.logger.InfoContext(ctx, "attempt settled",
		slog.String("profit", res.Profit.String()),
		slog.String("net_profit", res.NetProfit.String()),
		slog.Bool("borrowed", res.Borrowed),
		slog.Int("steps", res.Steps),
		slog.Duration("cost", res.Cost),
	)
	settled = a.events
	return res, nil
}

// preflight runs the checks that need no ledger access.
func (o *Orchestrator) preflight(req domain.ArbitrageRequest) error {
	safety := o.Safety()
	if safety.Halted {
		return domain.ErrSafetyHalt
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.UseFlashLoan {
		return checkTradeSize(req.FlashLoanAmount, safety.MaxTradeSize)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, a *attempt) error {
	if !a.req.UseFlashLoan {
		return o.run(ctx, a, a.req)
	}
	a.transition(ctx, StateSourcingCapital)
	params, err := o.codec.Encode(a.req)
	if err != nil {
		return err
	}
	if err := o.capital.RequestCapital(ctx, o, a.req.BaseToken, a.req.FlashLoanAmount, params); err != nil {
		return err
	}
	if !a.calledBack {
		return fmt.Errorf("lender %s returned without calling back", o.capital.Lender().Hex())
	}
	return nil
}

// ExecuteOperation is the lender's callback. It accepts only the configured
// lender, only self as initiator, and only while an attempt of this engine is
// waiting for exactly this loan.
func (o *Orchestrator) ExecuteOperation(ctx context.Context, caller, asset common.Address, amount, premium *big.Int,
	initiator common.Address, params []byte) (bool, error) {
	if err := o.capital.Authenticate(caller, initiator); err != nil {
		return false, err
	}
	a := attemptFrom(ctx)
	if !o.isCurrent(a) || a.state != StateSourcingCapital || a.calledBack ||
		asset != a.req.BaseToken || amount == nil || amount.Cmp(a.req.FlashLoanAmount) != 0 {
		o.logger.WarnContext(ctx, "callback outside a sourcing attempt",
			slog.String("caller", caller.Hex()),
			slog.String("asset", asset.Hex()),
		)
		return false, &domain.UnauthorizedCallerError{Op: "executeOperation", Caller: caller, Expected: o.capital.Lender()}
	}
	a.calledBack = true

	req, err := o.codec.Decode(params)
	if err != nil {
		return false, err
	}
	if err := req.Validate(); err != nil {
		return false, err
	}
	if premium == nil {
		premium = new(big.Int)
	}
	a.borrowed = true
	a.premium = new(big.Int).Set(premium)

	if err := o.run(ctx, a, req); err != nil {
		return false, err
	}

	owed := new(big.Int).Add(amount, premium)
	if err := o.ledger.Approve(asset, o.self, caller, owed); err != nil {
		return false, fmt.Errorf("authorize repayment: %w", err)
	}
	a.events = append(a.events, domain.FlashLoanExecuted{
		AttemptID: a.id,
		Asset:     asset,
		Amount:    new(big.Int).Set(amount),
		Premium:   new(big.Int).Set(premium),
		At:        a.started,
	})
	return true, nil
}

// run executes the swap sequence and enforces the profit invariant.
func (o *Orchestrator) run(ctx context.Context, a *attempt, req domain.ArbitrageRequest) error {
	a.transition(ctx, StateSwapping)
	maxTrade := o.Safety().MaxTradeSize
	start := o.ledger.BalanceOf(req.BaseToken, o.self)

	for i, step := range req.Swaps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		amountIn := step.AmountIn
		if step.UsesFullBalance() {
			amountIn = o.ledger.BalanceOf(step.TokenIn, o.self)
		}
		if step.TokenIn == req.BaseToken {
			if err := checkTradeSize(amountIn, maxTrade); err != nil {
				return err
			}
		}
		out, err := o.swaps.ExecuteSwap(ctx, step, amountIn)
		if err != nil {
			return err
		}
		a.stepsApplied++
		a.logger.DebugContext(ctx, "step executed",
			slog.Int("step", i),
			slog.String("amount_in", amountIn.String()),
			slog.String("amount_out", out.String()),
		)
	}

	a.transition(ctx, StateEnforcing)
	profit, err := o.guard.Enforce(req.BaseToken, start, req.MinProfit)
	if err != nil {
		return err
	}
	a.profit = profit
	return nil
}

// settle commits the daily-loss impact and records the completion fact.
func (o *Orchestrator) settle(ctx context.Context, a *attempt) error {
	if a.profit == nil {
		return errors.New("attempt finished without a profit verdict")
	}
	netLoss := new(big.Int).Sub(a.premium, a.profit)
	if netLoss.Sign() > 0 {
		if err := o.recordLoss(ctx, netLoss); err != nil {
			return err
		}
	}
	a.transition(ctx, StateSettled)
	a.events = append(a.events, domain.ArbitrageExecuted{
		AttemptID: a.id,
		BaseToken: a.req.BaseToken,
		Profit:    new(big.Int).Set(a.profit),
		NetProfit: new(big.Int).Sub(a.profit, a.premium),
		Premium:   new(big.Int).Set(a.premium),
		Borrowed:  a.borrowed,
		Steps:     a.stepsApplied,
		Cost:      o.clock().Sub(a.started),
		At:        a.started,
	})
	return nil
}

func (o *Orchestrator) abort(ctx context.Context, a *attempt, err error) (Result, error) {
	a.transition(ctx, StateAborted)
	a.logger.WarnContext(ctx, "attempt aborted",
		slog.String("kind", string(domain.Classify(err))),
		slog.String("error", err.Error()),
	)
	res := Result{AttemptID: a.id, State: StateAborted, Cost: o.clock().Sub(a.started)}
	return res, fmt.Errorf("attempt %s: %w", a.id, err)
}

func (a *attempt) result(now time.Time) Result {
	return Result{
		AttemptID: a.id,
		State:     a.state,
		Profit:    new(big.Int).Set(a.profit),
		NetProfit: new(big.Int).Sub(a.profit, a.premium),
		Premium:   new(big.Int).Set(a.premium),
		Borrowed:  a.borrowed,
		Steps:     a.stepsApplied,
		Cost:      now.Sub(a.started),
	}
}

// checkTradeSize rejects amount above limit. A zero limit disables the check.
func checkTradeSize(amount, limit *big.Int) error {
	if limit == nil || limit.Sign() == 0 || amount == nil {
		return nil
	}
	if amount.Cmp(limit) > 0 {
		return &domain.TradeSizeError{Amount: new(big.Int).Set(amount), Limit: new(big.Int).Set(limit)}
	}
	return nil
}
