// Package dex dispatches swap steps to the two supported venue shapes and
// provides in-process venues of both shapes.
package dex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

var (
	ErrUnknownVenue       = errors.New("dex: unknown venue")
	ErrUnsupportedRoute   = errors.New("dex: venue does not support route")
	ErrEmptyAmounts       = errors.New("dex: venue returned no amounts")
	ErrInsufficientOutput = errors.New("dex: insufficient output amount")
	ErrExpired            = errors.New("dex: deadline expired")
	ErrNoPool             = errors.New("dex: pool does not exist")
	ErrPriceLimit         = errors.New("dex: price limit not supported")
)

// PathRouter is a venue that swaps along an explicit multi-hop path and
// reports the amount realized at every hop.
type PathRouter interface {
	SwapExactTokensForTokens(ctx context.Context, caller common.Address, amountIn, amountOutMin *big.Int,
		path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error)
}

// ExactInputSingleParams is the fixed parameter bundle of a tiered swap.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               uint32
	Recipient         common.Address
	Deadline          time.Time
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// TieredRouter is a venue that swaps through a single pool selected by fee
// tier.
type TieredRouter interface {
	ExactInputSingle(ctx context.Context, caller common.Address, params ExactInputSingleParams) (*big.Int, error)
}

// Approver grants a spender an allowance over an owner's balance.
type Approver interface {
	Approve(token, owner, spender common.Address, amount *big.Int) error
}

// Registry maps venue addresses to their capabilities.
type Registry struct {
	mu     sync.RWMutex
	paths  map[common.Address]PathRouter
	tiered map[common.Address]TieredRouter
}

// NewRegistry returns an empty venue registry.
func NewRegistry() *Registry {
	return &Registry{
		paths:  make(map[common.Address]PathRouter),
		tiered: make(map[common.Address]TieredRouter),
	}
}

// RegisterPathRouter makes r reachable at addr for path-routed steps.
func (r *Registry) RegisterPathRouter(addr common.Address, router PathRouter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[addr] = router
}

// RegisterTieredRouter makes r reachable at addr for single-hop tiered steps.
func (r *Registry) RegisterTieredRouter(addr common.Address, router TieredRouter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiered[addr] = router
}

// Venues returns the number of registered venue capabilities.
func (r *Registry) Venues() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paths) + len(r.tiered)
}

func (r *Registry) pathRouter(addr common.Address) (PathRouter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.paths[addr]; ok {
		return v, nil
	}
	if _, ok := r.tiered[addr]; ok {
		return nil, ErrUnsupportedRoute
	}
	return nil, ErrUnknownVenue
}

func (r *Registry) tieredRouter(addr common.Address) (TieredRouter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.tiered[addr]; ok {
		return v, nil
	}
	if _, ok := r.paths[addr]; ok {
		return nil, ErrUnsupportedRoute
	}
	return nil, ErrUnknownVenue
}

// Adapter executes one swap step on behalf of the engine account.
type Adapter struct {
	self     common.Address
	approver Approver
	venues   *Registry
	clock    domain.Clock
	logger   *slog.Logger
}

// NewAdapter creates an Adapter that trades from self's balances.
func NewAdapter(self common.Address, approver Approver, venues *Registry, clock domain.Clock, logger *slog.Logger) *Adapter {
	return &Adapter{
		self:     self,
		approver: approver,
		venues:   venues,
		clock:    clock,
		logger:   logger.With(slog.String("component", "dex_adapter")),
	}
}

// ExecuteSwap grants the step's venue an allowance of exactly amountIn and
// dispatches the swap on the step's route. The realized output is returned;
// every failure is a *domain.SwapFailedError.
func (a *Adapter) ExecuteSwap(ctx context.Context, step domain.SwapStep, amountIn *big.Int) (*big.Int, error) {
	fail := func(reason error) error {
		return &domain.SwapFailedError{Venue: step.Venue, TokenIn: step.TokenIn, TokenOut: step.TokenOut, Reason: reason}
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fail(fmt.Errorf("amount in %v is not positive", amountIn))
	}
	minOut := step.MinAmountOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	deadline := domain.ExecutionTime(ctx, a.clock)

	var (
		out *big.Int
		err error
	)
	switch route := step.Route.(type) {
	case domain.PathRouted:
		out, err = a.swapPath(ctx, step, route, amountIn, minOut, deadline)
	case domain.SingleHopTiered:
		out, err = a.swapTiered(ctx, step, route, amountIn, minOut, deadline)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupportedRoute, step.Route)
	}
	if err != nil {
		return nil, fail(err)
	}

	a.logger.DebugContext(ctx, "swap executed",
		slog.String("venue", step.Venue.Hex()),
		slog.String("route", string(step.Route.Kind())),
		slog.String("amount_in", amountIn.String()),
		slog.String("amount_out", out.String()),
	)
	return out, nil
}

func (a *Adapter) swapPath(ctx context.Context, step domain.SwapStep, route domain.PathRouted,
	amountIn, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	venue, err := a.venues.pathRouter(step.Venue)
	if err != nil {
		return nil, err
	}
	if err := a.approver.Approve(step.TokenIn, a.self, step.Venue, amountIn); err != nil {
		return nil, fmt.Errorf("approve venue: %w", err)
	}
	amounts, err := venue.SwapExactTokensForTokens(ctx, a.self, amountIn, minOut, route.Path, a.self, deadline)
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, ErrEmptyAmounts
	}
	out := amounts[len(amounts)-1]
	if out == nil || out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: got %v, want at least %s", ErrInsufficientOutput, out, minOut)
	}
	return new(big.Int).Set(out), nil
}

func (a *Adapter) swapTiered(ctx context.Context, step domain.SwapStep, route domain.SingleHopTiered,
	amountIn, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	venue, err := a.venues.tieredRouter(step.Venue)
	if err != nil {
		return nil, err
	}
	if err := a.approver.Approve(step.TokenIn, a.self, step.Venue, amountIn); err != nil {
		return nil, fmt.Errorf("approve venue: %w", err)
	}
	out, err := venue.ExactInputSingle(ctx, a.self, ExactInputSingleParams{
		TokenIn:           step.TokenIn,
		TokenOut:          step.TokenOut,
		Fee:               route.FeeTier,
		Recipient:         a.self,
		Deadline:          deadline,
		AmountIn:          new(big.Int).Set(amountIn),
		AmountOutMinimum:  new(big.Int).Set(minOut),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: got %v, want at least %s", ErrInsufficientOutput, out, minOut)
	}
	return new(big.Int).Set(out), nil
}
