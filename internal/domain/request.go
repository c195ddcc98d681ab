package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RouteKind names the protocol shape a swap step is dispatched through.
type RouteKind string

const (
	RoutePathRouted      RouteKind = "path_routed"       // multi-hop along an explicit path
	RouteSingleHopTiered RouteKind = "single_hop_tiered" // single pool selected by fee tier
)

// MaxFeeTier is the exclusive upper bound of a uint24 fee tier.
const MaxFeeTier = 1 << 24

// Route is the variant-specific part of a swap step. It is implemented only by
// PathRouted and SingleHopTiered.
type Route interface {
	Kind() RouteKind
	validate(step SwapStep, idx int) error
}

// PathRouted routes a swap along an explicit token path.
type PathRouted struct {
	Path []common.Address `json:"path"`
}

// Kind implements Route.
func (PathRouted) Kind() RouteKind { return RoutePathRouted }

func (r PathRouted) validate(step SwapStep, idx int) error {
	field := fmt.Sprintf("swaps[%d].path", idx)
	if len(r.Path) < 2 {
		return &ParamError{Field: field, Reason: "needs at least two tokens"}
	}
	if r.Path[0] != step.TokenIn {
		return &ParamError{Field: field, Reason: "must start with tokenIn"}
	}
	if r.Path[len(r.Path)-1] != step.TokenOut {
		return &ParamError{Field: field, Reason: "must end with tokenOut"}
	}
	for _, hop := range r.Path {
		if hop == (common.Address{}) {
			return &ParamError{Field: field, Reason: "contains the zero address"}
		}
	}
	return nil
}

// SingleHopTiered swaps through the single pool of the given fee tier,
// expressed in hundredths of a basis point (3000 = 0.30%).
type SingleHopTiered struct {
	FeeTier uint32 `json:"fee_tier"`
}

// Kind implements Route.
func (SingleHopTiered) Kind() RouteKind { return RouteSingleHopTiered }

func (r SingleHopTiered) validate(_ SwapStep, idx int) error {
	if r.FeeTier >= MaxFeeTier {
		return &ParamError{Field: fmt.Sprintf("swaps[%d].fee_tier", idx), Reason: "exceeds uint24"}
	}
	return nil
}

// SwapStep is one trade in an arbitrage sequence. An AmountIn of zero means
// "the full balance of TokenIn at the moment this step executes".
type SwapStep struct {
	Venue        common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Route        Route
}

// UsesFullBalance reports whether the step carries the zero sentinel.
func (s SwapStep) UsesFullBalance() bool {
	return s.AmountIn == nil || s.AmountIn.Sign() == 0
}

// ArbitrageRequest is the per-attempt instruction submitted by the authority.
type ArbitrageRequest struct {
	BaseToken       common.Address
	MinProfit       *big.Int
	UseFlashLoan    bool
	FlashLoanAmount *big.Int
	Swaps           []SwapStep
}

// Validate rejects malformed requests before any balance is touched.
func (r ArbitrageRequest) Validate() error {
	if r.BaseToken == (common.Address{}) {
		return &ParamError{Field: "base_token", Reason: "must not be the zero address"}
	}
	if r.MinProfit == nil || r.MinProfit.Sign() < 0 {
		return &ParamError{Field: "min_profit", Reason: "must be a non-negative amount"}
	}
	if r.UseFlashLoan && (r.FlashLoanAmount == nil || r.FlashLoanAmount.Sign() <= 0) {
		return &ParamError{Field: "flash_loan_amount", Reason: "must be positive when a flash loan is requested"}
	}
	if len(r.Swaps) == 0 {
		return &ParamError{Field: "swaps", Reason: "sequence is empty"}
	}
	for i, s := range r.Swaps {
		if err := s.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (s SwapStep) validate(idx int) error {
	prefix := fmt.Sprintf("swaps[%d]", idx)
	zero := common.Address{}
	switch {
	case s.Venue == zero:
		return &ParamError{Field: prefix + ".venue", Reason: "must not be the zero address"}
	case s.TokenIn == zero || s.TokenOut == zero:
		return &ParamError{Field: prefix + ".token", Reason: "must not be the zero address"}
	case s.TokenIn == s.TokenOut:
		return &ParamError{Field: prefix + ".token_out", Reason: "must differ from token_in"}
	case s.AmountIn != nil && s.AmountIn.Sign() < 0:
		return &ParamError{Field: prefix + ".amount_in", Reason: "must not be negative"}
	case s.MinAmountOut == nil || s.MinAmountOut.Sign() < 0:
		return &ParamError{Field: prefix + ".min_amount_out", Reason: "must be a non-negative amount"}
	case s.Route == nil:
		return &ParamError{Field: prefix + ".route", Reason: "is required"}
	}
	return s.Route.validate(s, idx)
}
