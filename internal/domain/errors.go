package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors. Every failure surfaced by the engine matches exactly one of
// the category sentinels below via errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrLockHeld  = errors.New("lock already held")
	ErrReentrant = errors.New("reentrant call")

	ErrUnauthorized    = errors.New("unauthorized")
	ErrSafetyHalt      = errors.New("emergency halt engaged")
	ErrVenueExecution  = errors.New("venue execution failed")
	ErrProfitViolation = errors.New("profit invariant violated")
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrLimitExceeded   = errors.New("safety limit exceeded")
)

// UnauthorizedCallerError reports a caller that is not permitted to invoke Op.
type UnauthorizedCallerError struct {
	Op       string
	Caller   common.Address
	Expected common.Address
}

func (e *UnauthorizedCallerError) Error() string {
	return fmt.Sprintf("Unauthorized(op=%s, caller=%s, expected=%s)", e.Op, e.Caller.Hex(), e.Expected.Hex())
}

func (e *UnauthorizedCallerError) Unwrap() error { return ErrUnauthorized }

// InvalidInitiatorError reports a capital callback whose initiator is not the
// engine itself.
type InvalidInitiatorError struct {
	Initiator common.Address
	Expected  common.Address
}

func (e *InvalidInitiatorError) Error() string {
	return fmt.Sprintf("InvalidInitiator(initiator=%s, expected=%s)", e.Initiator.Hex(), e.Expected.Hex())
}

func (e *InvalidInitiatorError) Unwrap() error { return ErrUnauthorized }

// SwapFailedError identifies the venue and token pair of a failed swap step.
// Reason holds the underlying venue error or slippage description.
type SwapFailedError struct {
	Venue    common.Address
	TokenIn  common.Address
	TokenOut common.Address
	Reason   error
}

func (e *SwapFailedError) Error() string {
	msg := fmt.Sprintf("SwapFailed(venue=%s, tokenIn=%s, tokenOut=%s)", e.Venue.Hex(), e.TokenIn.Hex(), e.TokenOut.Hex())
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *SwapFailedError) Unwrap() []error {
	if e.Reason == nil {
		return []error{ErrVenueExecution}
	}
	return []error{ErrVenueExecution, e.Reason}
}

// NegativeProfitError is raised when the end balance does not exceed the
// start balance. A zero delta is a failure.
type NegativeProfitError struct {
	Start   *big.Int
	Current *big.Int
}

func (e *NegativeProfitError) Error() string {
	return fmt.Sprintf("NegativeProfit(start=%s, current=%s)", e.Start, e.Current)
}

func (e *NegativeProfitError) Unwrap() error { return ErrProfitViolation }

// InsufficientProfitError is raised when the realized delta is positive but
// below the declared minimum.
type InsufficientProfitError struct {
	Actual   *big.Int
	Required *big.Int
}

func (e *InsufficientProfitError) Error() string {
	return fmt.Sprintf("InsufficientProfit(actual=%s, required=%s)", e.Actual, e.Required)
}

func (e *InsufficientProfitError) Unwrap() error { return ErrProfitViolation }

// ParamError describes a malformed request field.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParams }

// TradeSizeError reports a notional above the configured max trade size.
type TradeSizeError struct {
	Amount *big.Int
	Limit  *big.Int
}

func (e *TradeSizeError) Error() string {
	return fmt.Sprintf("TradeSizeExceeded(amount=%s, limit=%s)", e.Amount, e.Limit)
}

func (e *TradeSizeError) Unwrap() error { return ErrLimitExceeded }

// DailyLossError reports that settling an attempt would push the daily-loss
// accumulator above its limit.
type DailyLossError struct {
	Loss        *big.Int
	Accumulated *big.Int
	Limit       *big.Int
}

func (e *DailyLossError) Error() string {
	return fmt.Sprintf("DailyLossLimitExceeded(loss=%s, accumulated=%s, limit=%s)", e.Loss, e.Accumulated, e.Limit)
}

func (e *DailyLossError) Unwrap() error { return ErrLimitExceeded }

// ErrorKind is a stable label for an error category.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindAuthorization ErrorKind = "authorization"
	KindSafetyHalt    ErrorKind = "safety_halt"
	KindVenue         ErrorKind = "venue"
	KindProfit        ErrorKind = "profit"
	KindParams        ErrorKind = "params"
	KindLimit         ErrorKind = "limit"
	KindReentrant     ErrorKind = "reentrant"
	KindBusy          ErrorKind = "busy"
	KindInternal      ErrorKind = "internal"
)

// Classify maps err onto its category. A nil error yields KindNone.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrReentrant):
		return KindReentrant
	case errors.Is(err, ErrLockHeld):
		return KindBusy
	case errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, ErrSafetyHalt):
		return KindSafetyHalt
	case errors.Is(err, ErrInvalidParams):
		return KindParams
	case errors.Is(err, ErrLimitExceeded):
		return KindLimit
	case errors.Is(err, ErrProfitViolation):
		return KindProfit
	case errors.Is(err, ErrVenueExecution):
		return KindVenue
	default:
		return KindInternal
	}
}
