// Package flashloan sources borrowed working capital for the duration of one
// attempt and authenticates the lender's callback.
package flashloan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// Receiver is the callback side of a flash loan. The lender invokes
// ExecuteOperation after transferring the principal and expects true once
// repayment of amount+premium has been authorized.
type Receiver interface {
	Address() common.Address
	ExecuteOperation(ctx context.Context, caller, asset common.Address, amount, premium *big.Int,
		initiator common.Address, params []byte) (bool, error)
}

// Lender is a capital source offering single-asset flash loans.
type Lender interface {
	Address() common.Address
	FlashLoanSimple(ctx context.Context, initiator common.Address, receiver Receiver, asset common.Address,
		amount *big.Int, params []byte) error
}

// Handler requests capital from one configured lender and authenticates the
// callbacks that lender makes. It never repays; the receiver grants the
// repayment allowance.
type Handler struct {
	self   common.Address
	lender Lender
	logger *slog.Logger
}

// NewHandler creates a Handler acting as self against lender. The lender is
// fixed for the handler's lifetime.
func NewHandler(self common.Address, lender Lender, logger *slog.Logger) *Handler {
	return &Handler{
		self:   self,
		lender: lender,
		logger: logger.With(slog.String("component", "flashloan_handler")),
	}
}

// Lender returns the identity of the configured lender.
func (h *Handler) Lender() common.Address { return h.lender.Address() }

// RequestCapital borrows amount of asset with self as initiator. It returns
// only after the lender's callback to receiver, and the repayment, completed
// or failed.
func (h *Handler) RequestCapital(ctx context.Context, receiver Receiver, asset common.Address, amount *big.Int, params []byte) error {
	h.logger.DebugContext(ctx, "requesting capital",
		slog.String("lender", h.lender.Address().Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
	)
	if err := h.lender.FlashLoanSimple(ctx, h.self, receiver, asset, amount, params); err != nil {
		return fmt.Errorf("flash loan %s of %s: %w", amount, asset.Hex(), err)
	}
	return nil
}

// Authenticate accepts a callback only when it comes from the configured
// lender and names self as the initiator.
func (h *Handler) Authenticate(caller, initiator common.Address) error {
	if caller != h.lender.Address() {
		h.logger.Warn("rejected callback from unknown caller",
			slog.String("caller", caller.Hex()),
			slog.String("lender", h.lender.Address().Hex()),
		)
		return &domain.UnauthorizedCallerError{Op: "executeOperation", Caller: caller, Expected: h.lender.Address()}
	}
	if initiator != h.self {
		h.logger.Warn("rejected callback with forged initiator",
			slog.String("initiator", initiator.Hex()),
		)
		return &domain.InvalidInitiatorError{Initiator: initiator, Expected: h.self}
	}
	return nil
}
