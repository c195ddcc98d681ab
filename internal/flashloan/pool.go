package flashloan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultPremiumBps is the flash-loan premium charged by Pool when none is
// configured (0.05%).
const DefaultPremiumBps = 5

var (
	ErrInsufficientLiquidity = errors.New("flashloan: insufficient liquidity")
	ErrCallbackRejected      = errors.New("flashloan: receiver returned false")
	ErrRepayment             = errors.New("flashloan: repayment failed")
	ErrInvalidAmount         = errors.New("flashloan: invalid amount")
)

// Book is the journaled ledger the pool lends from.
type Book interface {
	BalanceOf(token, holder common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
	Release(id int)
}

// Pool is an in-process lender. Its liquidity is its own ledger balance.
type Pool struct {
	addr       common.Address
	book       Book
	premiumBps int64
	logger     *slog.Logger

	loans atomic.Int64
}

// NewPool creates a lender at addr. A premiumBps of zero selects
// DefaultPremiumBps.
func NewPool(addr common.Address, book Book, premiumBps int64, logger *slog.Logger) *Pool {
	if premiumBps <= 0 {
		premiumBps = DefaultPremiumBps
	}
	return &Pool{
		addr:       addr,
		book:       book,
		premiumBps: premiumBps,
		logger:     logger.With(slog.String("component", "flashloan_pool")),
	}
}

// Address returns the pool's account.
func (p *Pool) Address() common.Address { return p.addr }

// Loans returns the number of loans repaid so far.
func (p *Pool) Loans() int64 { return p.loans.Load() }

// Premium returns the fee owed on amount, rounded half up.
func (p *Pool) Premium(amount *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, big.NewInt(p.premiumBps))
	v.Add(v, big.NewInt(5_000))
	return v.Quo(v, big.NewInt(10_000))
}

// FlashLoanSimple lends amount of asset to receiver, invokes its callback and
// pulls back amount+premium from the allowance the receiver granted. A
// failure anywhere leaves the ledger as it was before the call.
func (p *Pool) FlashLoanSimple(ctx context.Context, initiator common.Address, receiver Receiver, asset common.Address,
	amount *big.Int, params []byte) (err error) {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if have := p.book.BalanceOf(asset, p.addr); have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s of %s, asked %s", ErrInsufficientLiquidity, have, asset.Hex(), amount)
	}

	rev := p.book.Snapshot()
	defer func() {
		if err != nil {
			p.book.RevertToSnapshot(rev)
			return
		}
		p.book.Release(rev)
	}()

	premium := p.Premium(amount)
	if err := p.book.Transfer(asset, p.addr, receiver.Address(), amount); err != nil {
		return err
	}
	ok, err := receiver.ExecuteOperation(ctx, p.addr, asset, new(big.Int).Set(amount), premium, initiator, params)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCallbackRejected
	}
	owed := new(big.Int).Add(amount, premium)
	if err := p.book.TransferFrom(asset, p.addr, receiver.Address(), p.addr, owed); err != nil {
		return fmt.Errorf("%w: %w", ErrRepayment, err)
	}
	p.loans.Add(1)
	p.logger.DebugContext(ctx, "flash loan repaid",
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
		slog.String("premium", premium.String()),
	)
	return nil
}
