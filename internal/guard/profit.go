// Package guard enforces the profit invariant that closes every attempt.
package guard

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// BalanceReader reads a holder's live token balance.
type BalanceReader interface {
	BalanceOf(token, holder common.Address) *big.Int
}

// ProfitGuard compares a holder's current balance against a snapshot taken
// before the swaps ran. It never mutates state.
type ProfitGuard struct {
	balances BalanceReader
	holder   common.Address
}

// New returns a ProfitGuard reading holder's balances.
func New(balances BalanceReader, holder common.Address) *ProfitGuard {
	return &ProfitGuard{balances: balances, holder: holder}
}

// Enforce returns the realized delta of token since start. A delta that is not
// strictly positive fails with NegativeProfitError; a positive delta below
// minProfit fails with InsufficientProfitError.
func (g *ProfitGuard) Enforce(token common.Address, start, minProfit *big.Int) (*big.Int, error) {
	current := g.balances.BalanceOf(token, g.holder)
	if current.Cmp(start) <= 0 {
		return nil, &domain.NegativeProfitError{Start: new(big.Int).Set(start), Current: current}
	}
	delta := new(big.Int).Sub(current, start)
	if minProfit != nil && delta.Cmp(minProfit) < 0 {
		return nil, &domain.InsufficientProfitError{Actual: delta, Required: new(big.Int).Set(minProfit)}
	}
	return delta, nil
}
