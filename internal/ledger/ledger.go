// Package ledger implements the in-process token book the engine executes
// against. Every mutation is journaled so that an attempt can be unwound to a
// snapshot, giving the execution boundary its all-or-nothing property.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
)

type balanceKey struct {
	token  common.Address
	holder common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// journalEntry restores one slot to the value it held before a mutation.
type journalEntry struct {
	balance   *balanceKey
	allowance *allowanceKey
	prev      *big.Int // nil means the slot did not exist
}

// Ledger is a journaled multi-token balance and allowance book. It is safe
// for concurrent use; callers that need multi-operation atomicity take a
// Snapshot and revert to it on failure.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	journal    []journalEntry
	revisions  []int // journal length at each live snapshot
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// BalanceOf returns a copy of holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.balances[balanceKey{token, holder}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Allowance returns a copy of the amount spender may move out of owner's
// balance of token.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Approve sets spender's allowance over owner's token balance to amount.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(allowanceKey{token, owner, spender}, new(big.Int).Set(amount))
	return nil
}

// Mint credits amount of token to holder. It is used to seed genesis state.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := balanceKey{token, to}
	l.setBalance(k, new(big.Int).Add(l.balanceLocked(k), amount))
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(token, from, to, amount)
}

// TransferFrom moves amount of token out of from's balance on behalf of
// spender, consuming spender's allowance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ak := allowanceKey{token, from, spender}
	allowed := l.allowanceLocked(ak)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s owner %s spender %s has %s, needs %s",
			ErrInsufficientAllowance, token.Hex(), from.Hex(), spender.Hex(), allowed, amount)
	}
	// Check the balance before touching the allowance so a failed transfer
	// leaves no journal entries behind.
	if bal := l.balanceLocked(balanceKey{token, from}); bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s has %s, needs %s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), bal, amount)
	}
	l.setAllowance(ak, new(big.Int).Sub(allowed, amount))
	return l.transferLocked(token, from, to, amount)
}

// Snapshot returns a revision id for the current state.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revisions = append(l.revisions, len(l.journal))
	return len(l.revisions) - 1
}

// RevertToSnapshot undoes every mutation made after the snapshot with the
// given id was taken. Snapshots taken after id are invalidated.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.revisions) {
		panic(fmt.Sprintf("ledger: revision id %d cannot be reverted", id))
	}
	mark := l.revisions[id]
	for i := len(l.journal) - 1; i >= mark; i-- {
		e := l.journal[i]
		switch {
		case e.balance != nil:
			restore(l.balances, *e.balance, e.prev)
		case e.allowance != nil:
			restore(l.allowances, *e.allowance, e.prev)
		}
	}
	l.journal = l.journal[:mark]
	l.revisions = l.revisions[:id]
}

// Release drops the snapshot with the given id (and any later ones) while
// keeping its mutations. When no snapshot remains the journal is discarded.
func (l *Ledger) Release(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.revisions) {
		return
	}
	l.revisions = l.revisions[:id]
	if len(l.revisions) == 0 {
		l.journal = l.journal[:0]
	}
}

// Holders lists every address holding a non-zero balance of token, sorted.
func (l *Ledger) Holders(token common.Address) []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []common.Address
	for k, v := range l.balances {
		if k.token == token && v.Sign() > 0 {
			out = append(out, k.holder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (l *Ledger) transferLocked(token, from, to common.Address, amount *big.Int) error {
	fk := balanceKey{token, from}
	bal := l.balanceLocked(fk)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s has %s, needs %s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), bal, amount)
	}
	if from == to || amount.Sign() == 0 {
		return nil
	}
	tk := balanceKey{token, to}
	l.setBalance(fk, new(big.Int).Sub(bal, amount))
	l.setBalance(tk, new(big.Int).Add(l.balanceLocked(tk), amount))
	return nil
}

func (l *Ledger) balanceLocked(k balanceKey) *big.Int {
	if v, ok := l.balances[k]; ok {
		return v
	}
	return new(big.Int)
}

func (l *Ledger) allowanceLocked(k allowanceKey) *big.Int {
	if v, ok := l.allowances[k]; ok {
		return v
	}
	return new(big.Int)
}

func (l *Ledger) setBalance(k balanceKey, v *big.Int) {
	if len(l.revisions) > 0 {
		l.journal = append(l.journal, journalEntry{balance: &k, prev: l.balances[k]})
	}
	l.balances[k] = v
}

func (l *Ledger) setAllowance(k allowanceKey, v *big.Int) {
	if len(l.revisions) > 0 {
		l.journal = append(l.journal, journalEntry{allowance: &k, prev: l.allowances[k]})
	}
	l.allowances[k] = v
}

func restore[K comparable](m map[K]*big.Int, k K, prev *big.Int) {
	if prev == nil {
		delete(m, k)
		return
	}
	m[k] = prev
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
