package dex

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

const (
	// DefaultPathFeeBps is the constant-product fee of a path-routed venue.
	DefaultPathFeeBps = 30

	bpsDenominator  = 10_000
	tierDenominator = 1_000_000
)

// Book is the token ledger venues settle against.
type Book interface {
	BalanceOf(token, holder common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

type pairKey struct {
	token0, token1 common.Address
	tier           uint32
}

func sortPair(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// PoolAddress derives the ledger account holding the reserves of the pool
// for a token pair at the given tier on venue. Token order does not matter.
func PoolAddress(venue, tokenA, tokenB common.Address, tier uint32) common.Address {
	t0, t1 := sortPair(tokenA, tokenB)
	var tb [4]byte
	binary.BigEndian.PutUint32(tb[:], tier)
	h := crypto.Keccak256(venue.Bytes(), t0.Bytes(), t1.Bytes(), tb[:])
	return common.BytesToAddress(h[12:])
}

// amountOut applies the constant-product formula with a fee of
// feeNum/feeDen taken from the input.
func amountOut(amountIn, reserveIn, reserveOut *big.Int, feeNum, feeDen int64) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", ErrNoPool)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(feeDen-feeNum))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(feeDen))
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

func checkDeadline(ctx context.Context, clock domain.Clock, deadline time.Time) error {
	now := domain.ExecutionTime(ctx, clock)
	if now.After(deadline) {
		return fmt.Errorf("%w: now %s, deadline %s", ErrExpired, now.UTC().Format(time.RFC3339), deadline.UTC().Format(time.RFC3339))
	}
	return nil
}

// ConstantProductRouter is an in-process path-routed venue. Each unordered
// token pair has one pool whose reserves are the pool account's ledger
// balances.
type ConstantProductRouter struct {
	addr   common.Address
	book   Book
	feeBps int64
	clock  domain.Clock

	mu    sync.RWMutex
	pools map[pairKey]common.Address
}

// NewConstantProductRouter creates a venue at addr. A feeBps of zero selects
// DefaultPathFeeBps.
func NewConstantProductRouter(addr common.Address, book Book, feeBps int64, clock domain.Clock) *ConstantProductRouter {
	if feeBps <= 0 {
		feeBps = DefaultPathFeeBps
	}
	return &ConstantProductRouter{
		addr:   addr,
		book:   book,
		feeBps: feeBps,
		clock:  clock,
		pools:  make(map[pairKey]common.Address),
	}
}

// Address returns the venue's account.
func (r *ConstantProductRouter) Address() common.Address { return r.addr }

// CreatePool registers the pair and returns the account its reserves are
// held at. Reserves are funded by transferring or minting to that account.
func (r *ConstantProductRouter) CreatePool(tokenA, tokenB common.Address) common.Address {
	t0, t1 := sortPair(tokenA, tokenB)
	pool := PoolAddress(r.addr, t0, t1, 0)
	r.mu.Lock()
	r.pools[pairKey{token0: t0, token1: t1}] = pool
	r.mu.Unlock()
	return pool
}

func (r *ConstantProductRouter) pool(tokenA, tokenB common.Address) (common.Address, error) {
	t0, t1 := sortPair(tokenA, tokenB)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[pairKey{token0: t0, token1: t1}]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrNoPool, tokenA.Hex(), tokenB.Hex())
	}
	return p, nil
}

// GetAmountsOut quotes every hop of a swap along path.
func (r *ConstantProductRouter) GetAmountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, []common.Address, error) {
	if len(path) < 2 {
		return nil, nil, fmt.Errorf("dex: path needs at least two tokens")
	}
	amounts := make([]*big.Int, len(path))
	pools := make([]common.Address, len(path)-1)
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		p, err := r.pool(path[i], path[i+1])
		if err != nil {
			return nil, nil, err
		}
		out, err := amountOut(amounts[i], r.book.BalanceOf(path[i], p), r.book.BalanceOf(path[i+1], p), r.feeBps, bpsDenominator)
		if err != nil {
			return nil, nil, err
		}
		amounts[i+1] = out
		pools[i] = p
	}
	return amounts, pools, nil
}

// SwapExactTokensForTokens pulls amountIn of path[0] from caller using the
// allowance caller granted this venue, routes it through each pool and
// credits the final output to to.
func (r *ConstantProductRouter) SwapExactTokensForTokens(ctx context.Context, caller common.Address, amountIn, amountOutMin *big.Int,
	path []common.Address, to common.Address, deadline time.Time) ([]*big.Int, error) {
	if err := checkDeadline(ctx, r.clock, deadline); err != nil {
		return nil, err
	}
	amounts, pools, err := r.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	if last := amounts[len(amounts)-1]; last.Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, last, amountOutMin)
	}
	if err := r.book.TransferFrom(path[0], r.addr, caller, pools[0], amountIn); err != nil {
		return nil, err
	}
	for i, p := range pools {
		dest := to
		if i+1 < len(pools) {
			dest = pools[i+1]
		}
		if err := r.book.Transfer(path[i+1], p, dest, amounts[i+1]); err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// TieredPoolRouter is an in-process single-hop venue with one
// constant-product pool per token pair and fee tier. Fee tiers are in
// hundredths of a basis point.
type TieredPoolRouter struct {
	addr  common.Address
	book  Book
	clock domain.Clock

	mu    sync.RWMutex
	pools map[pairKey]common.Address
}

// NewTieredPoolRouter creates a tiered venue at addr.
func NewTieredPoolRouter(addr common.Address, book Book, clock domain.Clock) *TieredPoolRouter {
	return &TieredPoolRouter{
		addr:  addr,
		book:  book,
		clock: clock,
		pools: make(map[pairKey]common.Address),
	}
}

// Address returns the venue's account.
func (r *TieredPoolRouter) Address() common.Address { return r.addr }

// CreatePool registers the pool for the pair at feeTier and returns its
// account.
func (r *TieredPoolRouter) CreatePool(tokenA, tokenB common.Address, feeTier uint32) (common.Address, error) {
	if feeTier >= tierDenominator {
		return common.Address{}, fmt.Errorf("dex: fee tier %d out of range", feeTier)
	}
	t0, t1 := sortPair(tokenA, tokenB)
	pool := PoolAddress(r.addr, t0, t1, feeTier)
	r.mu.Lock()
	r.pools[pairKey{token0: t0, token1: t1, tier: feeTier}] = pool
	r.mu.Unlock()
	return pool, nil
}

// Quote returns the output of swapping amountIn through the pool at feeTier.
func (r *TieredPoolRouter) Quote(tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, common.Address, error) {
	t0, t1 := sortPair(tokenIn, tokenOut)
	r.mu.RLock()
	pool, ok := r.pools[pairKey{token0: t0, token1: t1, tier: feeTier}]
	r.mu.RUnlock()
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: %s/%s tier %d", ErrNoPool, tokenIn.Hex(), tokenOut.Hex(), feeTier)
	}
	out, err := amountOut(amountIn, r.book.BalanceOf(tokenIn, pool), r.book.BalanceOf(tokenOut, pool), int64(feeTier), tierDenominator)
	if err != nil {
		return nil, common.Address{}, err
	}
	return out, pool, nil
}

// ExactInputSingle swaps params.AmountIn of TokenIn for TokenOut through the
// pool of params.Fee.
func (r *TieredPoolRouter) ExactInputSingle(ctx context.Context, caller common.Address, params ExactInputSingleParams) (*big.Int, error) {
	if err := checkDeadline(ctx, r.clock, params.Deadline); err != nil {
		return nil, err
	}
	if params.SqrtPriceLimitX96 != nil && params.SqrtPriceLimitX96.Sign() != 0 {
		return nil, ErrPriceLimit
	}
	out, pool, err := r.Quote(params.TokenIn, params.TokenOut, params.Fee, params.AmountIn)
	if err != nil {
		return nil, err
	}
	if params.AmountOutMinimum != nil && out.Cmp(params.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, out, params.AmountOutMinimum)
	}
	if err := r.book.TransferFrom(params.TokenIn, r.addr, caller, pool, params.AmountIn); err != nil {
		return nil, err
	}
	if err := r.book.Transfer(params.TokenOut, pool, params.Recipient, out); err != nil {
		return nil, err
	}
	return out, nil
}
