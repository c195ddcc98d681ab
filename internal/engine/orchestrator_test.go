package engine_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbexecutor/internal/dex"
	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/engine"
	"github.com/alanyoungcy/arbexecutor/internal/flashloan"
)

func TestExecuteDirectSettles(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))

	res, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 30, false))
	require.NoError(t, err)
	assert.Equal(t, engine.StateSettled, res.State)
	assert.Equal(t, "attempt-1", res.AttemptID)
	assert.Equal(t, int64(40), res.Profit.Int64())
	assert.Equal(t, int64(40), res.NetProfit.Int64())
	assert.False(t, res.Borrowed)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, int64(1040), h.book.BalanceOf(weth, engineAddr).Int64())

	require.Equal(t, []string{domain.EventArbitrageExecuted}, h.sink.names())
	rec := h.sink.last().(domain.ArbitrageExecuted)
	assert.Equal(t, weth, rec.BaseToken)
	assert.Equal(t, int64(40), rec.Profit.Int64())
	assert.Equal(t, genesis, rec.At)
}

func TestExecuteBorrowedSettlesAndRepays(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	res, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 30, true))
	require.NoError(t, err)
	assert.True(t, res.Borrowed)
	assert.Equal(t, int64(40), res.Profit.Int64())
	assert.Equal(t, int64(1), res.Premium.Int64())
	assert.Equal(t, int64(39), res.NetProfit.Int64())

	b := h.balances()
	assert.Equal(t, int64(39), b["engine_weth"])
	assert.Equal(t, int64(1_000_001), b["lender_weth"])
	assert.Equal(t, int64(0), b["allow_lend"], "repayment allowance fully consumed")
	assert.Equal(t, int64(1), h.pool.Loans())

	assert.Equal(t, []string{domain.EventFlashLoanExecuted, domain.EventArbitrageExecuted}, h.sink.names())
	loan := h.sink.events[0].(domain.FlashLoanExecuted)
	assert.Equal(t, weth, loan.Asset)
	assert.Equal(t, int64(1000), loan.Amount.Int64())
	assert.Equal(t, int64(1), loan.Premium.Int64())
}

func TestBorrowedInsufficientProfitUnwindsEverything(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	before := h.balances()

	res, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 100, true))
	require.ErrorIs(t, err, domain.ErrProfitViolation)
	var ip *domain.InsufficientProfitError
	require.ErrorAs(t, err, &ip)
	assert.Equal(t, int64(40), ip.Actual.Int64())
	assert.Equal(t, int64(100), ip.Required.Int64())
	assert.Contains(t, err.Error(), "InsufficientProfit(actual=40, required=100)")

	assert.Equal(t, engine.StateAborted, res.State)
	assert.Equal(t, before, h.balances())
	assert.Equal(t, int64(0), h.pool.Loans())
	assert.Empty(t, h.sink.names())
}

func TestSecondStepSlippageAbortsWithVenueError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	before := h.balances()

	req := roundTrip(1000, 0, false)
	req.Swaps[1].MinAmountOut = big.NewInt(5000)

	_, err := h.orch.Execute(context.Background(), authority, req)
	require.ErrorIs(t, err, domain.ErrVenueExecution)
	var sf *domain.SwapFailedError
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, routerAddr, sf.Venue)
	assert.Equal(t, usdc, sf.TokenIn)
	assert.Equal(t, weth, sf.TokenOut)
	assert.Equal(t, before, h.balances())
	assert.Empty(t, h.sink.names())
}

func TestVenueFailureUnwindsFirstStep(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	before := h.balances()

	h.router.hook = func(context.Context) {
		if len(h.router.amountsSeen()) == 2 {
			h.router.fail = errors.New("pool paused")
		}
	}
	_, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	require.ErrorIs(t, err, domain.ErrVenueExecution)
	assert.Equal(t, before, h.balances())
}

func TestNegativeProfit(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.router.rates[[2]common.Address{usdc, weth}] = rate{999, 2_000_000}
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))

	_, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	var np *domain.NegativeProfitError
	require.ErrorAs(t, err, &np)
	assert.Equal(t, int64(1000), np.Start.Int64())
	assert.Equal(t, int64(999), np.Current.Int64())
	assert.Equal(t, int64(1000), h.book.BalanceOf(weth, engineAddr).Int64())
}

func TestZeroProfitIsRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.router.rates[[2]common.Address{usdc, weth}] = rate{1, 2000}
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))

	_, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	var np *domain.NegativeProfitError
	require.ErrorAs(t, err, &np)
}

func TestSentinelUsesBalanceAtExecution(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	require.NoError(t, h.book.Mint(usdc, engineAddr, big.NewInt(500_000)))

	res, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	require.NoError(t, err)
	// step 2 sold the 500k USDC held before the attempt plus the 2M bought in step 1.
	assert.Equal(t, []int64{1000, 2_500_000}, h.router.amountsSeen())
	assert.Equal(t, int64(300), res.Profit.Int64())
	assert.Equal(t, int64(0), h.book.BalanceOf(usdc, engineAddr).Int64())
}

func TestEmergencyHaltBlocksBeforeTouchingBalances(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))

	halted, err := h.orch.ToggleEmergencyHalt(context.Background(), authority)
	require.NoError(t, err)
	require.True(t, halted)
	before := h.balances()

	_, err = h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	require.ErrorIs(t, err, domain.ErrSafetyHalt)
	assert.Equal(t, domain.KindSafetyHalt, domain.Classify(err))
	assert.Equal(t, before, h.balances())
	assert.Empty(t, h.router.amountsSeen())

	halted, err = h.orch.ToggleEmergencyHalt(context.Background(), authority)
	require.NoError(t, err)
	assert.False(t, halted, "toggling twice restores the original value")
	assert.False(t, h.orch.Safety().Halted)

	_, err = h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	require.NoError(t, err)
}

func TestAuthorityOnly(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.orch.Execute(ctx, stranger, roundTrip(1, 0, false))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	var uc *domain.UnauthorizedCallerError
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, "execute", uc.Op)

	require.ErrorIs(t, h.orch.Withdraw(ctx, stranger, weth, big.NewInt(1)), domain.ErrUnauthorized)
	_, err = h.orch.ToggleEmergencyHalt(ctx, stranger)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.ErrorIs(t, h.orch.UpdateLimits(ctx, stranger, big.NewInt(1), big.NewInt(1)), domain.ErrUnauthorized)
	assert.False(t, h.orch.Safety().Halted)
}

func TestInvalidRequestRejectedBeforeMutation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	req := roundTrip(1000, 0, false)
	req.Swaps = nil

	_, err := h.orch.Execute(context.Background(), authority, req)
	require.ErrorIs(t, err, domain.ErrInvalidParams)
	assert.Empty(t, h.router.amountsSeen())
}

func TestUpdateLimitsVerbatim(t *testing.T) {
	h := newHarness(t, harnessOptions{premiumBps: 100})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(100)))
	h.router.rates[[2]common.Address{usdc, weth}] = rate{1004, 2_000_000}

	// borrow 1000, gain 4, premium 10: a net loss of 6
	_, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, true))
	require.NoError(t, err)
	require.Equal(t, int64(6), h.orch.Safety().DailyLoss.Int64())

	x, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.NoError(t, h.orch.UpdateLimits(context.Background(), authority, x, big.NewInt(7)))
	s := h.orch.Safety()
	assert.Equal(t, 0, x.Cmp(s.MaxTradeSize))
	assert.Equal(t, int64(7), s.DailyLossLimit.Int64())
	assert.Equal(t, int64(6), s.DailyLoss.Int64(), "accumulator untouched")
	assert.Equal(t, domain.EventLimitsUpdated, h.sink.last().EventName())

	err = h.orch.UpdateLimits(context.Background(), authority, big.NewInt(-1), big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrInvalidParams)
}

func TestTradeSizeLimit(t *testing.T) {
	h := newHarness(t, harnessOptions{maxTradeSize: 500})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))

	_, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, true))
	var ts *domain.TradeSizeError
	require.ErrorAs(t, err, &ts)
	assert.Equal(t, int64(1000), ts.Amount.Int64())
	assert.Equal(t, int64(500), ts.Limit.Int64())
	assert.Equal(t, int64(0), h.pool.Loans())

	_, err = h.orch.Execute(context.Background(), authority, roundTrip(600, 0, false))
	require.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.Empty(t, h.router.amountsSeen())

	req := roundTrip(0, 0, false)
	_, err = h.orch.Execute(context.Background(), authority, req)
	require.ErrorAs(t, err, &ts, "the sentinel resolves to 1000 and is checked too")

	_, err = h.orch.Execute(context.Background(), authority, roundTrip(500, 0, false))
	require.NoError(t, err)
}

func TestDailyLossLimitAndRollover(t *testing.T) {
	h := newHarness(t, harnessOptions{premiumBps: 100, dailyLossLimit: 10})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(100)))
	h.router.rates[[2]common.Address{usdc, weth}] = rate{1004, 2_000_000}
	ctx := context.Background()

	_, err := h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	require.NoError(t, err)
	assert.Equal(t, int64(6), h.orch.Safety().DailyLoss.Int64())
	balance := h.book.BalanceOf(weth, engineAddr).Int64()
	assert.Equal(t, int64(94), balance)

	_, err = h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	var dl *domain.DailyLossError
	require.ErrorAs(t, err, &dl)
	assert.Equal(t, int64(6), dl.Loss.Int64())
	assert.Equal(t, int64(6), dl.Accumulated.Int64())
	assert.Equal(t, balance, h.book.BalanceOf(weth, engineAddr).Int64(), "losing attempt unwound")
	assert.Equal(t, int64(6), h.orch.Safety().DailyLoss.Int64())

	h.clock.Advance(24 * time.Hour)
	_, err = h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	require.NoError(t, err)
	s := h.orch.Safety()
	assert.Equal(t, int64(6), s.DailyLoss.Int64())
	assert.Equal(t, domain.DayIndex(genesis)+1, s.LastResetDay)
}

func TestDailyResetExactlyOncePerDay(t *testing.T) {
	h := newHarness(t, harnessOptions{premiumBps: 100})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	h.router.rates[[2]common.Address{usdc, weth}] = rate{1004, 2_000_000}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(18), h.orch.Safety().DailyLoss.Int64())

	h.clock.Advance(11 * time.Hour) // 23:00 the same day
	_, err := h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	require.NoError(t, err)
	assert.Equal(t, int64(24), h.orch.Safety().DailyLoss.Int64())

	h.clock.Advance(2 * time.Hour) // past midnight
	for i := 0; i < 2; i++ {
		_, err := h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(12), h.orch.Safety().DailyLoss.Int64(), "reset once, then accumulated twice")
}

func TestRolloverSurvivesAbortedAttempt(t *testing.T) {
	h := newHarness(t, harnessOptions{premiumBps: 100})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(100)))
	h.router.rates[[2]common.Address{usdc, weth}] = rate{1004, 2_000_000}
	ctx := context.Background()

	_, err := h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	require.NoError(t, err)
	_, err = h.orch.ToggleEmergencyHalt(ctx, authority)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	_, err = h.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	require.ErrorIs(t, err, domain.ErrSafetyHalt)

	s := h.orch.Safety()
	assert.Equal(t, int64(0), s.DailyLoss.Int64())
	assert.Equal(t, domain.DayIndex(genesis)+1, s.LastResetDay)
	stored, found, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s.LastResetDay, stored.LastResetDay)
}

func TestCallbackRejectsUntrustedCallers(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	params, err := h.codec.Encode(roundTrip(1000, 0, false))
	require.NoError(t, err)
	ctx := context.Background()
	before := h.balances()

	ok, err := h.orch.ExecuteOperation(ctx, stranger, weth, big.NewInt(1000), big.NewInt(1), engineAddr, params)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, ok)

	ok, err = h.orch.ExecuteOperation(ctx, lenderAddr, weth, big.NewInt(1000), big.NewInt(1), stranger, params)
	var ii *domain.InvalidInitiatorError
	require.ErrorAs(t, err, &ii)
	assert.False(t, ok)

	// Trusted caller and initiator, but no attempt is waiting for capital.
	ok, err = h.orch.ExecuteOperation(ctx, lenderAddr, weth, big.NewInt(1000), big.NewInt(1), engineAddr, params)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, ok)

	// A third party asks the real lender to call back into the engine.
	err = h.pool.FlashLoanSimple(ctx, stranger, h.orch, weth, big.NewInt(1000), params)
	require.ErrorAs(t, err, &ii)

	assert.Equal(t, before, h.balances())
	assert.Empty(t, h.router.amountsSeen())
	assert.Equal(t, int64(0), h.pool.Loans())
}

func TestCallbackRejectedDuringDirectAttempt(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	params, err := h.codec.Encode(roundTrip(1000, 0, false))
	require.NoError(t, err)

	var callbackErr error
	h.router.hook = func(ctx context.Context) {
		if callbackErr == nil {
			_, callbackErr = h.orch.ExecuteOperation(ctx, lenderAddr, weth, big.NewInt(1000), big.NewInt(0), engineAddr, params)
		}
	}
	_, err = h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	require.NoError(t, err)
	require.ErrorIs(t, callbackErr, domain.ErrUnauthorized)
}

func TestReentryFailsImmediately(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))

	var reentryErrs []error
	h.router.hook = func(ctx context.Context) {
		_, err := h.orch.Execute(ctx, authority, roundTrip(1, 0, false))
		reentryErrs = append(reentryErrs, err)
		reentryErrs = append(reentryErrs, h.orch.Withdraw(ctx, authority, weth, big.NewInt(1)))
		_, err = h.orch.ToggleEmergencyHalt(ctx, authority)
		reentryErrs = append(reentryErrs, err)
		reentryErrs = append(reentryErrs, h.orch.UpdateLimits(ctx, authority, big.NewInt(0), big.NewInt(0)))
	}

	_, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 0, false))
	require.NoError(t, err)
	require.Len(t, reentryErrs, 8)
	for _, e := range reentryErrs {
		assert.ErrorIs(t, e, domain.ErrReentrant)
	}
	assert.False(t, h.orch.Safety().Halted)
	assert.Equal(t, int64(1040), h.book.BalanceOf(weth, engineAddr).Int64())
}

func TestCancelledContextAborts(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	before := h.balances()

	ctx, cancel := context.WithCancel(context.Background())
	h.router.hook = func(context.Context) { cancel() }
	_, err := h.orch.Execute(ctx, authority, roundTrip(1000, 0, false))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, h.balances())
	assert.Len(t, h.router.amountsSeen(), 1)
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))
	ctx := context.Background()

	require.NoError(t, h.orch.Withdraw(ctx, authority, weth, big.NewInt(400)))
	assert.Equal(t, int64(600), h.book.BalanceOf(weth, engineAddr).Int64())
	assert.Equal(t, int64(400), h.book.BalanceOf(weth, authority).Int64())
	w := h.sink.last().(domain.Withdrawn)
	assert.Equal(t, authority, w.To)

	require.Error(t, h.orch.Withdraw(ctx, authority, weth, big.NewInt(601)))
}

func TestConcurrentAttemptsAreSerialized(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Execute(context.Background(), authority, roundTrip(1000, 1, true))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(n*39), h.book.BalanceOf(weth, engineAddr).Int64())
	assert.Equal(t, int64(n), h.pool.Loans())
	id, state := h.orch.InFlight()
	assert.Empty(t, id)
	assert.Equal(t, engine.StateIdle, state)
}

func TestSafetyStateRestoredFromStore(t *testing.T) {
	store := &memorySafetyStore{}
	require.NoError(t, store.Save(context.Background(), domain.SafetyState{
		Halted:       true,
		MaxTradeSize: big.NewInt(77),
		DailyLoss:    big.NewInt(3),
		LastResetDay: domain.DayIndex(genesis),
	}))
	h := newHarness(t, harnessOptions{store: store, maxTradeSize: 5})

	s := h.orch.Safety()
	assert.True(t, s.Halted)
	assert.Equal(t, int64(77), s.MaxTradeSize.Int64())
	assert.Equal(t, int64(3), s.DailyLoss.Int64())
	assert.Equal(t, engineAddr, h.orch.Address())
	assert.Equal(t, authority, h.orch.Authority())
	assert.Equal(t, lenderAddr, h.orch.Lender())
}

func TestRealVenuesEndToEnd(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	v2Addr := common.HexToAddress("0x0000000000000000000000000000000000000202")
	v3Addr := common.HexToAddress("0x0000000000000000000000000000000000000303")
	clock := h.clock.Now

	v2 := dex.NewConstantProductRouter(v2Addr, h.book, 30, clock)
	cheap := v2.CreatePool(weth, usdc)
	require.NoError(t, h.book.Mint(weth, cheap, big.NewInt(1_000_000)))
	require.NoError(t, h.book.Mint(usdc, cheap, big.NewInt(2_000_000_000)))

	v3 := dex.NewTieredPoolRouter(v3Addr, h.book, clock)
	rich, err := v3.CreatePool(weth, usdc, 500)
	require.NoError(t, err)
	require.NoError(t, h.book.Mint(weth, rich, big.NewInt(1_000_000)))
	require.NoError(t, h.book.Mint(usdc, rich, big.NewInt(2_200_000_000)))

	reg := dex.NewRegistry()
	reg.RegisterPathRouter(v2Addr, v2)
	reg.RegisterTieredRouter(v3Addr, v3)
	logger := discardLogger()
	pool := flashloan.NewPool(lenderAddr, h.book, 0, logger)
	orch, err := engine.New(context.Background(), engine.Config{Self: engineAddr, Authority: authority}, engine.Dependencies{
		Ledger:  h.book,
		Swaps:   dex.NewAdapter(engineAddr, h.book, reg, clock, logger),
		Capital: flashloan.NewHandler(engineAddr, pool, logger),
		Guard:   guardFor(h),
		Codec:   h.codec,
		Clock:   clock,
		Logger:  logger,
	})
	require.NoError(t, err)

	mid, _, err := v3.Quote(weth, usdc, 500, big.NewInt(10_000))
	require.NoError(t, err)
	amounts, _, err := v2.GetAmountsOut(mid, []common.Address{usdc, weth})
	require.NoError(t, err)
	premium := pool.Premium(big.NewInt(10_000))
	want := new(big.Int).Sub(amounts[1], big.NewInt(10_000))

	req := domain.ArbitrageRequest{
		BaseToken:       weth,
		MinProfit:       big.NewInt(1),
		UseFlashLoan:    true,
		FlashLoanAmount: big.NewInt(10_000),
		Swaps: []domain.SwapStep{
			{Venue: v3Addr, TokenIn: weth, TokenOut: usdc, AmountIn: big.NewInt(10_000), MinAmountOut: mid,
				Route: domain.SingleHopTiered{FeeTier: 500}},
			{Venue: v2Addr, TokenIn: usdc, TokenOut: weth, AmountIn: big.NewInt(0), MinAmountOut: big.NewInt(0),
				Route: domain.PathRouted{Path: []common.Address{usdc, weth}}},
		},
	}
	res, err := orch.Execute(context.Background(), authority, req)
	require.NoError(t, err)
	assert.Zero(t, want.Cmp(res.Profit), "profit %s, want %s", res.Profit, want)
	assert.Zero(t, new(big.Int).Sub(want, premium).Cmp(h.book.BalanceOf(weth, engineAddr)))
}

func TestReplicasSharingStoreObserveHalt(t *testing.T) {
	store := &memorySafetyStore{}
	a := newHarness(t, harnessOptions{store: store})
	b := newHarness(t, harnessOptions{store: store})
	ctx := context.Background()
	require.NoError(t, b.book.Mint(weth, engineAddr, big.NewInt(1000)))
	before := b.balances()

	halted, err := a.orch.ToggleEmergencyHalt(ctx, authority)
	require.NoError(t, err)
	require.True(t, halted)

	_, err = b.orch.Execute(ctx, authority, roundTrip(1000, 0, false))
	require.ErrorIs(t, err, domain.ErrSafetyHalt)
	assert.Equal(t, before, b.balances())
	assert.Empty(t, b.router.amountsSeen())

	// A limits write on b must not clear a's halt.
	require.NoError(t, b.orch.UpdateLimits(ctx, authority, big.NewInt(5000), big.NewInt(0)))
	stored, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, stored.Halted)
	assert.Equal(t, int64(5000), stored.MaxTradeSize.Int64())

	halted, err = b.orch.ToggleEmergencyHalt(ctx, authority)
	require.NoError(t, err)
	require.False(t, halted)

	require.NoError(t, a.book.Mint(weth, engineAddr, big.NewInt(1000)))
	res, err := a.orch.Execute(ctx, authority, roundTrip(1000, 1, false))
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, res.State)
	assert.False(t, a.orch.Safety().Halted)
	assert.Equal(t, int64(5000), a.orch.Safety().MaxTradeSize.Int64())
}

func TestReplicasShareDailyLoss(t *testing.T) {
	store := &memorySafetyStore{}
	a := newHarness(t, harnessOptions{store: store, premiumBps: 100, dailyLossLimit: 10})
	b := newHarness(t, harnessOptions{store: store, premiumBps: 100, dailyLossLimit: 10})
	ctx := context.Background()
	for _, h := range []*harness{a, b} {
		require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(100)))
		h.router.rates[[2]common.Address{usdc, weth}] = rate{1004, 2_000_000}
	}

	_, err := a.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	require.NoError(t, err)

	_, err = b.orch.Execute(ctx, authority, roundTrip(1000, 0, true))
	var dl *domain.DailyLossError
	require.ErrorAs(t, err, &dl)
	assert.Equal(t, int64(6), dl.Accumulated.Int64())
	assert.Equal(t, int64(100), b.book.BalanceOf(weth, engineAddr).Int64())
	assert.Equal(t, int64(6), b.orch.Safety().DailyLoss.Int64())
}

// contextSink fails like a network sink when handed a dead context, and
// checks that the engine is free to take another call while it publishes.
type contextSink struct {
	orch     func() *engine.Orchestrator
	mu       sync.Mutex
	deadCtx  int
	adminRan bool
}

func (s *contextSink) Publish(ctx context.Context, events ...domain.Event) error {
	if err := ctx.Err(); err != nil {
		s.mu.Lock()
		s.deadCtx++
		s.mu.Unlock()
		return err
	}
	for _, ev := range events {
		if _, ok := ev.(domain.ArbitrageExecuted); !ok {
			continue
		}
		done := make(chan error, 1)
		go func() {
			done <- s.orch().UpdateLimits(ctx, authority, big.NewInt(0), big.NewInt(0))
		}()
		select {
		case err := <-done:
			s.mu.Lock()
			s.adminRan = err == nil
			s.mu.Unlock()
		case <-time.After(2 * time.Second):
			return errors.New("engine lock held while publishing")
		}
	}
	return nil
}

func TestEventsPublishedAfterCallerCancels(t *testing.T) {
	var h *harness
	sink := &contextSink{orch: func() *engine.Orchestrator { return h.orch }}
	h = newHarness(t, harnessOptions{events: sink})
	require.NoError(t, h.book.Mint(weth, engineAddr, big.NewInt(1000)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	h.router.hook = func(context.Context) {
		if calls.Add(1) == 2 {
			cancel()
		}
	}
	res, err := h.orch.Execute(ctx, authority, roundTrip(1000, 1, false))
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, engine.StateIdle, res.State)
	assert.Contains(t, h.sink.names(), domain.EventArbitrageExecuted)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Zero(t, sink.deadCtx)
	assert.True(t, sink.adminRan)
}
