package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth   = common.HexToAddress("0x1000")
	usdc   = common.HexToAddress("0x2000")
	router = common.HexToAddress("0x3000")
)

func validRequest() ArbitrageRequest {
	return ArbitrageRequest{
		BaseToken: weth,
		MinProfit: big.NewInt(1),
		Swaps: []SwapStep{
			{Venue: router, TokenIn: weth, TokenOut: usdc, AmountIn: big.NewInt(10), MinAmountOut: big.NewInt(0),
				Route: PathRouted{Path: []common.Address{weth, usdc}}},
			{Venue: router, TokenIn: usdc, TokenOut: weth, MinAmountOut: big.NewInt(0),
				Route: SingleHopTiered{FeeTier: 3000}},
		},
	}
}

func TestArbitrageRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	cases := map[string]func(r *ArbitrageRequest){
		"empty swaps":        func(r *ArbitrageRequest) { r.Swaps = nil },
		"zero base":          func(r *ArbitrageRequest) { r.BaseToken = common.Address{} },
		"nil min profit":     func(r *ArbitrageRequest) { r.MinProfit = nil },
		"loan without size":  func(r *ArbitrageRequest) { r.UseFlashLoan = true },
		"same tokens":        func(r *ArbitrageRequest) { r.Swaps[0].TokenOut = weth },
		"negative amount":    func(r *ArbitrageRequest) { r.Swaps[0].AmountIn = big.NewInt(-1) },
		"nil route":          func(r *ArbitrageRequest) { r.Swaps[1].Route = nil },
		"short path":         func(r *ArbitrageRequest) { r.Swaps[0].Route = PathRouted{Path: []common.Address{weth}} },
		"path wrong end":     func(r *ArbitrageRequest) { r.Swaps[0].Route = PathRouted{Path: []common.Address{weth, router}} },
		"fee tier too large": func(r *ArbitrageRequest) { r.Swaps[1].Route = SingleHopTiered{FeeTier: MaxFeeTier} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRequest()
			mutate(&r)
			err := r.Validate()
			require.ErrorIs(t, err, ErrInvalidParams)
			var pe *ParamError
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, pe.Field)
		})
	}
}

func TestUsesFullBalance(t *testing.T) {
	r := validRequest()
	assert.False(t, r.Swaps[0].UsesFullBalance())
	assert.True(t, r.Swaps[1].UsesFullBalance())
	r.Swaps[0].AmountIn = new(big.Int)
	assert.True(t, r.Swaps[0].UsesFullBalance())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{nil, KindNone},
		{&UnauthorizedCallerError{Op: "execute"}, KindAuthorization},
		{&InvalidInitiatorError{}, KindAuthorization},
		{fmt.Errorf("attempt x: %w", ErrSafetyHalt), KindSafetyHalt},
		{&SwapFailedError{Reason: errors.New("slippage")}, KindVenue},
		{&NegativeProfitError{Start: big.NewInt(1), Current: big.NewInt(1)}, KindProfit},
		{&InsufficientProfitError{Actual: big.NewInt(1), Required: big.NewInt(2)}, KindProfit},
		{&ParamError{Field: "swaps"}, KindParams},
		{&TradeSizeError{Amount: big.NewInt(2), Limit: big.NewInt(1)}, KindLimit},
		{ErrReentrant, KindReentrant},
		{fmt.Errorf("acquire: %w", ErrLockHeld), KindBusy},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, Classify(tc.err), "%v", tc.err)
	}
}

func TestInsufficientProfitMessage(t *testing.T) {
	err := &InsufficientProfitError{Actual: big.NewInt(40), Required: big.NewInt(100)}
	assert.Equal(t, "InsufficientProfit(actual=40, required=100)", err.Error())
}

func TestSafetyStateClone(t *testing.T) {
	s := SafetyState{MaxTradeSize: big.NewInt(5), LastResetDay: 3}
	c := s.Clone()
	c.MaxTradeSize.SetInt64(9)
	assert.Equal(t, int64(5), s.MaxTradeSize.Int64())
	assert.Equal(t, int64(0), c.DailyLoss.Int64())
	assert.Equal(t, int64(3), c.LastResetDay)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	sink := MultiSink{DiscardSink{}, failingSink{boom}, nil}
	err := sink.Publish(t.Context(), Withdrawn{})
	require.ErrorIs(t, err, boom)
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, ...Event) error { return f.err }

func TestEncodeEventEnvelope(t *testing.T) {
	data, err := EncodeEvent(LimitsUpdated{MaxTradeSize: big.NewInt(5), DailyLossLimit: big.NewInt(0)})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventLimitsUpdated, env.Type)
	assert.Contains(t, string(env.Data), `"max_trade_size":5`)

	assert.Equal(t, "a-1", EventKey(FlashLoanExecuted{AttemptID: "a-1"}))
	assert.Equal(t, EventWithdrawn, EventKey(Withdrawn{}))
}

func TestRequestJSONRoundTrip(t *testing.T) {
	req := ArbitrageRequest{
		BaseToken:       weth,
		MinProfit:       big.NewInt(7),
		UseFlashLoan:    true,
		FlashLoanAmount: new(big.Int).Lsh(big.NewInt(1), 200),
		Swaps: []SwapStep{
			{Venue: router, TokenIn: weth, TokenOut: usdc, AmountIn: big.NewInt(100), MinAmountOut: big.NewInt(1),
				Route: PathRouted{Path: []common.Address{weth, usdc}}},
			{Venue: router, TokenIn: usdc, TokenOut: weth, AmountIn: new(big.Int), MinAmountOut: new(big.Int),
				Route: SingleHopTiered{FeeTier: 500}},
		},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"route":"single_hop_tiered"`)

	var got ArbitrageRequest
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 0, req.FlashLoanAmount.Cmp(got.FlashLoanAmount))
	assert.Equal(t, req.Swaps[0].Route, got.Swaps[0].Route)
	assert.Equal(t, req.Swaps[1].Route, got.Swaps[1].Route)
	assert.True(t, got.Swaps[1].UsesFullBalance())
	require.NoError(t, got.Validate())
}

func TestRequestJSONRejectsBadInput(t *testing.T) {
	for name, body := range map[string]string{
		"negative amount": `{"min_profit":"-1","swaps":[]}`,
		"not a number":    `{"min_profit":"1e3","swaps":[]}`,
		"unknown route":   `{"min_profit":"1","swaps":[{"route":"teleport"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			var req ArbitrageRequest
			err := json.Unmarshal([]byte(body), &req)
			require.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}
