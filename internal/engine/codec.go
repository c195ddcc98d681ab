package engine

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// executorABI describes the executeArbitrage entrypoint whose argument tuple
// is the wire form of an ArbitrageRequest.
const executorABI = `[{
  "type": "function",
  "name": "executeArbitrage",
  "stateMutability": "nonpayable",
  "outputs": [],
  "inputs": [{
    "name": "params",
    "type": "tuple",
    "components": [
      {"name": "baseToken", "type": "address"},
      {"name": "minProfit", "type": "uint256"},
      {"name": "useFlashLoan", "type": "bool"},
      {"name": "flashLoanAmount", "type": "uint256"},
      {"name": "swaps", "type": "tuple[]", "components": [
        {"name": "router", "type": "address"},
        {"name": "tokenIn", "type": "address"},
        {"name": "tokenOut", "type": "address"},
        {"name": "amountIn", "type": "uint256"},
        {"name": "minAmountOut", "type": "uint256"},
        {"name": "isV3", "type": "bool"},
        {"name": "fee", "type": "uint24"},
        {"name": "path", "type": "address[]"}
      ]}
    ]
  }]
}]`

type wireSwap struct {
	Router       common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	IsV3         bool
	Fee          *big.Int
	Path         []common.Address
}

type wireParams struct {
	BaseToken       common.Address
	MinProfit       *big.Int
	UseFlashLoan    bool
	FlashLoanAmount *big.Int
	Swaps           []wireSwap
}

// ABICodec packs requests into the executeArbitrage argument tuple.
type ABICodec struct {
	method abi.Method
}

// NewABICodec parses the executor ABI.
func NewABICodec() (*ABICodec, error) {
	parsed, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		return nil, fmt.Errorf("parse executor abi: %w", err)
	}
	method, ok := parsed.Methods["executeArbitrage"]
	if !ok {
		return nil, fmt.Errorf("executor abi has no executeArbitrage method")
	}
	return &ABICodec{method: method}, nil
}

// Selector returns the 4-byte method id of executeArbitrage.
func (c *ABICodec) Selector() []byte {
	return append([]byte(nil), c.method.ID...)
}

// Encode packs req as the bare argument tuple.
func (c *ABICodec) Encode(req domain.ArbitrageRequest) ([]byte, error) {
	w, err := toWire(req)
	if err != nil {
		return nil, err
	}
	out, err := c.method.Inputs.Pack(w)
	if err != nil {
		return nil, fmt.Errorf("pack request: %w", err)
	}
	return out, nil
}

// EncodeCall packs req prefixed with the method selector.
func (c *ABICodec) EncodeCall(req domain.ArbitrageRequest) ([]byte, error) {
	args, err := c.Encode(req)
	if err != nil {
		return nil, err
	}
	return append(c.Selector(), args...), nil
}

// Decode unpacks an argument tuple, with or without the method selector.
// Malformed input is a *domain.ParamError.
func (c *ABICodec) Decode(data []byte) (domain.ArbitrageRequest, error) {
	if len(data)%32 == 4 && bytes.Equal(data[:4], c.method.ID) {
		data = data[4:]
	}
	values, err := c.method.Inputs.Unpack(data)
	if err != nil {
		return domain.ArbitrageRequest{}, &domain.ParamError{Field: "params", Reason: "undecodable: " + err.Error()}
	}
	if len(values) != 1 {
		return domain.ArbitrageRequest{}, &domain.ParamError{Field: "params", Reason: fmt.Sprintf("expected 1 argument, got %d", len(values))}
	}
	w, ok := abi.ConvertType(values[0], new(wireParams)).(*wireParams)
	if !ok || w == nil {
		return domain.ArbitrageRequest{}, &domain.ParamError{Field: "params", Reason: "unexpected tuple layout"}
	}
	return fromWire(*w), nil
}

func toWire(req domain.ArbitrageRequest) (wireParams, error) {
	w := wireParams{
		BaseToken:       req.BaseToken,
		MinProfit:       orZero(req.MinProfit),
		UseFlashLoan:    req.UseFlashLoan,
		FlashLoanAmount: orZero(req.FlashLoanAmount),
		Swaps:           make([]wireSwap, len(req.Swaps)),
	}
	for i, s := range req.Swaps {
		ws := wireSwap{
			Router:       s.Venue,
			TokenIn:      s.TokenIn,
			TokenOut:     s.TokenOut,
			AmountIn:     orZero(s.AmountIn),
			MinAmountOut: orZero(s.MinAmountOut),
			Fee:          new(big.Int),
			Path:         []common.Address{},
		}
		switch r := s.Route.(type) {
		case domain.PathRouted:
			ws.Path = append(ws.Path, r.Path...)
		case domain.SingleHopTiered:
			ws.IsV3 = true
			ws.Fee.SetUint64(uint64(r.FeeTier))
		default:
			return wireParams{}, &domain.ParamError{Field: fmt.Sprintf("swaps[%d].route", i), Reason: "is required"}
		}
		w.Swaps[i] = ws
	}
	return w, nil
}

func fromWire(w wireParams) domain.ArbitrageRequest {
	req := domain.ArbitrageRequest{
		BaseToken:       w.BaseToken,
		MinProfit:       orZero(w.MinProfit),
		UseFlashLoan:    w.UseFlashLoan,
		FlashLoanAmount: orZero(w.FlashLoanAmount),
		Swaps:           make([]domain.SwapStep, len(w.Swaps)),
	}
	for i, ws := range w.Swaps {
		step := domain.SwapStep{
			Venue:        ws.Router,
			TokenIn:      ws.TokenIn,
			TokenOut:     ws.TokenOut,
			AmountIn:     orZero(ws.AmountIn),
			MinAmountOut: orZero(ws.MinAmountOut),
		}
		if ws.IsV3 {
			// uint24 on the wire, so the tier always fits.
			step.Route = domain.SingleHopTiered{FeeTier: uint32(orZero(ws.Fee).Uint64())}
		} else {
			step.Route = domain.PathRouted{Path: append([]common.Address(nil), ws.Path...)}
		}
		req.Swaps[i] = step
	}
	return req
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
