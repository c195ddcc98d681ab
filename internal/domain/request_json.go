package domain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// requestJSON is the JSON form of ArbitrageRequest. Amounts are decimal
// strings in base units so uint256 values survive JavaScript clients.
type requestJSON struct {
	BaseToken       common.Address `json:"base_token"`
	MinProfit       string         `json:"min_profit"`
	UseFlashLoan    bool           `json:"use_flash_loan"`
	FlashLoanAmount string         `json:"flash_loan_amount,omitempty"`
	Swaps           []swapJSON     `json:"swaps"`
}

type swapJSON struct {
	Venue        common.Address   `json:"venue"`
	TokenIn      common.Address   `json:"token_in"`
	TokenOut     common.Address   `json:"token_out"`
	AmountIn     string           `json:"amount_in,omitempty"`
	MinAmountOut string           `json:"min_amount_out,omitempty"`
	Route        RouteKind        `json:"route"`
	Path         []common.Address `json:"path,omitempty"`
	FeeTier      uint32           `json:"fee_tier,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r ArbitrageRequest) MarshalJSON() ([]byte, error) {
	out := requestJSON{
		BaseToken:       r.BaseToken,
		MinProfit:       amountString(r.MinProfit),
		UseFlashLoan:    r.UseFlashLoan,
		FlashLoanAmount: amountString(r.FlashLoanAmount),
		Swaps:           make([]swapJSON, len(r.Swaps)),
	}
	for i, s := range r.Swaps {
		sj := swapJSON{
			Venue:        s.Venue,
			TokenIn:      s.TokenIn,
			TokenOut:     s.TokenOut,
			AmountIn:     amountString(s.AmountIn),
			MinAmountOut: amountString(s.MinAmountOut),
		}
		switch route := s.Route.(type) {
		case PathRouted:
			sj.Route, sj.Path = RoutePathRouted, route.Path
		case SingleHopTiered:
			sj.Route, sj.FeeTier = RouteSingleHopTiered, route.FeeTier
		case nil:
		default:
			return nil, fmt.Errorf("swaps[%d]: unknown route %T", i, route)
		}
		out.Swaps[i] = sj
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Malformed amounts and unknown
// route kinds are reported as ParamError.
func (r *ArbitrageRequest) UnmarshalJSON(data []byte) error {
	var in requestJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return &ParamError{Field: "request", Reason: err.Error()}
	}

	out := ArbitrageRequest{
		BaseToken:    in.BaseToken,
		UseFlashLoan: in.UseFlashLoan,
		Swaps:        make([]SwapStep, len(in.Swaps)),
	}
	var err error
	if out.MinProfit, err = parseAmount("min_profit", in.MinProfit); err != nil {
		return err
	}
	if out.FlashLoanAmount, err = parseAmount("flash_loan_amount", in.FlashLoanAmount); err != nil {
		return err
	}

	for i, sj := range in.Swaps {
		prefix := fmt.Sprintf("swaps[%d]", i)
		step := SwapStep{Venue: sj.Venue, TokenIn: sj.TokenIn, TokenOut: sj.TokenOut}
		if step.AmountIn, err = parseAmount(prefix+".amount_in", sj.AmountIn); err != nil {
			return err
		}
		if step.MinAmountOut, err = parseAmount(prefix+".min_amount_out", sj.MinAmountOut); err != nil {
			return err
		}
		switch sj.Route {
		case RoutePathRouted:
			step.Route = PathRouted{Path: sj.Path}
		case RouteSingleHopTiered:
			step.Route = SingleHopTiered{FeeTier: sj.FeeTier}
		default:
			return &ParamError{Field: prefix + ".route", Reason: fmt.Sprintf("unknown route %q", sj.Route)}
		}
		out.Swaps[i] = step
	}

	*r = out
	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, &ParamError{Field: field, Reason: fmt.Sprintf("%q is not a non-negative integer", s)}
	}
	return v, nil
}
