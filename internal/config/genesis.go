package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// maxDecimals bounds token precision accepted in genesis.
const maxDecimals = 36

// GenesisConfig describes the initial world the executor starts with: known
// tokens, seeded balances, the bundled venues and the flash-loan lender.
// Amounts are human decimals ("1.5") scaled by each token's decimals.
type GenesisConfig struct {
	Tokens       []TokenConfig       `toml:"tokens"`
	Balances     []BalanceConfig     `toml:"balances"`
	PathVenues   []PathVenueConfig   `toml:"path_venues"`
	TieredVenues []TieredVenueConfig `toml:"tiered_venues"`
	Lender       LenderConfig        `toml:"lender"`
}

// TokenConfig names a token.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int    `toml:"decimals"`
}

// BalanceConfig mints Amount of Token to Holder.
type BalanceConfig struct {
	Token  string `toml:"token"`
	Holder string `toml:"holder"`
	Amount string `toml:"amount"`
}

// PoolConfig seeds one pool with both reserves.
type PoolConfig struct {
	TokenA   string `toml:"token_a"`
	TokenB   string `toml:"token_b"`
	ReserveA string `toml:"reserve_a"`
	ReserveB string `toml:"reserve_b"`
	FeeTier  uint32 `toml:"fee_tier"` // tiered venues only
}

// PathVenueConfig is a constant-product router routing along token paths.
type PathVenueConfig struct {
	Address string       `toml:"address"`
	FeeBps  int64        `toml:"fee_bps"`
	Pools   []PoolConfig `toml:"pools"`
}

// TieredVenueConfig is a router with one pool per pair and fee tier.
type TieredVenueConfig struct {
	Address string       `toml:"address"`
	Pools   []PoolConfig `toml:"pools"`
}

// LenderConfig is the bundled flash-loan pool.
type LenderConfig struct {
	Address    string          `toml:"address"`
	PremiumBps int64           `toml:"premium_bps"`
	Liquidity  []BalanceConfig `toml:"liquidity"`
}

// Token looks up a token by symbol, case-insensitively.
func (g GenesisConfig) Token(symbol string) (TokenConfig, bool) {
	for _, t := range g.Tokens {
		if strings.EqualFold(t.Symbol, strings.TrimSpace(symbol)) {
			return t, true
		}
	}
	return TokenConfig{}, false
}

// Units converts a human amount of the named token into base units.
func (g GenesisConfig) Units(symbol, amount string) (*big.Int, error) {
	tok, ok := g.Token(symbol)
	if !ok {
		return nil, fmt.Errorf("unknown token %q", symbol)
	}
	return ScaleAmount(amount, tok.Decimals)
}

// ScaleAmount shifts a non-negative decimal string by decimals places and
// requires the result to be a whole number of base units.
func ScaleAmount(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseBaseUnits parses a non-negative integer amount already in base units.
func ParseBaseUnits(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	return ScaleAmount(s, 0)
}

// FormatUnits renders base units as a human decimal of the given precision.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

func (g GenesisConfig) validate() []string {
	var errs []string

	seen := make(map[string]bool, len(g.Tokens))
	for i, t := range g.Tokens {
		key := strings.ToLower(strings.TrimSpace(t.Symbol))
		switch {
		case key == "":
			errs = append(errs, fmt.Sprintf("genesis: tokens[%d].symbol must not be empty", i))
		case seen[key]:
			errs = append(errs, fmt.Sprintf("genesis: duplicate token symbol %q", t.Symbol))
		}
		seen[key] = true
		if _, err := parseAddress(t.Address); err != nil {
			errs = append(errs, fmt.Sprintf("genesis: tokens[%d].address %s", i, err))
		}
		if t.Decimals < 0 || t.Decimals > maxDecimals {
			errs = append(errs, fmt.Sprintf("genesis: tokens[%d].decimals must be 0-%d", i, maxDecimals))
		}
	}

	for i, b := range g.Balances {
		if b.Holder == "" {
			errs = append(errs, fmt.Sprintf("genesis: balances[%d].holder must not be empty", i))
		}
		if _, err := g.Units(b.Token, b.Amount); err != nil {
			errs = append(errs, fmt.Sprintf("genesis: balances[%d] %s", i, err))
		}
	}

	for i, v := range g.PathVenues {
		if _, err := parseAddress(v.Address); err != nil {
			errs = append(errs, fmt.Sprintf("genesis: path_venues[%d].address %s", i, err))
		}
		if v.FeeBps < 0 || v.FeeBps >= 10000 {
			errs = append(errs, fmt.Sprintf("genesis: path_venues[%d].fee_bps must be 0-9999", i))
		}
		errs = append(errs, g.validatePools(fmt.Sprintf("path_venues[%d]", i), v.Pools, false)...)
	}
	for i, v := range g.TieredVenues {
		if _, err := parseAddress(v.Address); err != nil {
			errs = append(errs, fmt.Sprintf("genesis: tiered_venues[%d].address %s", i, err))
		}
		errs = append(errs, g.validatePools(fmt.Sprintf("tiered_venues[%d]", i), v.Pools, true)...)
	}

	if _, err := parseAddress(g.Lender.Address); err != nil {
		errs = append(errs, "genesis: lender.address "+err.Error())
	}
	if g.Lender.PremiumBps < 0 || g.Lender.PremiumBps > 10000 {
		errs = append(errs, "genesis: lender.premium_bps must be 0-10000")
	}
	for i, l := range g.Lender.Liquidity {
		if _, err := g.Units(l.Token, l.Amount); err != nil {
			errs = append(errs, fmt.Sprintf("genesis: lender.liquidity[%d] %s", i, err))
		}
	}
	return errs
}

func (g GenesisConfig) validatePools(prefix string, pools []PoolConfig, tiered bool) []string {
	var errs []string
	for j, p := range pools {
		at := fmt.Sprintf("genesis: %s.pools[%d]", prefix, j)
		if strings.EqualFold(p.TokenA, p.TokenB) {
			errs = append(errs, at+" token_a and token_b must differ")
		}
		if _, err := g.Units(p.TokenA, p.ReserveA); err != nil {
			errs = append(errs, at+" reserve_a "+err.Error())
		}
		if _, err := g.Units(p.TokenB, p.ReserveB); err != nil {
			errs = append(errs, at+" reserve_b "+err.Error())
		}
		if tiered && (p.FeeTier == 0 || p.FeeTier >= 1<<24) {
			errs = append(errs, at+" fee_tier must be 1-16777215")
		}
	}
	return errs
}
