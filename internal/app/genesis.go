package app

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/config"
	"github.com/alanyoungcy/arbexecutor/internal/dex"
	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/flashloan"
	"github.com/alanyoungcy/arbexecutor/internal/ledger"
)

// world is the in-process chain state the engine executes against.
type world struct {
	book   *ledger.Ledger
	venues *dex.Registry
	lender *flashloan.Pool
}

// seedGenesis builds the ledger, venues and lender described by cfg.Genesis.
// The ledger is rebuilt from genesis on every start; only safety state and
// execution records persist.
func seedGenesis(cfg *config.Config, clock domain.Clock, logger *slog.Logger) (*world, error) {
	g := cfg.Genesis
	w := &world{book: ledger.New(), venues: dex.NewRegistry()}

	tokenAddr := func(symbol string) (common.Address, error) {
		tok, ok := g.Token(symbol)
		if !ok {
			return common.Address{}, fmt.Errorf("unknown token %q", symbol)
		}
		return common.HexToAddress(tok.Address), nil
	}
	mint := func(symbol, amount string, to common.Address) error {
		token, err := tokenAddr(symbol)
		if err != nil {
			return err
		}
		units, err := g.Units(symbol, amount)
		if err != nil {
			return fmt.Errorf("%s amount %q: %w", symbol, amount, err)
		}
		if units.Sign() == 0 {
			return nil
		}
		return w.book.Mint(token, to, units)
	}
	seedPool := func(pool common.Address, p config.PoolConfig) error {
		if err := mint(p.TokenA, p.ReserveA, pool); err != nil {
			return err
		}
		return mint(p.TokenB, p.ReserveB, pool)
	}

	for _, b := range g.Balances {
		holder, err := cfg.HolderAddress(b.Holder)
		if err != nil {
			return nil, fmt.Errorf("genesis balance holder %q: %w", b.Holder, err)
		}
		if err := mint(b.Token, b.Amount, holder); err != nil {
			return nil, fmt.Errorf("genesis balance: %w", err)
		}
	}

	for _, v := range g.PathVenues {
		router := dex.NewConstantProductRouter(common.HexToAddress(v.Address), w.book, v.FeeBps, clock)
		for _, p := range v.Pools {
			a, err := tokenAddr(p.TokenA)
			if err != nil {
				return nil, err
			}
			b, err := tokenAddr(p.TokenB)
			if err != nil {
				return nil, err
			}
			if err := seedPool(router.CreatePool(a, b), p); err != nil {
				return nil, fmt.Errorf("venue %s pool %s/%s: %w", v.Address, p.TokenA, p.TokenB, err)
			}
		}
		w.venues.RegisterPathRouter(router.Address(), router)
	}

	for _, v := range g.TieredVenues {
		router := dex.NewTieredPoolRouter(common.HexToAddress(v.Address), w.book, clock)
		for _, p := range v.Pools {
			a, err := tokenAddr(p.TokenA)
			if err != nil {
				return nil, err
			}
			b, err := tokenAddr(p.TokenB)
			if err != nil {
				return nil, err
			}
			pool, err := router.CreatePool(a, b, p.FeeTier)
			if err != nil {
				return nil, err
			}
			if err := seedPool(pool, p); err != nil {
				return nil, fmt.Errorf("venue %s pool %s/%s@%d: %w", v.Address, p.TokenA, p.TokenB, p.FeeTier, err)
			}
		}
		w.venues.RegisterTieredRouter(router.Address(), router)
	}

	lenderAddr := common.HexToAddress(g.Lender.Address)
	w.lender = flashloan.NewPool(lenderAddr, w.book, g.Lender.PremiumBps, logger)
	for _, l := range g.Lender.Liquidity {
		if err := mint(l.Token, l.Amount, lenderAddr); err != nil {
			return nil, fmt.Errorf("lender liquidity: %w", err)
		}
	}

	logger.Info("genesis seeded",
		slog.Int("tokens", len(g.Tokens)),
		slog.Int("venues", w.venues.Venues()),
		slog.String("lender", lenderAddr.Hex()),
	)
	return w, nil
}

// tokenDecimals returns a lookup of each genesis token's decimals.
func tokenDecimals(g config.GenesisConfig) func(common.Address) int {
	byAddr := make(map[common.Address]int, len(g.Tokens))
	for _, t := range g.Tokens {
		byAddr[common.HexToAddress(t.Address)] = t.Decimals
	}
	return func(token common.Address) int {
		if d, ok := byAddr[token]; ok {
			return d
		}
		return 18
	}
}
