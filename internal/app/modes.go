package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbexecutor/internal/config"
	"github.com/alanyoungcy/arbexecutor/internal/crypto"
	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/engine"
	"github.com/alanyoungcy/arbexecutor/internal/server"
	"github.com/alanyoungcy/arbexecutor/internal/server/handler"
)

// ServerMode serves the HTTP and WebSocket API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	startedAt := time.Now().UTC()

	srv := server.NewServer(
		server.Config{
			Port:             a.cfg.Server.Port,
			CORSOrigins:      a.cfg.Server.CORSOrigins,
			SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
			RateLimit:        a.cfg.Server.RateLimit,
			RateWindow:       a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(deps.Service, startedAt, a.logger),
			Execute: handler.NewExecuteHandler(deps.Service, a.logger),
			Admin:   handler.NewAdminHandler(deps.Service, a.logger),
			State:   handler.NewStateHandler(deps.Service, a.logger),
		},
		server.Extras{
			Hub:      deps.Hub,
			Limiter:  deps.RateLimiter,
			Nonces:   deps.Nonces,
			Gatherer: deps.Registry,
		},
		a.logger,
	)

	if deps.Hub != nil {
		g.Go(func() error {
			if err := deps.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// ExecuteMode runs the request in the configured request file once and
// writes the result as JSON.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	if a.requestFile == "" {
		return errors.New("app: execute mode needs a request file")
	}
	data, err := os.ReadFile(a.requestFile)
	if err != nil {
		return fmt.Errorf("app: read request: %w", err)
	}
	var req domain.ArbitrageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("app: decode request: %w", err)
	}

	caller, err := localCaller(a.cfg)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "executing request",
		slog.String("file", a.requestFile),
		slog.String("caller", caller.Hex()),
		slog.Int("swaps", len(req.Swaps)),
	)

	res, err := deps.Service.Execute(ctx, caller, req)
	out := executeOutput{
		Result: res,
		Engine: deps.Engine.Address().Hex(),
	}
	if err != nil {
		out.Error = err.Error()
		out.Kind = string(domain.Classify(err))
	}
	out.Balance = deps.Service.Balance(req.BaseToken).String()

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		return fmt.Errorf("app: write result: %w", encErr)
	}
	return err
}

type executeOutput struct {
	Result  engine.Result `json:"result"`
	Engine  string        `json:"engine"`
	Balance string        `json:"base_token_balance"`
	Error   string        `json:"error,omitempty"`
	Kind    string        `json:"kind,omitempty"`
}

// localCaller is the identity execute mode acts as: the configured wallet
// when there is one, else the authority.
func localCaller(cfg *config.Config) (common.Address, error) {
	if cfg.Wallet.PrivateKey == "" && cfg.Wallet.EncryptedKeyPath == "" {
		return cfg.AuthorityAddress(), nil
	}
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("app: load wallet: %w", err)
	}
	return signer.Address(), nil
}
