// Command arbctl is the operator client for a running arbexecutor. It signs
// requests with the configured wallet key and prints the server's JSON
// responses.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/arbexecutor/internal/config"
	"github.com/alanyoungcy/arbexecutor/internal/crypto"
	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

var (
	configPath string
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:           "arbctl",
	Short:         "Operate a running arbitrage executor",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var executeCmd = &cobra.Command{
	Use:   "execute <request.json>",
	Short: "Submit an arbitrage request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		// Decode locally so malformed requests fail before they are signed.
		var req domain.ArbitrageRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		return call(cmd, http.MethodPost, "/v1/execute", req, true)
	},
}

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Toggle the emergency halt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(cmd, http.MethodPost, "/v1/admin/halt", nil, true)
	},
}

var (
	withdrawToken  string
	withdrawAmount string
)

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Withdraw engine holdings to the authority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		body := map[string]string{"token": withdrawToken, "amount": withdrawAmount}
		return call(cmd, http.MethodPost, "/v1/admin/withdraw", body, true)
	},
}

var (
	maxTradeSize   string
	dailyLossLimit string
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Replace the safety limits (base units, 0 disables)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		body := map[string]string{"max_trade_size": maxTradeSize, "daily_loss_limit": dailyLossLimit}
		return call(cmd, http.MethodPut, "/v1/admin/limits", body, true)
	},
}

var safetyCmd = &cobra.Command{
	Use:   "safety",
	Short: "Show halt state and limits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(cmd, http.MethodGet, "/v1/safety", nil, false)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <token>",
	Short: "Show the engine's balance of a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/v1/balances/"+url.PathEscape(args[0]), nil, false)
	},
}

var executionCmd = &cobra.Command{
	Use:   "execution <attempt-id>",
	Short: "Show the completion record of a settled attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/v1/executions/"+url.PathEscape(args[0]), nil, false)
	},
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the wallet address requests are signed with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		signer, err := loadSigner(cfg)
		if err != nil {
			return err
		}
		if signer == nil {
			return fmt.Errorf("no wallet key configured")
		}
		fmt.Fprintln(cmd.OutOrStdout(), signer.Address().Hex())
		return nil
	},
}

var (
	encryptOut      string
	encryptPassword string
)

var encryptKeyCmd = &cobra.Command{
	Use:   "encrypt-key",
	Short: "Encrypt wallet.private_key into a key file",
	Long: `Encrypt the configured raw wallet key with a password and write the
result to --out. Point wallet.encrypted_key_path at the file and remove
the raw key from the configuration afterwards.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is not set")
		}
		password := encryptPassword
		if password == "" {
			password = cfg.Wallet.KeyPassword
		}
		if password == "" {
			return fmt.Errorf("a password is required (--password or wallet.key_password)")
		}
		data, err := crypto.EncryptKey(cfg.Wallet.PrivateKey, password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(encryptOut, data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", encryptOut)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (overrides client.server_url)")

	withdrawCmd.Flags().StringVar(&withdrawToken, "token", "", "token address")
	withdrawCmd.Flags().StringVar(&withdrawAmount, "amount", "", "amount in base units")
	_ = withdrawCmd.MarkFlagRequired("token")
	_ = withdrawCmd.MarkFlagRequired("amount")

	limitsCmd.Flags().StringVar(&maxTradeSize, "max-trade-size", "0", "max trade size in base units")
	limitsCmd.Flags().StringVar(&dailyLossLimit, "daily-loss-limit", "0", "daily loss limit in base units")

	encryptKeyCmd.Flags().StringVar(&encryptOut, "out", "wallet.key.json", "output file")
	encryptKeyCmd.Flags().StringVar(&encryptPassword, "password", "", "encryption password")

	rootCmd.AddCommand(executeCmd, haltCmd, withdrawCmd, limitsCmd, safetyCmd,
		balanceCmd, executionCmd, addressCmd, encryptKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "arbctl: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

// loadSigner returns nil when no wallet key is configured.
func loadSigner(cfg *config.Config) (*crypto.Signer, error) {
	if cfg.Wallet.PrivateKey == "" && cfg.Wallet.EncryptedKeyPath == "" {
		return nil, nil
	}
	return crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
}

// call performs one request against the server and pretty-prints the reply.
func call(cmd *cobra.Command, method, path string, body any, signed bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var signer *crypto.Signer
	if signed {
		if signer, err = loadSigner(cfg); err != nil {
			return err
		}
	}
	base := cfg.Client.ServerURL
	if serverURL != "" {
		base = serverURL
	}

	c := newClient(base, cfg.Client.Timeout.Duration, signer)
	data, err := c.do(cmd.Context(), method, path, body, signed)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if json.Indent(&out, data, "", "  ") != nil {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(cmd.OutOrStdout())
	return err
}
