package main

import (
	"context"
	"fmt"
	"os"

	"merchant-wallet-ledger/config"
	pgStorage "merchant-wallet-ledger/internal/adapter/storage/postgres"
	"merchant-wallet-ledger/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operator tooling for the merchant wallet ledger",
		Long: `ledgerctl runs operator tasks against the wallet ledger.

Key commands (derive, validate-address, gen-key) work offline. Database
commands read the same configuration as the API server.

Example:
  ledgerctl derive --key zpub6r... --from 0 --count 5
  ledgerctl migrate --config ./config/config.yaml
  ledgerctl create-admin --username ops --password '...'`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("MWL_CONFIG"), "path to the config file")

	cmd.AddCommand(
		newDeriveCmd(),
		newValidateAddressCmd(),
		newGenKeyCmd(),
		newMigrateCmd(opts),
		newCreateAdminCmd(opts),
		newSetKeyCmd(opts),
		newSetThresholdCmd(opts),
	)
	return cmd
}

// env is the configuration and database handle shared by the database commands.
type env struct {
	cfg  *config.Config
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func (o *rootOptions) open(ctx context.Context) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty).With().Str("app", "ledgerctl").Logger()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &env{cfg: cfg, pool: pool, log: log}, nil
}

func (e *env) Close() {
	e.pool.Close()
}
