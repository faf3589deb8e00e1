package main

import (
	"fmt"

	pgStorage "merchant-wallet-ledger/internal/adapter/storage/postgres"
	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/internal/service"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := pgStorage.ApplyMigrations(e.pool, e.log); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// newCreateAdminCmd bootstraps an ADMIN account; self-registration over HTTP
// only ever creates merchants.
func newCreateAdminCmd(opts *rootOptions) *cobra.Command {
	var username, password, name string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an operator account with the ADMIN role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}

			e, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			encSvc, err := service.NewAESEncryptionService(e.cfg.AES.Key)
			if err != nil {
				return fmt.Errorf("encryption: %w", err)
			}
			authSvc := service.NewAuthService(
				pgStorage.NewMerchantRepo(e.pool),
				pgStorage.NewWalletRepo(e.pool),
				pgStorage.NewTransactor(e.pool),
				service.NewArgon2HashService(),
				encSvc,
				service.NewJWTTokenService(e.cfg.JWT.Secret, e.cfg.JWT.Expiry, e.cfg.JWT.Issuer),
				e.log,
			)

			res, err := authSvc.Register(cmd.Context(), ports.RegisterRequest{
				Username:     username,
				Password:     password,
				MerchantName: name,
				Role:         domain.RoleAdmin,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:         %s\n", res.MerchantID)
			fmt.Fprintf(out, "access key: %s\n", res.AccessKey)
			fmt.Fprintf(out, "secret key: %s\n", res.SecretKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&name, "name", "Operations", "display name")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func settingsService(e *env) (*service.SettingsServiceImpl, error) {
	encSvc, err := service.NewAESEncryptionService(e.cfg.AES.Key)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	return service.NewSettingsService(
		pgStorage.NewSettingsRepo(e.pool),
		pgStorage.NewCounterRepo(e.pool),
		encSvc,
		service.NewHDAddressDeriver(),
		e.cfg.Deposits.ConfirmationThreshold,
		e.log,
	), nil
}

func newSetKeyCmd(opts *rootOptions) *cobra.Command {
	var key, purpose string

	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the encrypted extended public key for a purpose",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc, err := settingsService(e)
			if err != nil {
				return err
			}
			if err := svc.SetExtendedKey(cmd.Context(), domain.AddressPurpose(purpose), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extended key stored for %s\n", purpose)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "account-level extended public key")
	cmd.Flags().StringVar(&purpose, "purpose", string(domain.PurposeTopup), "address purpose")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newSetThresholdCmd(opts *rootOptions) *cobra.Command {
	var threshold int64

	cmd := &cobra.Command{
		Use:   "set-threshold",
		Short: "Set the confirmation threshold for crediting deposits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			svc, err := settingsService(e)
			if err != nil {
				return err
			}
			if err := svc.SetConfirmationThreshold(cmd.Context(), threshold); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "confirmation threshold set to %d\n", threshold)
			return nil
		},
	}
	cmd.Flags().Int64Var(&threshold, "threshold", domain.DefaultConfirmationThreshold, "confirmations required")
	return cmd
}
