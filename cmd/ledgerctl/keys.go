package main

import (
	"fmt"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/service"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
	"github.com/tyler-smith/go-bip39"
)

const maxDeriveCount = 1000

func newDeriveCmd() *cobra.Command {
	var (
		key     string
		from    uint32
		count   uint32
		network string
	)

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Preview receive addresses for an extended public key",
		Example: `  # First five mainnet addresses of an account key
  ledgerctl derive --key zpub6r... --count 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count == 0 || count > maxDeriveCount {
				return fmt.Errorf("count must be between 1 and %d", maxDeriveCount)
			}
			if uint64(from)+uint64(count) > hdkeychain.HardenedKeyStart {
				return fmt.Errorf("range reaches the hardened index space")
			}
			deriver := service.NewHDAddressDeriver()
			if !deriver.ValidateExtendedKey(key) {
				return fmt.Errorf("unsupported extended key")
			}

			out := cmd.OutOrStdout()
			for i := range count {
				index := from + i
				addr, err := deriver.DeriveAddress(key, index, domain.Network(network))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d\t%s\n", index, addr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "account-level xpub, zpub, tpub or vpub")
	cmd.Flags().Uint32Var(&from, "from", 0, "first index to derive")
	cmd.Flags().Uint32Var(&count, "count", 10, "number of addresses")
	cmd.Flags().StringVar(&network, "network", "", "mainnet or testnet (default: network of the key)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newValidateAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-address <address>",
		Short: "Check that an address decodes for mainnet or testnet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.NewHDAddressDeriver().ValidateAddress(args[0]) {
				return fmt.Errorf("invalid address %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

// newGenKeyCmd creates a throwaway BIP84 account for development setups.
func newGenKeyCmd() *cobra.Command {
	var (
		network  string
		mnemonic string
	)

	cmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a development mnemonic and its BIP84 account key",
		Long: `Generate a BIP39 mnemonic and print the neutered account key m/84'/coin'/0'.

The mnemonic is printed in clear text. Use it for development and test
networks only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := service.NetworkParams(domain.Network(network))
			if err != nil {
				return err
			}

			if mnemonic == "" {
				entropy, err := bip39.NewEntropy(256)
				if err != nil {
					return fmt.Errorf("entropy: %w", err)
				}
				if mnemonic, err = bip39.NewMnemonic(entropy); err != nil {
					return fmt.Errorf("mnemonic: %w", err)
				}
			} else if !bip39.IsMnemonicValid(mnemonic) {
				return fmt.Errorf("invalid mnemonic")
			}

			account, err := accountKey(bip39.NewSeed(mnemonic, ""), params.HDCoinType, params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mnemonic: %s\n", mnemonic)
			fmt.Fprintf(out, "account:  %s\n", account)
			return nil
		},
	}
	cmd.Flags().StringVar(&network, "network", string(domain.NetworkTestnet), "mainnet or testnet")
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "reuse an existing mnemonic instead of generating one")
	return cmd
}

// accountKey returns the neutered BIP84 account key m/84'/coin'/0' of seed.
func accountKey(seed []byte, coin uint32, params *chaincfg.Params) (string, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return "", fmt.Errorf("master key: %w", err)
	}
	key := master
	for _, i := range []uint32{84, coin, 0} {
		if key, err = key.Derive(hdkeychain.HardenedKeyStart + i); err != nil {
			return "", fmt.Errorf("derive account: %w", err)
		}
	}
	pub, err := key.Neuter()
	if err != nil {
		return "", fmt.Errorf("neuter: %w", err)
	}
	return pub.String(), nil
}
