package service

import (
	"bytes"
	"errors"
	"fmt"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// SLIP-0132 public export versions accepted for receive-address derivation.
var (
	versionXpub = [4]byte{0x04, 0x88, 0xb2, 0x1e}
	versionZpub = [4]byte{0x04, 0xb2, 0x47, 0x46}
	versionTpub = [4]byte{0x04, 0x35, 0x87, 0xcf}
	versionVpub = [4]byte{0x04, 0x5f, 0x1c, 0xf6}
)

// externalChain is the BIP32 receive branch (m/0/i below the account key).
const externalChain = 0

var (
	errUnknownVersion = errors.New("unknown extended key version")
	errPrivateKey     = errors.New("extended private keys are not accepted")
	errHardenedIndex  = errors.New("index is in the hardened range")
)

// HDAddressDeriver implements ports.AddressDeriver with BIP32 public derivation
// and P2WPKH (bech32) encoding.
type HDAddressDeriver struct{}

// NewHDAddressDeriver creates a new deriver.
func NewHDAddressDeriver() *HDAddressDeriver {
	return &HDAddressDeriver{}
}

// DeriveAddress derives the receive address at m/0/index of extendedKey.
// An empty network encodes for the network the key version belongs to.
func (d *HDAddressDeriver) DeriveAddress(extendedKey string, index uint32, network domain.Network) (string, error) {
	key, params, err := parseAccountKey(extendedKey)
	if err != nil {
		return "", apperror.ErrUnsupportedKeyFormat(err)
	}
	if index >= hdkeychain.HardenedKeyStart {
		return "", apperror.ErrDerivationFailure(fmt.Errorf("index %d: %w", index, errHardenedIndex))
	}
	if network != "" {
		if params, err = NetworkParams(network); err != nil {
			return "", apperror.ErrDerivationFailure(err)
		}
	}

	branch, err := key.Derive(externalChain)
	if err != nil {
		return "", apperror.ErrDerivationFailure(fmt.Errorf("derive external chain: %w", err))
	}
	child, err := branch.Derive(index)
	if err != nil {
		return "", apperror.ErrDerivationFailure(fmt.Errorf("derive index %d: %w", index, err))
	}

	addr, err := p2wpkhAddress(child, params)
	if err != nil {
		return "", apperror.ErrDerivationFailure(err)
	}
	return addr, nil
}

// ValidateExtendedKey reports whether key is an accepted public extended key.
func (d *HDAddressDeriver) ValidateExtendedKey(key string) bool {
	_, _, err := parseAccountKey(key)
	return err == nil
}

// ValidateAddress reports whether address decodes for mainnet or testnet.
func (d *HDAddressDeriver) ValidateAddress(address string) bool {
	for _, params := range []*chaincfg.Params{&chaincfg.MainNetParams, &chaincfg.TestNet3Params} {
		addr, err := btcutil.DecodeAddress(address, params)
		if err == nil && addr.IsForNet(params) {
			return true
		}
	}
	return false
}

// NetworkParams maps a configured network name to chain parameters.
func NetworkParams(network domain.Network) (*chaincfg.Params, error) {
	switch network {
	case domain.NetworkMainnet:
		return &chaincfg.MainNetParams, nil
	case domain.NetworkTestnet:
		return &chaincfg.TestNet3Params, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// parseAccountKey decodes a public extended key and normalizes its version to
// the canonical xpub/tpub of its network.
func parseAccountKey(s string) (*hdkeychain.ExtendedKey, *chaincfg.Params, error) {
	key, err := hdkeychain.NewKeyFromString(s)
	if err != nil {
		return nil, nil, err
	}
	if key.IsPrivate() {
		return nil, nil, errPrivateKey
	}

	var version [4]byte
	copy(version[:], key.Version())

	var params *chaincfg.Params
	switch version {
	case versionXpub, versionZpub:
		params = &chaincfg.MainNetParams
	case versionTpub, versionVpub:
		params = &chaincfg.TestNet3Params
	default:
		return nil, nil, fmt.Errorf("%w %x", errUnknownVersion, version)
	}

	if !bytes.Equal(key.Version(), params.HDPublicKeyID[:]) {
		if key, err = key.CloneWithVersion(params.HDPublicKeyID[:]); err != nil {
			return nil, nil, fmt.Errorf("normalize version: %w", err)
		}
	}
	return key, params, nil
}

func p2wpkhAddress(key *hdkeychain.ExtendedKey, params *chaincfg.Params) (string, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("public key: %w", err)
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
	if err != nil {
		return "", fmt.Errorf("encode p2wpkh: %w", err)
	}
	return addr.EncodeAddress(), nil
}
