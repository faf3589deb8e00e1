package service

import (
	"testing"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	// BIP84 account key m/84'/0'/0' of testMnemonic.
	testZpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhXNfE3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"
)

// accountKey derives the neutered account key m/84'/coin'/0' from testMnemonic.
func accountKey(t *testing.T, params *chaincfg.Params, coin uint32) *hdkeychain.ExtendedKey {
	t.Helper()
	seed := bip39.NewSeed(testMnemonic, "")
	master, err := hdkeychain.NewMaster(seed, params)
	require.NoError(t, err)

	key := master
	for _, i := range []uint32{84, coin, 0} {
		key, err = key.Derive(hdkeychain.HardenedKeyStart + i)
		require.NoError(t, err)
	}
	pub, err := key.Neuter()
	require.NoError(t, err)
	return pub
}

func TestHDAddressDeriver_BIP84MainnetVectors(t *testing.T) {
	d := NewHDAddressDeriver()

	tests := []struct {
		index uint32
		want  string
	}{
		{0, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"},
		{1, "bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g"},
	}

	for _, tt := range tests {
		addr, err := d.DeriveAddress(testZpub, tt.index, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, addr)
	}
}

func TestHDAddressDeriver_XpubAndZpubAgree(t *testing.T) {
	d := NewHDAddressDeriver()
	xpub := accountKey(t, &chaincfg.MainNetParams, 0)

	zpub, err := xpub.CloneWithVersion(versionZpub[:])
	require.NoError(t, err)
	assert.Equal(t, testZpub, zpub.String())

	for _, i := range []uint32{0, 1, 7, 1000} {
		fromX, err := d.DeriveAddress(xpub.String(), i, domain.NetworkMainnet)
		require.NoError(t, err)
		fromZ, err := d.DeriveAddress(testZpub, i, domain.NetworkMainnet)
		require.NoError(t, err)
		assert.Equal(t, fromX, fromZ)
	}
}

func TestHDAddressDeriver_TestnetKeys(t *testing.T) {
	d := NewHDAddressDeriver()
	tpub := accountKey(t, &chaincfg.TestNet3Params, 1)

	addr, err := d.DeriveAddress(tpub.String(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, "tb1q6rz28mcfaxtmd6v789l9rrlrusdprr9pqcpvkl", addr)

	vpub, err := tpub.CloneWithVersion(versionVpub[:])
	require.NoError(t, err)
	fromV, err := d.DeriveAddress(vpub.String(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, addr, fromV)
}

func TestHDAddressDeriver_NetworkOverride(t *testing.T) {
	d := NewHDAddressDeriver()

	addr, err := d.DeriveAddress(testZpub, 0, domain.NetworkTestnet)
	require.NoError(t, err)
	assert.Regexp(t, "^tb1q", addr)
}

func TestHDAddressDeriver_Deterministic(t *testing.T) {
	d := NewHDAddressDeriver()

	a, err := d.DeriveAddress(testZpub, 42, "")
	require.NoError(t, err)
	b, err := d.DeriveAddress(testZpub, 42, "")
	require.NoError(t, err)
	c, err := d.DeriveAddress(testZpub, 43, "")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHDAddressDeriver_UnsupportedKeys(t *testing.T) {
	d := NewHDAddressDeriver()

	seed := bip39.NewSeed(testMnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	// ypub (BIP49) is a valid key with a version we do not accept
	ypub, err := accountKey(t, &chaincfg.MainNetParams, 0).CloneWithVersion([]byte{0x04, 0x9d, 0x7c, 0xb2})
	require.NoError(t, err)

	corrupt := []byte(testZpub)
	corrupt[len(corrupt)-1] = 'z'

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"garbage", "not-a-key"},
		{"bad checksum", string(corrupt)},
		{"private key", master.String()},
		{"unknown version", ypub.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DeriveAddress(tt.key, 0, "")
			assert.True(t, apperror.HasCode(err, "KEY_001"), "got %v", err)
			assert.False(t, d.ValidateExtendedKey(tt.key))
		})
	}
}

func TestHDAddressDeriver_HardenedIndexRejected(t *testing.T) {
	d := NewHDAddressDeriver()

	_, err := d.DeriveAddress(testZpub, hdkeychain.HardenedKeyStart, "")
	assert.True(t, apperror.HasCode(err, "KEY_002"))

	_, err = d.DeriveAddress(testZpub, hdkeychain.HardenedKeyStart-1, "")
	assert.NoError(t, err)
}

func TestHDAddressDeriver_UnknownNetwork(t *testing.T) {
	_, err := NewHDAddressDeriver().DeriveAddress(testZpub, 0, domain.Network("regtest"))
	assert.True(t, apperror.HasCode(err, "KEY_002"))
}

func TestHDAddressDeriver_ValidateExtendedKey(t *testing.T) {
	d := NewHDAddressDeriver()
	assert.True(t, d.ValidateExtendedKey(testZpub))
	assert.True(t, d.ValidateExtendedKey(accountKey(t, &chaincfg.TestNet3Params, 1).String()))
}

func TestHDAddressDeriver_ValidateAddress(t *testing.T) {
	d := NewHDAddressDeriver()

	tests := []struct {
		addr string
		want bool
	}{
		{"bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", true},
		{"tb1q6rz28mcfaxtmd6v789l9rrlrusdprr9pqcpvkl", true},
		{"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", true},
		{"bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyv", false},
		{"", false},
		{"hello", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, d.ValidateAddress(tt.addr), tt.addr)
	}
}
