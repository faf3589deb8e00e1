package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := svc.BuildCanonicalString("POST", "/api/v1/storefront/deposit-address", 1700000000, "n-1", []byte(`{"purpose":"TOPUP"}`))

	sig := svc.Sign("secret", payload)
	assert.Len(t, sig, 64)
	assert.True(t, svc.Verify("secret", payload, sig))
	assert.False(t, svc.Verify("other-secret", payload, sig))
	assert.False(t, svc.Verify("secret", payload+"x", sig))
}

func TestHMACSignatureService_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	svc := NewHMACSignatureService()
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		svc.Sign("Jefe", "what do ya want for nothing?"))
}

func TestHMACSignatureService_BuildCanonicalString(t *testing.T) {
	svc := NewHMACSignatureService()

	got := svc.BuildCanonicalString("GET", "/api/v1/storefront/wallet", 1700000000, "abc", nil)
	// sha256 of the empty body
	assert.Equal(t, "GET|/api/v1/storefront/wallet|1700000000|abc|e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)

	a := svc.BuildCanonicalString("POST", "/p", 1, "n", []byte("a"))
	b := svc.BuildCanonicalString("POST", "/p", 1, "n", []byte("b"))
	assert.NotEqual(t, a, b)
}
