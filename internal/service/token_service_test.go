package service

import (
	"testing"
	"time"

	"merchant-wallet-ledger/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "test-issuer")

	for _, role := range []domain.Role{domain.RoleMerchant, domain.RoleAdmin} {
		merchantID := uuid.New()
		tokenStr, expiresAt, err := svc.Generate(merchantID, "ak_test", role)
		require.NoError(t, err)
		assert.True(t, expiresAt.After(time.Now()))

		claims, err := svc.Validate(tokenStr)
		require.NoError(t, err)
		assert.Equal(t, merchantID, claims.MerchantID)
		assert.Equal(t, "ak_test", claims.AccessKey)
		assert.Equal(t, role, claims.Role)
	}
}

func TestJWTTokenService_ExpiredToken(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, -1*time.Hour, "test-issuer")

	tokenStr, _, err := svc.Generate(uuid.New(), "key", domain.RoleMerchant)
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err, "expired token should fail validation")
}

func TestJWTTokenService_InvalidSignature(t *testing.T) {
	svc1 := NewJWTTokenService("secret-1", 24*time.Hour, "issuer")
	svc2 := NewJWTTokenService("secret-2", 24*time.Hour, "issuer")

	tokenStr, _, err := svc1.Generate(uuid.New(), "key", domain.RoleAdmin)
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err, "token signed with different secret should fail")
}

func TestJWTTokenService_WrongIssuer(t *testing.T) {
	issued := NewJWTTokenService(testJWTSecret, time.Hour, "someone-else")
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "merchant-wallet-ledger")

	tokenStr, _, err := issued.Generate(uuid.New(), "key", domain.RoleMerchant)
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_UnknownRole(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")

	tokenStr, _, err := svc.Generate(uuid.New(), "key", domain.Role("ROOT"))
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_RejectsNoneAlgorithm(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": "ADMIN",
		"iss":  "issuer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	tokenStr, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_Garbage(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")
	_, err := svc.Validate("not.a.jwt")
	assert.Error(t, err)
}
