package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("WAL_001", "Wallet not found", http.StatusNotFound),
			expected: "[WAL_001] Wallet not found",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("WAL_001", "test", http.StatusBadRequest).Unwrap())
}

func TestAppError_WithDetailsCopies(t *testing.T) {
	base := New("WAL_002", "x", http.StatusPaymentRequired)
	withDetails := base.WithDetails(map[string]any{"k": 1})

	assert.Nil(t, base.Details)
	assert.Equal(t, 1, withDetails.Details["k"])
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrWalletNotFound())
	assert.True(t, HasCode(err, "WAL_001"))
	assert.False(t, HasCode(err, "WAL_002"))
	assert.False(t, HasCode(errors.New("plain"), "WAL_001"))
}

func TestInsufficientBalanceCarriesAmounts(t *testing.T) {
	err := ErrInsufficientBalance(-1001, 1000)
	require.NotNil(t, err.Details)
	assert.Equal(t, int64(-1001), err.Details["attempted"])
	assert.Equal(t, int64(1000), err.Details["available"])
}

func TestErrorCodes(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidAccessKey", ErrInvalidAccessKey(), "SEC_001", 401},
		{"InvalidSignature", ErrInvalidSignature(), "SEC_002", 401},
		{"TimestampExpired", ErrTimestampExpired(), "SEC_003", 403},
		{"NonceUsed", ErrNonceUsed(), "SEC_004", 403},
		{"UnsupportedKeyFormat", ErrUnsupportedKeyFormat(cause), "KEY_001", 400},
		{"DerivationFailure", ErrDerivationFailure(cause), "KEY_002", 500},
		{"InvalidAddress", ErrInvalidAddress(), "KEY_003", 400},
		{"NotConfigured", ErrNotConfigured("TOPUP"), "ADDR_001", 503},
		{"CounterUninitialized", ErrCounterUninitialized("TOPUP"), "ADDR_002", 500},
		{"AllocationContention", ErrAllocationContention(cause), "ADDR_003", 503},
		{"WalletNotFound", ErrWalletNotFound(), "WAL_001", 404},
		{"InsufficientBalance", ErrInsufficientBalance(-1, 0), "WAL_002", 402},
		{"WalletOperation", ErrWalletOperation(cause), "WAL_003", 500},
		{"IdempotencyConflict", ErrIdempotencyConflict(), "WAL_004", 409},
		{"InvalidObservation", ErrInvalidObservation(cause), "DEP_001", 400},
		{"InvalidCredentials", ErrInvalidCredentials(), "AUTH_001", 401},
		{"UsernameExists", ErrUsernameExists(), "AUTH_002", 409},
		{"InvalidToken", ErrInvalidToken(), "AUTH_003", 401},
		{"MerchantSuspended", ErrMerchantSuspended(), "AUTH_004", 403},
		{"Forbidden", ErrForbidden(), "AUTH_005", 403},
		{"RateLimitExceeded", ErrRateLimitExceeded(), "RATE_001", 429},
		{"RateUnavailable", ErrRateUnavailable(cause), "RATE_002", 503},
		{"EncryptionFailure", ErrEncryptionFailure(cause), "SYS_003", 500},
		{"InternalError", InternalError(cause), "SYS_001", 500},
		{"Validation", Validation("bad"), "VAL_001", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}
