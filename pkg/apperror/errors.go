package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"` // internal cause, never rendered
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying diagnostic fields for the client.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an *AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

// ---- Key derivation (KEY) ----

func ErrUnsupportedKeyFormat(err error) *AppError {
	return Wrap("KEY_001", "Unsupported extended key format", http.StatusBadRequest, err)
}

func ErrDerivationFailure(err error) *AppError {
	return Wrap("KEY_002", "Address derivation failed", http.StatusInternalServerError, err)
}

func ErrInvalidAddress() *AppError {
	return New("KEY_003", "Invalid bitcoin address", http.StatusBadRequest)
}

// ---- Address allocation (ADDR) ----

func ErrNotConfigured(purpose string) *AppError {
	return New("ADDR_001", fmt.Sprintf("BTC deposits are not configured for purpose %s", purpose), http.StatusServiceUnavailable)
}

func ErrCounterUninitialized(purpose string) *AppError {
	return New("ADDR_002", fmt.Sprintf("address counter missing for purpose %s", purpose), http.StatusInternalServerError)
}

func ErrAllocationContention(err error) *AppError {
	return Wrap("ADDR_003", "Address allocation is busy, try again", http.StatusServiceUnavailable, err)
}

// ---- Wallet ledger (WAL) ----

func ErrWalletNotFound() *AppError {
	return New("WAL_001", "Wallet not found", http.StatusNotFound)
}

func ErrInsufficientBalance(attempted, available int64) *AppError {
	return New("WAL_002", "Insufficient balance in wallet", http.StatusPaymentRequired).
		WithDetails(map[string]any{"attempted": attempted, "available": available})
}

func ErrWalletOperation(err error) *AppError {
	return Wrap("WAL_003", "Wallet operation failed, retry with the same idempotency key", http.StatusInternalServerError, err)
}

func ErrIdempotencyConflict() *AppError {
	return New("WAL_004", "Idempotency key already used for a different adjustment", http.StatusConflict)
}

// ---- Deposits (DEP) ----

func ErrInvalidObservation(err error) *AppError {
	return Wrap("DEP_001", "Invalid chain observation", http.StatusBadRequest, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrUsernameExists() *AppError {
	return New("AUTH_002", "Username already exists", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrMerchantSuspended() *AppError {
	return New("AUTH_004", "Merchant account is suspended", http.StatusForbidden)
}

func ErrForbidden() *AppError {
	return New("AUTH_005", "Admin role required", http.StatusForbidden)
}

// ---- Rate Limiting & Exchange Rates (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

func ErrRateUnavailable(err error) *AppError {
	return Wrap("RATE_002", "Exchange rate unavailable", http.StatusServiceUnavailable, err)
}

// ---- System & Infrastructure (SYS) ----

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001 request validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
