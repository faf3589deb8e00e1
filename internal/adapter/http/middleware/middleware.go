package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"
	"merchant-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names for HMAC authentication
	HeaderAccessKey = "X-Merchant-Access-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderRequestID = "X-Request-ID"

	// Max timestamp drift allowed (60 seconds)
	maxTimestampDrift = 60 * time.Second

	// Nonce TTL, comfortably longer than the drift window
	nonceTTL = 120 * time.Second

	// Context keys
	CtxMerchantID  = "merchant_id"
	CtxAccessKey   = "access_key"
	CtxRole        = "role"
	CtxMerchantKey = "merchant"
)

// HMACAuth verifies storefront requests signed with the merchant secret.
// Pipeline: timestamp -> merchant lookup -> signature -> nonce.
func HMACAuth(
	merchantRepo ports.MerchantRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	nonceStore ports.NonceStore,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		accessKey := c.GetHeader(HeaderAccessKey)
		signature := c.GetHeader(HeaderSignature)
		timestampStr := c.GetHeader(HeaderTimestamp)
		nonce := c.GetHeader(HeaderNonce)

		if accessKey == "" || signature == "" || timestampStr == "" || nonce == "" {
			abort(c, apperror.ErrInvalidAccessKey())
			return
		}

		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			abort(c, apperror.ErrTimestampExpired())
			return
		}
		drift := time.Since(time.Unix(timestamp, 0))
		if drift > maxTimestampDrift || drift < -maxTimestampDrift {
			abort(c, apperror.ErrTimestampExpired())
			return
		}

		merchant, err := merchantRepo.GetByAccessKey(c.Request.Context(), accessKey)
		if err != nil {
			log.Error().Err(err).Msg("failed to fetch merchant")
			abort(c, apperror.InternalError(err))
			return
		}
		if merchant == nil {
			abort(c, apperror.ErrInvalidAccessKey())
			return
		}
		if !merchant.IsActive() {
			abort(c, apperror.ErrMerchantSuspended())
			return
		}

		secretKey, err := encSvc.Decrypt(merchant.SecretKeyEnc)
		if err != nil {
			log.Error().Err(err).Str("merchant_id", merchant.ID.String()).Msg("failed to decrypt merchant secret key")
			abort(c, apperror.InternalError(err))
			return
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			bodyBytes, err = io.ReadAll(c.Request.Body)
			if err != nil {
				abort(c, apperror.Validation("cannot read request body"))
				return
			}
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		canonical := sigSvc.BuildCanonicalString(c.Request.Method, c.Request.URL.Path, timestamp, nonce, bodyBytes)
		if !sigSvc.Verify(secretKey, canonical, signature) {
			abort(c, apperror.ErrInvalidSignature())
			return
		}

		isNew, err := nonceStore.CheckAndSet(c.Request.Context(), merchant.ID.String(), nonce, nonceTTL)
		if err != nil {
			log.Warn().Err(err).Msg("nonce store error, allowing request")
		} else if !isNew {
			abort(c, apperror.ErrNonceUsed())
			return
		}

		c.Set(CtxMerchantID, merchant.ID)
		c.Set(CtxAccessKey, merchant.AccessKey)
		c.Set(CtxRole, merchant.Role)
		c.Set(CtxMerchantKey, merchant)

		c.Next()
	}
}

// JWTAuth validates dashboard bearer tokens.
func JWTAuth(tokenSvc ports.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenStr == "" {
			abort(c, apperror.ErrInvalidToken())
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			abort(c, apperror.ErrInvalidToken())
			return
		}

		c.Set(CtxMerchantID, claims.MerchantID)
		c.Set(CtxAccessKey, claims.AccessKey)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin lets only ADMIN tokens through. Must run after JWTAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, _ := c.Get(CtxRole); role != domain.RoleAdmin {
			abort(c, apperror.ErrForbidden())
			return
		}
		c.Next()
	}
}

// MerchantID returns the authenticated merchant set by HMACAuth or JWTAuth.
func MerchantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(CtxMerchantID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// RequestID propagates X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(response.RequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(response.RequestIDKey)).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

func abort(c *gin.Context, err *apperror.AppError) {
	response.Error(c, err)
	c.Abort()
}
