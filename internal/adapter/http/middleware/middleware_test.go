package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/internal/core/ports/mocks"
	"merchant-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type hmacFixture struct {
	merchantRepo *mocks.MockMerchantRepository
	encSvc       *mocks.MockEncryptionService
	sigSvc       *mocks.MockSignatureService
	nonceStore   *mocks.MockNonceStore
	router       *gin.Engine
}

func newHMACFixture(t *testing.T, handler gin.HandlerFunc) *hmacFixture {
	ctrl := gomock.NewController(t)
	f := &hmacFixture{
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		encSvc:       mocks.NewMockEncryptionService(ctrl),
		sigSvc:       mocks.NewMockSignatureService(ctrl),
		nonceStore:   mocks.NewMockNonceStore(ctrl),
		router:       gin.New(),
	}
	if handler == nil {
		handler = func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	}
	f.router.POST("/test", HMACAuth(f.merchantRepo, f.encSvc, f.sigSvc, f.nonceStore, zerolog.Nop()), handler)
	return f
}

func signedRequest(accessKey string, ts int64, nonce, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body))
	req.Header.Set(HeaderAccessKey, accessKey)
	req.Header.Set(HeaderSignature, "valid_sig")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ErrorCode
}

func activeMerchant() *domain.Merchant {
	return &domain.Merchant{
		ID:           uuid.New(),
		AccessKey:    "ak_valid",
		SecretKeyEnc: "enc_secret",
		Role:         domain.RoleMerchant,
		Status:       domain.MerchantStatusActive,
	}
}

func TestHMACAuth_MissingHeaders(t *testing.T) {
	f := newHMACFixture(t, nil)

	w := serve(f.router, httptest.NewRequest(http.MethodPost, "/test", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_001", errorCode(t, w))
}

func TestHMACAuth_ExpiredTimestamp(t *testing.T) {
	f := newHMACFixture(t, nil)

	w := serve(f.router, signedRequest("ak_test", time.Now().Add(-120*time.Second).Unix(), "nonce123", ""))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "SEC_003", errorCode(t, w))
}

func TestHMACAuth_FutureTimestamp(t *testing.T) {
	f := newHMACFixture(t, nil)

	w := serve(f.router, signedRequest("ak_test", time.Now().Add(5*time.Minute).Unix(), "nonce123", ""))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHMACAuth_InvalidAccessKey(t *testing.T) {
	f := newHMACFixture(t, nil)
	f.merchantRepo.EXPECT().GetByAccessKey(gomock.Any(), "invalid_key").Return(nil, nil)

	w := serve(f.router, signedRequest("invalid_key", time.Now().Unix(), "nonce123", ""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHMACAuth_SuspendedMerchant(t *testing.T) {
	f := newHMACFixture(t, nil)
	merchant := activeMerchant()
	merchant.Status = domain.MerchantStatusSuspended
	f.merchantRepo.EXPECT().GetByAccessKey(gomock.Any(), "ak_valid").Return(merchant, nil)

	w := serve(f.router, signedRequest("ak_valid", time.Now().Unix(), "nonce123", ""))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTH_004", errorCode(t, w))
}

func TestHMACAuth_BadSignatureDoesNotBurnNonce(t *testing.T) {
	f := newHMACFixture(t, nil)
	merchant := activeMerchant()
	f.merchantRepo.EXPECT().GetByAccessKey(gomock.Any(), "ak_valid").Return(merchant, nil)
	f.encSvc.EXPECT().Decrypt("enc_secret").Return("raw_secret", nil)
	f.sigSvc.EXPECT().BuildCanonicalString(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("canonical")
	f.sigSvc.EXPECT().Verify("raw_secret", "canonical", "valid_sig").Return(false)

	w := serve(f.router, signedRequest("ak_valid", time.Now().Unix(), "nonce123", "{}"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_002", errorCode(t, w))
}

func TestHMACAuth_ReplayedNonce(t *testing.T) {
	f := newHMACFixture(t, nil)
	merchant := activeMerchant()
	f.merchantRepo.EXPECT().GetByAccessKey(gomock.Any(), "ak_valid").Return(merchant, nil)
	f.encSvc.EXPECT().Decrypt("enc_secret").Return("raw_secret", nil)
	f.sigSvc.EXPECT().BuildCanonicalString(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("canonical")
	f.sigSvc.EXPECT().Verify("raw_secret", "canonical", "valid_sig").Return(true)
	f.nonceStore.EXPECT().CheckAndSet(gomock.Any(), merchant.ID.String(), "nonce123", nonceTTL).Return(false, nil)

	w := serve(f.router, signedRequest("ak_valid", time.Now().Unix(), "nonce123", ""))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "SEC_004", errorCode(t, w))
}

func TestHMACAuth_Success(t *testing.T) {
	merchant := activeMerchant()
	nowTs := time.Now().Unix()
	body := `{"purpose":"TOPUP"}`

	var capturedID uuid.UUID
	var capturedBody []byte
	f := newHMACFixture(t, func(c *gin.Context) {
		capturedID, _ = MerchantID(c)
		capturedBody, _ = io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	f.merchantRepo.EXPECT().GetByAccessKey(gomock.Any(), "ak_valid").Return(merchant, nil)
	f.encSvc.EXPECT().Decrypt("enc_secret").Return("raw_secret", nil)
	f.sigSvc.EXPECT().BuildCanonicalString("POST", "/test", nowTs, "nonce-ok", []byte(body)).Return("canonical")
	f.sigSvc.EXPECT().Verify("raw_secret", "canonical", "valid_sig").Return(true)
	f.nonceStore.EXPECT().CheckAndSet(gomock.Any(), merchant.ID.String(), "nonce-ok", nonceTTL).Return(true, nil)

	w := serve(f.router, signedRequest("ak_valid", nowTs, "nonce-ok", body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, merchant.ID, capturedID)
	assert.Equal(t, body, string(capturedBody))
}

func TestHMACAuth_NonceStoreDownAllowsRequest(t *testing.T) {
	f := newHMACFixture(t, nil)
	merchant := activeMerchant()
	f.merchantRepo.EXPECT().GetByAccessKey(gomock.Any(), "ak_valid").Return(merchant, nil)
	f.encSvc.EXPECT().Decrypt("enc_secret").Return("raw_secret", nil)
	f.sigSvc.EXPECT().BuildCanonicalString(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("canonical")
	f.sigSvc.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Return(true)
	f.nonceStore.EXPECT().CheckAndSet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))

	w := serve(f.router, signedRequest("ak_valid", time.Now().Unix(), "nonce-x", ""))

	assert.Equal(t, http.StatusOK, w.Code)
}

func newJWTRouter(t *testing.T, tokenSvc ports.TokenService, extra ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	router := gin.New()
	handlers := append([]gin.HandlerFunc{JWTAuth(tokenSvc)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		role, _ := c.Get(CtxRole)
		c.JSON(http.StatusOK, gin.H{"role": role})
	})
	router.GET("/test", handlers...)
	return router
}

func bearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := newJWTRouter(t, mocks.NewMockTokenService(ctrl))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_WrongScheme(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := newJWTRouter(t, mocks.NewMockTokenService(ctrl))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Basic YWxpY2U6c2VjcmV0")
	w := serve(router, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("bad_token").Return(nil, assert.AnError)

	w := serve(newJWTRouter(t, tokenSvc), bearer("bad_token"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_003", errorCode(t, w))
}

func TestJWTAuth_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	merchantID := uuid.New()
	tokenSvc.EXPECT().Validate("good_token").Return(&ports.TokenClaims{
		MerchantID: merchantID,
		AccessKey:  "ak_test",
		Role:       domain.RoleMerchant,
	}, nil)

	w := serve(newJWTRouter(t, tokenSvc), bearer("good_token"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"MERCHANT"`)
}

func TestRequireAdmin(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("merchant_token").Return(&ports.TokenClaims{
		MerchantID: uuid.New(), Role: domain.RoleMerchant,
	}, nil)
	tokenSvc.EXPECT().Validate("admin_token").Return(&ports.TokenClaims{
		MerchantID: uuid.New(), Role: domain.RoleAdmin,
	}, nil)
	router := newJWTRouter(t, tokenSvc, RequireAdmin())

	w := serve(router, bearer("merchant_token"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTH_005", errorCode(t, w))

	w = serve(router, bearer("admin_token"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) { response.OK(c, nil) })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	w := serve(router, req)
	assert.Equal(t, "req-123", w.Header().Get(HeaderRequestID))
	assert.Contains(t, w.Body.String(), `"request_id":"req-123"`)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/test", nil))
	_, err := uuid.Parse(w.Header().Get(HeaderRequestID))
	assert.NoError(t, err)
}

func TestRecovery_PanicRecovered(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(zerolog.Nop()))
	router.GET("/panic", func(c *gin.Context) {
		panic("something went wrong")
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SYS_001", resp["error_code"])
}
