package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against HMAC-SHA256(secretKey, payload) in constant time.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// BuildCanonicalString constructs the storefront signing payload.
// Format: METHOD|PATH|TIMESTAMP|NONCE|hex(sha256(BODY))
func (s *HMACSignatureService) BuildCanonicalString(method, path string, timestamp int64, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s|%s|%d|%s|%s", method, path, timestamp, nonce, hex.EncodeToString(sum[:]))
}
