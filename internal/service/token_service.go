package service

import (
	"fmt"
	"time"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTTokenService implements ports.TokenService using HS256 JWT.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTTokenService creates a new JWT token service.
func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
	}
}

// dashboardClaims is the JWT payload of dashboard and admin sessions.
type dashboardClaims struct {
	AccessKey string      `json:"access_key"`
	Role      domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Generate creates a signed JWT for the given merchant and role.
func (s *JWTTokenService) Generate(merchantID uuid.UUID, accessKey string, role domain.Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := dashboardClaims{
		AccessKey: accessKey,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   merchantID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate parses and validates a JWT token, returning the claims.
// Tokens from another issuer or without a known role are rejected.
func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	claims := &dashboardClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	merchantID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid merchant ID in token: %w", err)
	}
	if claims.Role != domain.RoleMerchant && claims.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("invalid role claim %q", claims.Role)
	}

	return &ports.TokenClaims{
		MerchantID: merchantID,
		AccessKey:  claims.AccessKey,
		Role:       claims.Role,
	}, nil
}
