package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/surveyforge/backend/internal/domain"
)

// opaqueTokenBytes gives 256 bits of entropy per refresh/reset token.
const opaqueTokenBytes = 32

// Claims is the payload of an access token. TokenType discriminates access
// tokens from anything else signed with the same key.
type Claims struct {
	UserID    uuid.UUID   `json:"user_id"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	TokenType string      `json:"typ"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HS256 access tokens. Verification is by
// signature and expiry only; there is no revocation list, so compromise is
// bounded by the short TTL.
type TokenSigner struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

func NewTokenSigner(secret, issuer, audience string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), issuer: issuer, audience: audience, ttl: ttl}
}

// Issue signs a fresh access token for the user and returns it with its
// expiry. Every token carries a random jti.
func (s *TokenSigner) Issue(user *domain.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := &Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a signed token. Expiry is reported as
// KindExpired, everything else (bad signature, wrong issuer, wrong type)
// as KindUnauthorized.
func (s *TokenSigner) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.Wrap(domain.KindExpired, "access token expired", err)
		}
		return nil, domain.Wrap(domain.KindUnauthorized, "invalid access token", err)
	}
	if claims.TokenType != "access" {
		return nil, domain.E(domain.KindUnauthorized, "invalid access token")
	}
	return claims, nil
}

// NewOpaqueToken returns a hex-encoded random secret for refresh and reset
// tokens. The caller stores only HashToken of it.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashToken is the at-rest form of an opaque token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
