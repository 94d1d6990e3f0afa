package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carries the identity fields the platform's auth service puts into
// access tokens. Token issuance lives in the auth service; this package only
// verifies.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// Validator verifies access tokens signed by the auth service.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a Validator for HMAC-signed tokens.
func NewValidator(secret, issuer string) *Validator {
	return &Validator{secret: []byte(secret), issuer: issuer}
}

// Validate parses and verifies a token string and returns its claims.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if v.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != v.issuer {
			return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
		}
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil && exp.Before(time.Now()) {
		return nil, ErrExpiredToken
	}

	return claims, nil
}
