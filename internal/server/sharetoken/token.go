// Package sharetoken issues and verifies share access tokens: short-lived
// signed capabilities proving the caller already supplied the correct
// password for a protected share.
//
// A token embeds the password-derived key material for its share, so it is
// equivalent to the password for its lifetime. It must only travel over
// secure transport and must never be logged.
package sharetoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretSize is the minimum HMAC signing secret length in bytes.
const MinSecretSize = 32

// Claims carries the share binding and the password-derived key material.
// Subject holds the share id.
type Claims struct {
	jwt.RegisteredClaims
	PasswordHash string `json:"pwh"`
}

// Service signs and verifies share access tokens with HMAC-SHA256.
type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret []byte, ttl time.Duration) (*Service, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("%w: token signing secret must be at least %d bytes", common.ErrValidation, MinSecretSize)
	}
	return &Service{secret: secret, ttl: ttl}, nil
}

// Issue builds a signed token for the given share carrying the password-derived
// key material, valid for the configured TTL.
func (s *Service) Issue(shareID, passwordHash string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   shareID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		PasswordHash: passwordHash,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}

	return signed, nil
}

// Verify checks the signature and expiry and that the token was issued for
// expectedShareID. Every failure mode collapses to common.ErrInvalidToken;
// callers get no hint whether the signature, the expiry, or the share
// binding was at fault.
func (s *Service) Verify(tokenString, expectedShareID string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidToken
	}

	if claims.Subject != expectedShareID {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
