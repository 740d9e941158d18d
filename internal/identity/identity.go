// Package identity issues and verifies the bearer tokens that tie requests
// to registered accounts, and fingerprints anonymous callers.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "riskgate"

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCodecConfig = errors.New("invalid token codec configuration")
)

// TokenCodec signs and parses HS256 bearer tokens.
type TokenCodec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenCodec wires a TokenCodec. Tokens expire after lifetime.
func NewTokenCodec(secret string, lifetime time.Duration) (*TokenCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty signing secret", ErrInvalidCodecConfig)
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("%w: non-positive lifetime", ErrInvalidCodecConfig)
	}
	return &TokenCodec{secret: []byte(secret), lifetime: lifetime, now: time.Now}, nil
}

// Issue returns a signed token carrying the user id as subject.
func (codec *TokenCodec) Issue(userID int64) (string, error) {
	now := codec.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(codec.lifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(codec.secret)
}

// Parse verifies a token and returns the embedded user id. Expired, tampered,
// and foreign tokens all surface as ErrInvalidToken.
func (codec *TokenCodec) Parse(raw string) (int64, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return codec.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return codec.now() }),
	)
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return userID, nil
}

// HashFingerprint reduces a request attribute to a stable hex digest so raw
// addresses and user agent strings never reach storage.
func HashFingerprint(value string) string {
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])
}
