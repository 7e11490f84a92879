package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
)

// Claims carried by every token the service issues
// Subject is the user email. Scope is empty for purpose tokens (email confirmation, password reset)
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Codec signs claims and verifies signed tokens with one secret and one MAC algorithm
// It is immutable after creation and safe for concurrent use
type Codec struct {
	key []byte
	alg jwt.SigningMethod
	now func() time.Time
}

func NewCodec(secretKey string, alg string, now func() time.Time) (*Codec, error) {
	if secretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	method := jwt.GetSigningMethod(alg)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC ones allowed", alg)
	}

	if now == nil {
		now = time.Now
	}

	return &Codec{key: []byte(secretKey), alg: method, now: now}, nil
}

func (c *Codec) Encode(claims Claims) (string, error) {
	token, err := jwt.NewWithClaims(c.alg, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("error while signing token. Err: %w", err)
	}
	return token, nil
}

// Decode verifies token and returns its claims
// Returns apperrors.ErrTokenExpired if 'exp' is passed (now >= exp) and apperrors.ErrInvalidSignature on any other failure
func (c *Codec) Decode(token string) (Claims, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(t *jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{c.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenExpired, err)
	default:
		return Claims{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidSignature, err)
	}
}

// Signing algorithm name, like 'HS256'
func (c *Codec) Alg() string {
	return c.alg.Alg()
}
