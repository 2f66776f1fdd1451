// Package token issues and verifies the compact signed tokens that carry a
// user's identity between requests. Validity depends only on the signature
// and the clock; nothing is stored server-side.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
)

// Claims is the decoded content of a valid token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies HS256 tokens with one server-held secret.
// All fields are immutable after construction.
type Codec struct {
	secret []byte
	clock  clockwork.Clock
}

// NewCodec returns a codec for secret. A nil clock means the real clock.
func NewCodec(secret []byte, clock clockwork.Clock) *Codec {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, clock: clock}
}

// Issue builds {sub, iat: now, exp: now+ttl} and returns the signed token.
func (c *Codec) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is empty")
	}
	now := c.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies raw and returns its claims. Structure problems yield
// ErrMalformed, a signature that does not verify yields ErrBadSignature, and
// an authentic token at or past its expiry yields ErrExpired.
func (c *Codec) Decode(raw string) (*Claims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)

	// Header and claims must parse before the signature is looked at, so
	// that any later decoding failure belongs to the signature segment.
	if _, _, err := p.ParseUnverified(raw, &jwt.RegisteredClaims{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	rc := &jwt.RegisteredClaims{}
	_, err := p.ParseWithClaims(raw, rc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if rc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	out := &Claims{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt.Time}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out, nil
}
