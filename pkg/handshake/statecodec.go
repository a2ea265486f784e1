package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StateCodec serializes handshake properties into an opaque, tamper-evident
// state string and back. Decode must fail on any token that was not
// produced by the matching Encode key.
type StateCodec interface {
	Encode(props Properties) (string, error)
	Decode(state string) (Properties, error)
}

const defaultStateTTL = 15 * time.Minute

type stateClaims struct {
	jwt.RegisteredClaims
	Nonce     string `json:"nonce"`
	ReturnURL string `json:"return_url"`
	TicketID  string `json:"ticket_id,omitempty"`
}

// JWTStateCodec signs properties into a compact HMAC-SHA256 JWT. The
// token carries an expiry so an abandoned challenge cannot be replayed
// indefinitely.
type JWTStateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewJWTStateCodec creates a codec signing with the given secret key.
// ttl bounds how long an issued state stays decodable; zero selects a
// 15 minute default.
func NewJWTStateCodec(key []byte, ttl time.Duration) (*JWTStateCodec, error) {
	if len(key) == 0 {
		return nil, errors.New("handshake: state codec requires a signing key")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &JWTStateCodec{key: key, ttl: ttl, now: time.Now}, nil
}

// Encode signs props into a compact JWT string.
func (c *JWTStateCodec) Encode(props Properties) (string, error) {
	now := c.now()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		Nonce:     props.Nonce,
		ReturnURL: props.ReturnURL,
		TicketID:  props.TicketID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Decode verifies state and returns the embedded properties.
func (c *JWTStateCodec) Decode(state string) (Properties, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims,
		func(t *jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil {
		return Properties{}, fmt.Errorf("handshake: invalid state: %w", err)
	}
	return Properties{
		Nonce:     claims.Nonce,
		ReturnURL: claims.ReturnURL,
		TicketID:  claims.TicketID,
	}, nil
}
