// Package auth issues and verifies session tokens and resolves them into the
// identity of the calling user.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"entornos-api-go/internal/apperr"
)

// Lifetime selects how long an issued token stays valid.
type Lifetime int

const (
	// Temporal is the short session used when the user did not ask to be remembered.
	Temporal Lifetime = iota
	// Extendido is the long "remember me" session.
	Extendido
)

func (l Lifetime) String() string {
	if l == Extendido {
		return "extendido"
	}
	return "temporal"
}

// LifetimeFor maps the login "recordar" flag to a lifetime.
func LifetimeFor(recordar bool) Lifetime {
	if recordar {
		return Extendido
	}
	return Temporal
}

const (
	DefaultTemporalTTL  = time.Hour
	DefaultExtendidoTTL = 14 * 24 * time.Hour
)

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Rol   string `json:"rol,omitempty"`
}

// Token is a freshly issued credential.
type Token struct {
	Value     string
	Type      Lifetime
	ExpiresAt time.Time
}

// Subject is what a verified token says about its bearer.
type Subject struct {
	ID        string
	Email     string
	Rol       string
	ExpiresAt time.Time
}

// Codec signs and verifies HS256 tokens with a process-wide secret.
// It is safe for concurrent use.
type Codec struct {
	secret       []byte
	issuer       string
	temporalTTL  time.Duration
	extendidoTTL time.Duration
	now          func() time.Time
}

// CodecOption customises a Codec.
type CodecOption func(*Codec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// WithLifetimes overrides the temporal and extendido TTLs.
func WithLifetimes(temporal, extendido time.Duration) CodecOption {
	return func(c *Codec) {
		c.temporalTTL = temporal
		c.extendidoTTL = extendido
	}
}

// NewCodec returns a Codec signing with secret. An empty secret is refused.
func NewCodec(secret, issuer string, opts ...CodecOption) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is empty")
	}
	c := &Codec{
		secret:       []byte(secret),
		issuer:       issuer,
		temporalTTL:  DefaultTemporalTTL,
		extendidoTTL: DefaultExtendidoTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the configured duration of a lifetime.
func (c *Codec) TTL(l Lifetime) time.Duration {
	if l == Extendido {
		return c.extendidoTTL
	}
	return c.temporalTTL
}

// Issue signs a token for the subject that expires after the lifetime's TTL.
func (c *Codec) Issue(subjectID, email, rol string, lifetime Lifetime) (Token, error) {
	now := c.now()
	exp := jwt.NewNumericDate(now.Add(c.TTL(lifetime)))
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
		Email: email,
		Rol:   rol,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{Value: signed, Type: lifetime, ExpiresAt: exp.Time}, nil
}

// Verify parses and checks a token. Failures are apperr.Malformed or
// apperr.Expired; there is no partial trust.
func (c *Codec) Verify(tokenString string) (Subject, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Subject{}, apperr.Wrap(apperr.Expired, "Token expirado", err)
		}
		return Subject{}, apperr.Wrap(apperr.Malformed, "Token inválido", err)
	}
	if claims.Subject == "" {
		return Subject{}, apperr.New(apperr.Malformed, "Token inválido")
	}

	return Subject{
		ID:        claims.Subject,
		Email:     claims.Email,
		Rol:       claims.Rol,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
