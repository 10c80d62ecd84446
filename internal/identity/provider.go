// Package identity resolves a request's bearer token to the owner whose
// memories it may see.
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or expired token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is an authenticated caller.
type Principal struct {
	OwnerID   string
	ExpiresAt time.Time // zero when the credential does not expire
}

// Provider authenticates a bearer token.
type Provider interface {
	Identify(ctx context.Context, token string) (Principal, error)
}

// StaticProvider serves a single-user install: every request with the
// configured token (or any request, when the token is empty) acts as OwnerID.
type StaticProvider struct {
	OwnerID string
	Token   string
}

// Identify implements Provider.
func (p StaticProvider) Identify(ctx context.Context, token string) (Principal, error) {
	if p.OwnerID == "" {
		return Principal{}, fmt.Errorf("%w: no owner configured", ErrUnauthenticated)
	}
	if p.Token != "" && subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) != 1 {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{OwnerID: p.OwnerID}, nil
}

// JWTProvider validates HS256 tokens. The subject claim is the owner ID and
// an expiry is required.
type JWTProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTProvider creates a JWT provider. An empty issuer accepts any issuer.
func NewJWTProvider(secret, issuer string) (*JWTProvider, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	return &JWTProvider{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Identify implements Provider.
func (p *JWTProvider) Identify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	principal := Principal{OwnerID: claims.Subject}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

// Issue signs a token for ownerID valid for ttl. The CLI uses it to mint
// tokens for a self-hosted server.
func (p *JWTProvider) Issue(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("owner ID is required")
	}
	now := p.now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

var (
	_ Provider = StaticProvider{}
	_ Provider = (*JWTProvider)(nil)
)
