// Package auth resolves the principal behind a request. Tokens are issued
// by the identity provider; the service only checks them and trusts the
// role claim they carry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"example.com/backstage/services/provenance/config"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Principal is the caller of a mutating operation
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type principalKey struct{}

// WithPrincipal attaches p to ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator validates HS256 bearer tokens
type Authenticator struct {
	secret    []byte
	issuer    string
	audience  string
	roleClaim string
}

// NewAuthenticator creates an authenticator from config
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret:    []byte(cfg.HMACSecret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		roleClaim: cfg.RoleClaim,
	}
}

// Authenticate parses and validates a token and returns its principal
func (a *Authenticator) Authenticate(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return Principal{ID: subject, Role: a.role(claims)}, nil
}

// role reads the configured claim, then "role". A list yields its first entry.
func (a *Authenticator) role(claims jwt.MapClaims) string {
	for _, name := range []string{a.roleClaim, "role"} {
		if name == "" {
			continue
		}
		switch v := claims[name].(type) {
		case string:
			return strings.TrimSpace(v)
		case []interface{}:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

// GenerateToken signs a token for p, used by tooling and tests
func (a *Authenticator) GenerateToken(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": p.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if a.audience != "" {
		claims["aud"] = a.audience
	}
	claim := a.roleClaim
	if claim == "" {
		claim = "role"
	}
	claims[claim] = p.Role

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
