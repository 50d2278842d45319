// Package authn verifies the caller's bearer token for the Orchestrator
// (C8)'s auth step using an auto-refreshing JWKS endpoint: the
// identity/token-issuing service is treated as an external collaborator,
// and verification never requires network access to it per request.
package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/orchestra/internal/orcherr"
)

// Claims is the authenticated identity extracted from a verified bearer.
type Claims struct {
	UserID string
	Role string
}

// Verifier verifies a bearer token and extracts Claims.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (Claims, error)
}

// JWKSVerifier validates JWTs against an auto-refreshing JWKS endpoint.
type JWKSVerifier struct {
	jwksURL string
	issuer string
	audience string
	cache *jwk.Cache
}

// NewJWKSVerifier registers jwksURL for auto-refresh (at most every 15 minutes)
// and performs an initial fetch so misconfiguration surfaces at startup
// rather than on the first request.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer, audience string) (*JWKSVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("authn: register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("authn: initial jwks fetch: %w", err)
	}
	return &JWKSVerifier{jwksURL: jwksURL, issuer: issuer, audience: audience, cache: cache}, nil
}

// Verify validates bearer's signature, expiry, issuer, and audience, and
// extracts user_id (from the "sub" claim) and role.
func (v *JWKSVerifier) Verify(ctx context.Context, bearer string) (Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return Claims{}, fmt.Errorf("authn: fetch jwks: %w: %w", err, orcherr.ErrUnauthorized)
	}

	token, err := jwt.Parse([]byte(bearer),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("authn: invalid bearer: %w: %w", err, orcherr.ErrUnauthorized)
	}

	claims := Claims{UserID: token.Subject}
	if role, ok := token.Get("role"); ok {
		if roleStr, ok := role.(string); ok {
			claims.Role = roleStr
		}
	}
	return claims, nil
}

var _ Verifier = (*JWKSVerifier)(nil)
