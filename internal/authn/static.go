package authn

import (
	"context"
	"fmt"

	"github.com/kadirpekel/orchestra/internal/orcherr"
)

// StaticVerifier maps literal bearer strings to Claims, for tests and for
// local development when no JWKS endpoint is configured.
type StaticVerifier map[string]Claims

// Verify looks up bearer directly.
func (s StaticVerifier) Verify(_ context.Context, bearer string) (Claims, error) {
	claims, ok := s[bearer]
	if !ok {
		return Claims{}, fmt.Errorf("authn: unknown bearer: %w", orcherr.ErrUnauthorized)
	}
	return claims, nil
}

var _ Verifier = (StaticVerifier)(nil)
