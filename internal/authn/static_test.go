package authn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestra/internal/orcherr"
)

func TestStaticVerifierKnownBearer(t *testing.T) {
	v := StaticVerifier{"tok-a": Claims{UserID: "alice", Role: "admin"}}

	claims, err := v.Verify(context.Background(), "tok-a")
	require.NoError(t, err)
	require.Equal(t, "alice", claims.UserID)
	require.Equal(t, "admin", claims.Role)
}

func TestStaticVerifierUnknownBearer(t *testing.T) {
	v := StaticVerifier{}

	_, err := v.Verify(context.Background(), "tok-missing")
	require.Error(t, err)
	require.True(t, errors.Is(err, orcherr.ErrUnauthorized))
}

func TestStaticVerifierEmptyRejectsEverything(t *testing.T) {
	v := StaticVerifier{}

	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
}
