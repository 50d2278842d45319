package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixtureReturnsResponsesInOrder(t *testing.T) {
	f := &Fixture{Responses: []string{"one", "two"}}

	out, err := f.Complete(context.Background(), "first prompt")
	require.NoError(t, err)
	require.Equal(t, "one", out)

	out, err = f.Complete(context.Background(), "second prompt")
	require.NoError(t, err)
	require.Equal(t, "two", out)

	require.Equal(t, []string{"first prompt", "second prompt"}, f.Prompts)
}

func TestFixtureExhaustedReturnsEmpty(t *testing.T) {
	f := &Fixture{Responses: []string{"only"}}

	_, _ = f.Complete(context.Background(), "p1")
	out, err := f.Complete(context.Background(), "p2")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestFixtureErrShortCircuits(t *testing.T) {
	f := &Fixture{Err: errors.New("boom"), Responses: []string{"unused"}}

	_, err := f.Complete(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}
