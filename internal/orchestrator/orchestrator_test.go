package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestra/internal/a2a"
	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/authn"
	"github.com/kadirpekel/orchestra/internal/capability"
	"github.com/kadirpekel/orchestra/internal/decomposer"
	"github.com/kadirpekel/orchestra/internal/httpclient"
	"github.com/kadirpekel/orchestra/internal/llm"
	"github.com/kadirpekel/orchestra/internal/registry"
	"github.com/kadirpekel/orchestra/internal/registrystore"
	"github.com/kadirpekel/orchestra/internal/router"
	"github.com/kadirpekel/orchestra/internal/sessionstore"
)

type stubLocalAgent struct {
	response string
	err error
}

func (s stubLocalAgent) Invoke(_ context.Context, _ string) (string, error) {
	return s.response, s.err
}

type stubInvoker struct {
	result a2a.InvokeResult
}

func (s stubInvoker) Invoke(_ context.Context, _, _, _, _ string) a2a.InvokeResult {
	return s.result
}

type stubCards struct{}

func (stubCards) Get(_ context.Context, url string) (*a2a.AgentCard, error) {
	return &a2a.AgentCard{Endpoints: a2a.Endpoints{Invoke: url}}, nil
}

func newTestHarness(t *testing.T) (*Orchestrator, *registry.Registry) {
	t.Helper()

	store := registrystore.New(filepath.Join(t.TempDir(), "registry.yaml"))
	idx := capability.New(0.1, 10)
	cache := a2a.NewCache(a2a.NewFetcher(httpclient.New()), 0)
	reg, err := registry.New(store, idx, cache, registry.Options{})
	require.NoError(t, err)

	registry.LocalConstructors["orchestra/local.TicketsAgent"] = func(map[string]any) (registry.LocalAgent, error) {
		return stubLocalAgent{response: "3 open tickets"}, nil
	}
	_, err = reg.RegisterLocal("TicketsAgent", "handles tickets",
		agentmodel.Capability{Domains: []string{"tickets"}},
		agentmodel.ConstructorRef{ModulePath: "orchestra/local", SymbolName: "TicketsAgent"}, nil)
	require.NoError(t, err)

	sessions, err := sessionstore.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	rt := router.New(idx, reg, &llm.Fixture{}, 0.15)
	dec := decomposer.New(&llm.Fixture{})
	auth := authn.StaticVerifier{"tok-vishal": authn.Claims{UserID: "vishal", Role: "user"}}

	o := New(auth, sessions, reg, rt, dec, stubInvoker{}, stubCards{}, Config{}, nil, nil, nil)
	return o, reg
}

func TestHandleSingleAgentSuccess(t *testing.T) {
	o, _ := newTestHarness(t)
	res, err := o.Handle(context.Background(), "show my tickets", "tok-vishal", "")
	require.NoError(t, err)
	require.Equal(t, "3 open tickets", res.Response)
	require.NotEmpty(t, res.SessionID)
}

func TestHandleUnauthorized(t *testing.T) {
	o, _ := newTestHarness(t)
	_, err := o.Handle(context.Background(), "show my tickets", "bad-token", "")
	require.Error(t, err)
}

func TestHandleEmptyRegistryReturnsFixedMessage(t *testing.T) {
	store := registrystore.New(filepath.Join(t.TempDir(), "registry.yaml"))
	idx := capability.New(0.1, 10)
	cache := a2a.NewCache(a2a.NewFetcher(httpclient.New()), 0)
	reg, err := registry.New(store, idx, cache, registry.Options{})
	require.NoError(t, err)

	sessions, err := sessionstore.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	rt := router.New(idx, reg, &llm.Fixture{}, 0.15)
	dec := decomposer.New(&llm.Fixture{})
	auth := authn.StaticVerifier{"tok": authn.Claims{UserID: "nobody"}}
	o := New(auth, sessions, reg, rt, dec, stubInvoker{}, stubCards{}, Config{}, nil, nil, nil)

	res, err := o.Handle(context.Background(), "anything", "tok", "")
	require.NoError(t, err)
	require.Equal(t, noAgentAvailableMessage, res.Response)
}

func TestHandleSessionResumption(t *testing.T) {
	o, _ := newTestHarness(t)
	first, err := o.Handle(context.Background(), "show my tickets", "tok-vishal", "")
	require.NoError(t, err)

	second, err := o.Handle(context.Background(), "show my tickets again", "tok-vishal", "")
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID, "active session within window must resume")
}

func TestHandlePartialFailureAnnotatesWithoutLeakingDetail(t *testing.T) {
	store := registrystore.New(filepath.Join(t.TempDir(), "registry.yaml"))
	idx := capability.New(0.1, 10)
	cache := a2a.NewCache(a2a.NewFetcher(httpclient.New()), 0)
	reg, err := registry.New(store, idx, cache, registry.Options{})
	require.NoError(t, err)

	registry.LocalConstructors["orchestra/local.Flaky"] = func(map[string]any) (registry.LocalAgent, error) {
		return stubLocalAgent{err: context.DeadlineExceeded}, nil
	}
	_, err = reg.RegisterLocal("FlakyAgent", "sometimes fails",
		agentmodel.Capability{Domains: []string{"tickets"}},
		agentmodel.ConstructorRef{ModulePath: "orchestra/local", SymbolName: "Flaky"}, nil)
	require.NoError(t, err)

	sessions, err := sessionstore.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	rt := router.New(idx, reg, &llm.Fixture{}, 0.15)
	dec := decomposer.New(&llm.Fixture{})
	auth := authn.StaticVerifier{"tok": authn.Claims{UserID: "u1"}}
	o := New(auth, sessions, reg, rt, dec, stubInvoker{}, stubCards{}, Config{}, nil, nil, nil)

	res, err := o.Handle(context.Background(), "show my tickets", "tok", "")
	require.NoError(t, err, "a single agent's failure must not fail the request")
	require.Contains(t, res.Response, "unable to respond")
	require.NotContains(t, res.Response, context.DeadlineExceeded.Error())
}
