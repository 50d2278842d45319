package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestra/internal/a2a"
	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/capability"
	"github.com/kadirpekel/orchestra/internal/httpclient"
	"github.com/kadirpekel/orchestra/internal/orcherr"
	"github.com/kadirpekel/orchestra/internal/registrystore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store := registrystore.New(filepath.Join(t.TempDir(), "registry.yaml"))
	idx := capability.New(0.1, 10)
	cache := a2a.NewCache(a2a.NewFetcher(httpclient.New()), 0)
	reg, err := New(store, idx, cache, Options{})
	require.NoError(t, err)
	return reg
}

func TestRegisterLocalDuplicateName(t *testing.T) {
	reg := newTestRegistry(t)
	ref := agentmodel.ConstructorRef{ModulePath: "pkg", SymbolName: "New"}

	_, err := reg.RegisterLocal("TicketsAgent", "handles tickets", agentmodel.Capability{Domains: []string{"tickets"}}, ref, nil)
	require.NoError(t, err)

	_, err = reg.RegisterLocal("TicketsAgent", "dup", agentmodel.Capability{}, ref, nil)
	require.ErrorIs(t, err, orcherr.ErrDuplicateName)
}

func TestRegisterLocalEnabledImmediately(t *testing.T) {
	reg := newTestRegistry(t)
	ref := agentmodel.ConstructorRef{ModulePath: "pkg", SymbolName: "New"}
	rec, err := reg.RegisterLocal("TicketsAgent", "handles tickets", agentmodel.Capability{}, ref, nil)
	require.NoError(t, err)
	require.True(t, rec.Enabled)
	require.True(t, rec.Dispatchable())
}

func newCardServer(t *testing.T, tools []a2a.Tool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				card := a2a.AgentCard{
					Name: "AcmeAgent",
					Description: "acme's agent",
					Tags: []string{"finops"},
					Capabilities: a2a.Capabilities{Tools: tools},
					Endpoints: a2a.Endpoints{Invoke: "https://acme.example/invoke"},
				}
				_ = json.NewEncoder(w).Encode(card)
	}))
}

func TestRegisterRemotePendingByDefault(t *testing.T) {
	srv := newCardServer(t, []a2a.Tool{{Name: "get_invoice", Description: "fetch an invoice"}})
	defer srv.Close()

	reg := newTestRegistry(t)
	rec, err := reg.RegisterRemote(context.Background(), srv.URL, nil,
		agentmodel.Provider{Name: "Acme"}, agentmodel.AuthConfig{Type: agentmodel.AuthBearer}, nil)
	require.NoError(t, err)
	require.Equal(t, agentmodel.StatusPending, rec.Status)
	require.False(t, rec.Enabled)
	require.Contains(t, rec.Capabilities.Operations, "get")

	listed := reg.List(true, nil)
	require.Empty(t, listed, "pending remote agent must be excluded from enabled_only listing")
}

func TestRegisterRemoteMaliciousPatternRejected(t *testing.T) {
	srv := newCardServer(t, []a2a.Tool{{Name: "drop_table_users", Description: "drops users"}})
	defer srv.Close()

	reg := newTestRegistry(t)
	rec, err := reg.RegisterRemote(context.Background(), srv.URL, nil,
		agentmodel.Provider{Name: "Acme"}, agentmodel.AuthConfig{Type: agentmodel.AuthNone}, nil)

	require.Error(t, err)
	require.ErrorIs(t, err, orcherr.ErrCardInvalid)
	require.Equal(t, agentmodel.StatusRejected, rec.Status)
}

func TestSetStatusIllegalTransition(t *testing.T) {
	srv := newCardServer(t, []a2a.Tool{{Name: "get_invoice", Description: "fetch an invoice"}})
	defer srv.Close()

	reg := newTestRegistry(t)
	rec, err := reg.RegisterRemote(context.Background(), srv.URL, nil,
		agentmodel.Provider{}, agentmodel.AuthConfig{}, nil)
	require.NoError(t, err)

	_, err = reg.SetStatus(rec.Name, agentmodel.StatusSuspended)
	require.ErrorIs(t, err, orcherr.ErrIllegalTransition)

	_, err = reg.SetStatus(rec.Name, agentmodel.StatusApproved)
	require.NoError(t, err)

	// idempotent no-op
	again, err := reg.SetStatus(rec.Name, agentmodel.StatusApproved)
	require.NoError(t, err)
	require.Equal(t, agentmodel.StatusApproved, again.Status)
}

func TestSetStatusApprovedMakesRemoteDispatchable(t *testing.T) {
	srv := newCardServer(t, []a2a.Tool{{Name: "get_invoice", Description: "fetch an invoice"}})
	defer srv.Close()

	reg := newTestRegistry(t)
	rec, err := reg.RegisterRemote(context.Background(), srv.URL, nil,
		agentmodel.Provider{}, agentmodel.AuthConfig{}, nil)
	require.NoError(t, err)
	require.False(t, rec.Dispatchable(), "pending remote agent must not be dispatchable")

	approved, err := reg.SetStatus(rec.Name, agentmodel.StatusApproved)
	require.NoError(t, err)
	require.True(t, approved.Enabled)
	require.True(t, approved.Dispatchable())

	listed := reg.List(true, nil)
	require.Len(t, listed, 1)
	require.Equal(t, rec.Name, listed[0].Name)
}

func TestSetEnabledIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	ref := agentmodel.ConstructorRef{ModulePath: "pkg", SymbolName: "New"}
	rec, err := reg.RegisterLocal("A", "a", agentmodel.Capability{}, ref, nil)
	require.NoError(t, err)
	require.True(t, rec.Enabled)

	again, err := reg.SetEnabled("A", true)
	require.NoError(t, err)
	require.True(t, again.Enabled)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	ref := agentmodel.ConstructorRef{ModulePath: "pkg", SymbolName: "New"}
	_, err := reg.RegisterLocal("A", "a", agentmodel.Capability{}, ref, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Delete("A"))
	_, err = reg.Get("A")
	require.ErrorIs(t, err, orcherr.ErrNotFound)
}

func TestRegistryColdStartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	store := registrystore.New(path)
	idx := capability.New(0.1, 10)
	cache := a2a.NewCache(a2a.NewFetcher(httpclient.New()), 0)

	reg, err := New(store, idx, cache, Options{})
	require.NoError(t, err)
	ref := agentmodel.ConstructorRef{ModulePath: "pkg", SymbolName: "New"}
	_, err = reg.RegisterLocal("A", "a", agentmodel.Capability{Domains: []string{"x"}}, ref, []string{"t1"})
	require.NoError(t, err)

	reloaded, err := New(registrystore.New(path), capability.New(0.1, 10), cache, Options{})
	require.NoError(t, err)
	rec, err := reloaded.Get("A")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, rec.Tags)
	require.Equal(t, []string{"x"}, rec.Capabilities.Domains)
}

func TestDiscoverPreviewDoesNotPersist(t *testing.T) {
	srv := newCardServer(t, []a2a.Tool{{Name: "get_invoice", Description: "fetch an invoice"}})
	defer srv.Close()

	reg := newTestRegistry(t)
	ext, err := reg.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "AcmeAgent", ext.Name)
	require.False(t, ext.Rejected)

	require.Empty(t, reg.List(false, nil))
}
