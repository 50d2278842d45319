package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/kadirpekel/orchestra/internal/orchestrator"
	"github.com/kadirpekel/orchestra/internal/registry"
	"github.com/kadirpekel/orchestra/internal/registrystore"
	"github.com/kadirpekel/orchestra/internal/router"
	"github.com/kadirpekel/orchestra/internal/sessionstore"
)

type stubLocalAgent struct{ response string }

func (s stubLocalAgent) Invoke(_ context.Context, _ string) (string, error) { return s.response, nil }

type stubInvoker struct{}

func (stubInvoker) Invoke(_ context.Context, _, _, _, _ string) a2a.InvokeResult {
	return a2a.InvokeResult{Success: true, Response: "remote says hi"}
}

type stubCards struct{}

func (stubCards) Get(_ context.Context, url string) (*a2a.AgentCard, error) {
	return &a2a.AgentCard{Endpoints: a2a.Endpoints{Invoke: url}}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
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
	auth := authn.StaticVerifier{
		"tok-user": authn.Claims{UserID: "vishal", Role: "user"},
		"tok-admin": authn.Claims{UserID: "root", Role: "admin"},
		"tok-other": authn.Claims{UserID: "someone-else", Role: "user"},
	}
	orch := orchestrator.New(auth, sessions, reg, rt, dec, stubInvoker{}, stubCards{}, orchestrator.Config{}, nil, nil, nil)

	srv := New(reg, sessions, orch, rt, auth, nil, nil, nil)
	return httptest.NewServer(srv.Routes())
}

func doJSON(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthEndpointNoAuth(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvokeWithoutBearerIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/invoke", "", map[string]string{"query": "show my tickets"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInvokeWithValidBearerDispatches(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/invoke", "tok-user", map[string]string{"query": "show my tickets"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "3 open tickets", out["response"])
	require.NotEmpty(t, out["session_id"])
}

func TestRegisterLocalRequiresAdminRole(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	body := map[string]any{
		"name": "FinOpsAgent",
		"description": "handles finance ops",
		"capabilities": map[string]any{"domains": []string{"finops"}},
		"constructor_ref": map[string]string{"module_path": "orchestra/local", "symbol_name": "FinOps"},
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/agents", "tok-user", body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp2 := doJSON(t, http.MethodPost, ts.URL+"/agents", "tok-admin", body)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
}

func TestSessionOwnershipEnforced(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	createResp := doJSON(t, http.MethodPost, ts.URL+"/sessions", "tok-user", nil)
	defer createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
	var created map[string]string
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&created))

	getAsOther := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+created["session_id"], "tok-other", nil)
	defer getAsOther.Body.Close()
	require.Equal(t, http.StatusUnauthorized, getAsOther.StatusCode)

	getAsAdmin := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+created["session_id"], "tok-admin", nil)
	defer getAsAdmin.Body.Close()
	require.Equal(t, http.StatusOK, getAsAdmin.StatusCode)
}
