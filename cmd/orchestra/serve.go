package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kadirpekel/orchestra/internal/a2a"
	"github.com/kadirpekel/orchestra/internal/authn"
	"github.com/kadirpekel/orchestra/internal/capability"
	"github.com/kadirpekel/orchestra/internal/decomposer"
	"github.com/kadirpekel/orchestra/internal/httpapi"
	"github.com/kadirpekel/orchestra/internal/httpclient"
	"github.com/kadirpekel/orchestra/internal/llm"
	"github.com/kadirpekel/orchestra/internal/logging"
	"github.com/kadirpekel/orchestra/internal/observability"
	"github.com/kadirpekel/orchestra/internal/orchestrator"
	"github.com/kadirpekel/orchestra/internal/registry"
	"github.com/kadirpekel/orchestra/internal/registrystore"
	"github.com/kadirpekel/orchestra/internal/router"
	"github.com/kadirpekel/orchestra/internal/sessionstore"
)

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Addr string `help:"Override the configured HTTP listen address."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	lock, err := acquireProcessLock(cfg.RegistryConfigPath + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfig{
		Enabled: cfg.TracingEnabled,
		Exporter: cfg.TracingExporter,
		Endpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("orchestra: init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	tracer := observability.Tracer("orchestra")

	store := registrystore.New(cfg.RegistryConfigPath)
	idx := capability.New(cfg.Stage1Threshold, cfg.Stage1K)

	httpc := httpclient.New(httpclient.WithMaxRetries(2))
	cards := a2a.NewCache(a2a.NewFetcher(httpc), cfg.AgentCardCacheTTL())

	reg, err := registry.New(store, idx, cards, registry.Options{
			CardFetchTimeout: cfg.AgentCardFetchTimeout(),
			MaliciousPatterns: cfg.MaliciousPatterns,
			RequireTLSForCards: cfg.RequireTLSForCards && !cfg.AllowInsecureCards,
	})
	if err != nil {
		return fmt.Errorf("orchestra: build registry: %w", err)
	}

	sessions, err := sessionstore.Open(cfg.SessionDBDriver, cfg.SessionDBPath)
	if err != nil {
		return fmt.Errorf("orchestra: open session store: %w", err)
	}
	defer sessions.Close()

	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient = llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	} else {
		logger.Warn("no anthropic_api_key configured, routing/decomposition will use the deterministic fixture")
		llmClient = &llm.Fixture{}
	}

	rt := router.New(idx, reg, llmClient, cfg.ContextBiasBonus)
	dec := decomposer.New(llmClient)

	var verifier authn.Verifier
	if cfg.AuthJWKSURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		verifier, err = authn.NewJWKSVerifier(ctx, cfg.AuthJWKSURL, cfg.AuthIssuer, cfg.AuthAudience)
		if err != nil {
			return fmt.Errorf("orchestra: build jwks verifier: %w", err)
		}
	} else {
		logger.Warn("no auth_jwks_url configured, falling back to an empty static verifier (every bearer rejected)")
		verifier = authn.StaticVerifier{}
	}

	invoker := a2a.NewClient(httpc)

	orch := orchestrator.New(verifier, sessions, reg, rt, dec, invoker, cards, orchestrator.Config{
			RequestTimeout: cfg.OrchestratorTimeout(),
			AgentInvokeTimeout: cfg.AgentInvokeTimeout(),
			ActivityWindow: cfg.SessionActivityWindow(),
			PerAgentConcurrency: cfg.PerAgentConcurrency,
		}, logger, tracer, metrics)

	srv := httpapi.New(reg, sessions, orch, rt, verifier, logger, tracer, metrics)

	addr := cfg.HTTPAddr
	if c.Addr != "" {
		addr = c.Addr
	}

	httpServer := &http.Server{
		Addr: addr,
		Handler: srv.Routes(),
		ReadTimeout: 30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	ctx, cancel := withCancelOnSignal(context.Background())
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("orchestra server starting", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
