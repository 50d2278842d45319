package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/orchestra/internal/a2a"
	"github.com/kadirpekel/orchestra/internal/capability"
	"github.com/kadirpekel/orchestra/internal/httpclient"
	"github.com/kadirpekel/orchestra/internal/llm"
	"github.com/kadirpekel/orchestra/internal/registry"
	"github.com/kadirpekel/orchestra/internal/registrystore"
	"github.com/kadirpekel/orchestra/internal/router"
)

// ExplainCmd runs routing offline against the configured registry
// document, without dispatching to any agent. Operator debug tooling for
// the router: a router's decision should be inspectable.
type ExplainCmd struct {
	Query string `arg:"" help:"Query to route."`
	LastAgent string `help:"Simulate a prior agent call for context bias."`
}

func (c *ExplainCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	store := registrystore.New(cfg.RegistryConfigPath)
	idx := capability.New(cfg.Stage1Threshold, cfg.Stage1K)
	cards := a2a.NewCache(a2a.NewFetcher(httpclient.New()), cfg.AgentCardCacheTTL())

	reg, err := registry.New(store, idx, cards, registry.Options{
			MaliciousPatterns: cfg.MaliciousPatterns,
	})
	if err != nil {
		return err
	}

	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient = llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	} else {
		llmClient = &llm.Fixture{}
	}

	rt := router.New(idx, reg, llmClient, cfg.ContextBiasBonus)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := rt.Explain(ctx, c.Query, c.LastAgent)
	if err != nil {
		return err
	}

	fmt.Println("stage 1 scores:")
	for _, s := range res.Stage1Scores {
		fmt.Printf(" %-24s %.3f\n", s.Name, s.Score)
	}
	if res.Stage2Prompt != "" {
		fmt.Println("\nstage 2 prompt:")
		fmt.Println(res.Stage2Prompt)
	}
	fmt.Println("\nselected:")
	for _, a := range res.Selected {
		fmt.Printf(" %s\n", a.Name)
	}
	return nil
}
