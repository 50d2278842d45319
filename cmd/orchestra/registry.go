package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/registrystore"
)

// RegistryCmd groups offline operator tools over the registry document:
// an operator CLI mirroring the registration API for scripted/CI use.
type RegistryCmd struct {
	Migrate MigrateCmd `cmd:"" help:"Import a legacy flat agent list into the registry document."`
	List ListCmd `cmd:"" help:"List every agent in the registry document."`
}

// legacyAgent is the flat shape used by pre-registry deployments: one
// YAML list of name/description/domains tuples with no lifecycle state.
type legacyAgent struct {
	Name string `yaml:"name"`
	Description string `yaml:"description"`
	Domains []string `yaml:"domains"`
	Keywords []string `yaml:"keywords,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// MigrateCmd converts a legacy flat agent list into a registrystore.Document,
// defaulting every imported remote agent to StatusPending so operators
// must explicitly approve traffic after a migration.
type MigrateCmd struct {
	From string `required:"" help:"Path to the legacy agent list YAML file."`
	To string `help:"Destination registry document path (default: the configured registry_config_path)."`
}

func (c *MigrateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	dest := c.To
	if dest == "" {
		dest = cfg.RegistryConfigPath
	}

	raw, err := os.ReadFile(c.From)
	if err != nil {
		return fmt.Errorf("orchestra: read legacy agent file: %w", err)
	}

	var legacy []legacyAgent
	if err := yaml.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("orchestra: parse legacy agent file: %w", err)
	}

	store := registrystore.New(dest)
	doc, err := store.Load()
	if err != nil {
		return fmt.Errorf("orchestra: load destination registry: %w", err)
	}

	now := time.Now()
	imported := 0
	for _, a := range legacy {
		if _, exists := doc.Agents[a.Name]; exists {
			fmt.Printf("skip %s: already present\n", a.Name)
			continue
		}
		rec := agentmodel.AgentRecord{
			Name: a.Name,
			Description: a.Description,
			Kind: agentmodel.KindRemote,
			Enabled: false,
			Capabilities: agentmodel.Capability{
				Domains: a.Domains,
				Keywords: a.Keywords,
			},
			RegisteredAt: now,
			AgentCardURL: a.Endpoint,
			Status: agentmodel.StatusPending,
		}
		doc.Agents[a.Name] = rec
		imported++
	}

	doc.Version = registrystore.SchemaVersion
	if err := store.Save(doc); err != nil {
		return fmt.Errorf("orchestra: save migrated registry: %w", err)
	}

	fmt.Printf("imported %d agent(s) into %s (all pending approval)\n", imported, dest)
	return nil
}

// ListCmd prints every agent in the registry document, bypassing the
// running server (useful when the server is down or during migration).
type ListCmd struct{}

func (c *ListCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	store := registrystore.New(cfg.RegistryConfigPath)
	doc, err := store.Load()
	if err != nil {
		return err
	}
	for name, rec := range doc.Agents {
		fmt.Printf("%-24s kind=%-7s enabled=%-5t status=%s\n", name, rec.Kind, rec.Enabled, rec.Status)
	}
	return nil
}
