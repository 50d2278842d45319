// Package config loads orchestrator configuration from built-in defaults,
// an optional YAML file, and ORCHESTRA_-prefixed environment variables, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable the orchestrator reads at startup.
type Config struct {
	RegistryConfigPath string `koanf:"registry_config_path"`
	SessionDBPath string `koanf:"session_db_path"`
	SessionDBDriver string `koanf:"session_db_driver"`
	RegistryServiceURL string `koanf:"registry_service_url"`
	AuthServiceURL string `koanf:"auth_service_url"`
	AuthJWKSURL string `koanf:"auth_jwks_url"`
	AuthIssuer string `koanf:"auth_issuer"`
	AuthAudience string `koanf:"auth_audience"`

	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	AnthropicModel string `koanf:"anthropic_model"`

	Stage1K int `koanf:"stage1_k"`
	Stage1Threshold float64 `koanf:"stage1_threshold"`
	ContextBiasBonus float64 `koanf:"context_bias_bonus"`

	AgentInvokeTimeoutMS int `koanf:"agent_invoke_timeout_ms"`
	AgentCardFetchTimeoutMS int `koanf:"agent_card_fetch_timeout_ms"`
	AuthVerifyTimeoutMS int `koanf:"auth_verify_timeout_ms"`
	LLMTimeoutMS int `koanf:"llm_timeout_ms"`
	DBWriteTimeoutMS int `koanf:"db_write_timeout_ms"`
	OrchestratorTimeoutMS int `koanf:"orchestrator_timeout_ms"`

	SessionActivityWindowHours int `koanf:"session_activity_window_hours"`
	SessionHardExpiryDays int `koanf:"session_hard_expiry_days"`

	PerAgentConcurrency int `koanf:"per_agent_concurrency"`
	DispatchQueueWaitMS int `koanf:"dispatch_queue_wait_ms"`

	AgentCardCacheTTLSeconds int `koanf:"agent_card_cache_ttl_seconds"`

	RequireTLSForCards bool `koanf:"require_tls_for_cards"`
	AllowInsecureCards bool `koanf:"allow_insecure_cards"`

	MaliciousPatterns []string `koanf:"malicious_patterns"`

	LogLevel string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	HTTPAddr string `koanf:"http_addr"`

	TracingEnabled bool `koanf:"tracing_enabled"`
	TracingExporter string `koanf:"tracing_exporter"`
	TracingEndpoint string `koanf:"tracing_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	ServiceName string `koanf:"service_name"`

	MetricsEnabled bool `koanf:"metrics_enabled"`
	MetricsNamespace string `koanf:"metrics_namespace"`
}

// defaults holds every configuration key's out-of-the-box value.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"registry_config_path": "registry.yaml",
		"session_db_path": "sessions.db",
		"session_db_driver": "sqlite3",

		"anthropic_model": "claude-sonnet-4-20250514",

		"stage1_k": 10,
		"stage1_threshold": 0.1,
		"context_bias_bonus": 0.15,

		"agent_invoke_timeout_ms": 30000,
		"agent_card_fetch_timeout_ms": 10000,
		"auth_verify_timeout_ms": 5000,
		"llm_timeout_ms": 15000,
		"db_write_timeout_ms": 2000,
		"orchestrator_timeout_ms": 60000,

		"session_activity_window_hours": 24,
		"session_hard_expiry_days": 30,

		"per_agent_concurrency": 16,
		"dispatch_queue_wait_ms": 5000,

		"agent_card_cache_ttl_seconds": 300,

		"require_tls_for_cards": true,
		"allow_insecure_cards": false,

		"malicious_patterns": []string{
			"drop table", "rm -rf", "privilege_escalation", "exec", "eval", "sudo", "delete_database",
		},

		"log_level": "info",
		"log_format": "json",

		"http_addr": ":8080",

		"tracing_enabled": false,
		"tracing_exporter": "stdout",
		"tracing_sampling_rate": 1.0,
		"service_name": "orchestra",

		"metrics_enabled": true,
		"metrics_namespace": "orchestra",
	}
}

// Load builds a Config from an optional YAML file overlaid with
// ORCHESTRA_-prefixed environment variables. It never overwrites
// variables already present in the process environment when loading a
// sibling.env file (godotenv.Load semantics).
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env file is not an error

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", configPath, err)
		}
	}

	envProvider := env.ProviderWithValue("ORCHESTRA_", ".", normalizeEnvKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

func normalizeEnvKey(key, value string) (string, interface{}) {
	return toSnake(key), value
}

// toSnake converts ORCHESTRA_SESSION_DB_PATH into session_db_path.
func toSnake(envKey string) string {
	s := envKey
	const prefix = "ORCHESTRA_"
	if len(s) > len(prefix) {
		s = s[len(prefix):]
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// AgentInvokeTimeout returns the configured per-agent A2A call timeout.
func (c *Config) AgentInvokeTimeout() time.Duration {
	return time.Duration(c.AgentInvokeTimeoutMS) * time.Millisecond
}

// AgentCardFetchTimeout returns the configured agent-card fetch timeout.
func (c *Config) AgentCardFetchTimeout() time.Duration {
	return time.Duration(c.AgentCardFetchTimeoutMS) * time.Millisecond
}

// AuthVerifyTimeout returns the configured bearer verification timeout.
func (c *Config) AuthVerifyTimeout() time.Duration {
	return time.Duration(c.AuthVerifyTimeoutMS) * time.Millisecond
}

// LLMTimeout returns the configured LLM call timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMS) * time.Millisecond
}

// DBWriteTimeout returns the configured database write timeout.
func (c *Config) DBWriteTimeout() time.Duration {
	return time.Duration(c.DBWriteTimeoutMS) * time.Millisecond
}

// OrchestratorTimeout returns the configured end-to-end request deadline.
func (c *Config) OrchestratorTimeout() time.Duration {
	return time.Duration(c.OrchestratorTimeoutMS) * time.Millisecond
}

// SessionActivityWindow returns the resumption window as a duration.
func (c *Config) SessionActivityWindow() time.Duration {
	return time.Duration(c.SessionActivityWindowHours) * time.Hour
}

// SessionHardExpiry returns the hard-expiry cleanup threshold.
func (c *Config) SessionHardExpiry() time.Duration {
	return time.Duration(c.SessionHardExpiryDays) * 24 * time.Hour
}

// AgentCardCacheTTL returns the configured agent-card cache TTL.
func (c *Config) AgentCardCacheTTL() time.Duration {
	return time.Duration(c.AgentCardCacheTTLSeconds) * time.Second
}

// DispatchQueueWait returns the bounded wait before a per-agent
// concurrency cap fails a dispatch fast.
func (c *Config) DispatchQueueWait() time.Duration {
	return time.Duration(c.DispatchQueueWaitMS) * time.Millisecond
}
