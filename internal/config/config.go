// Package config loads the engine configuration from a JSON file with
// environment variable substitution. Invalid budget shares or milestone
// maps are startup errors; they never surface at request time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/pathlight/contextd/internal/engine"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig     `json:"server"`
	Engine        EngineConfig     `json:"engine"`
	Session       SessionConfig    `json:"session"`
	Knowledge     KnowledgeConfig  `json:"knowledge"`
	Database      DatabaseConfig   `json:"database"`
	Embedding     EmbeddingConfig  `json:"embedding"`
	Milestones    MilestonesConfig `json:"milestones"`
	MigrationsDir string           `json:"migrations_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// EngineConfig tunes the aggregator: the tokenizer model, the total budget
// and its split across layers, the fan-out deadline and the cache TTL.
type EngineConfig struct {
	Model            string             `json:"model"`
	TotalTokens      int                `json:"total_tokens"`
	LayerShares      map[string]float64 `json:"layer_shares"`
	FanoutDeadlineMS int                `json:"fanout_deadline_ms"`
	CacheTTLSeconds  int                `json:"cache_ttl_seconds"`
}

type SessionConfig struct {
	MaxTurns   int `json:"max_turns"`
	TTLMinutes int `json:"ttl_minutes"`
}

type KnowledgeConfig struct {
	Collection string  `json:"collection"`
	Limit      int     `json:"limit"`
	Threshold  float64 `json:"threshold"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
	// CacheURL, when set, backs the aggregate cache with Redis instead of
	// the in-process cache. It may point at the same instance as URL.
	CacheURL string `json:"cache_url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// MilestonesConfig declares the milestone catalog and its dependency map.
type MilestonesConfig struct {
	Catalog      []string            `json:"catalog"`
	Dependencies map[string][]string `json:"dependencies"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Engine.Model == "" {
		c.Engine.Model = "gpt-4o"
	}
	if c.Engine.TotalTokens == 0 {
		c.Engine.TotalTokens = engine.DefaultBudget().TotalTokens
	}
	if len(c.Engine.LayerShares) == 0 {
		c.Engine.LayerShares = map[string]float64{}
		for l, share := range engine.DefaultBudget().LayerShare {
			c.Engine.LayerShares[string(l)] = share
		}
	}
	if c.Engine.FanoutDeadlineMS == 0 {
		c.Engine.FanoutDeadlineMS = 3000
	}
	if c.Engine.CacheTTLSeconds == 0 {
		c.Engine.CacheTTLSeconds = 300
	}
	if c.Knowledge.Collection == "" {
		c.Knowledge.Collection = "knowledge_chunks"
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = "migrations"
	}
}

// Validate checks the budget invariants. Milestone graph validation happens
// when the graph is built, with the same fail-at-startup policy.
func (c *Config) Validate() error {
	_, err := c.Budget()
	return err
}

// Budget converts the configured shares into a validated engine budget.
func (c *Config) Budget() (engine.Budget, error) {
	b := engine.Budget{
		TotalTokens: c.Engine.TotalTokens,
		LayerShare:  make(map[engine.Layer]float64, len(c.Engine.LayerShares)),
	}
	for name, share := range c.Engine.LayerShares {
		b.LayerShare[engine.Layer(name)] = share
	}
	if err := b.Validate(); err != nil {
		return engine.Budget{}, err
	}
	return b, nil
}

// FanoutDeadline returns the shared retrieval deadline.
func (c *Config) FanoutDeadline() time.Duration {
	return time.Duration(c.Engine.FanoutDeadlineMS) * time.Millisecond
}

// CacheTTL returns the aggregate cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Engine.CacheTTLSeconds) * time.Second
}

// SessionTTL returns the session window inactivity TTL.
func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTLMinutes <= 0 {
		return 0 // store default applies
	}
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}
