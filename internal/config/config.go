package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Retrieval   RetrievalConfig           `json:"retrieval"`
	Guardrails  GuardrailsConfig          `json:"guardrails"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Provider selects the completion backend (openai, claude, gemini).
	Provider      string `json:"provider"`
	TokenTTLHours int    `json:"token_ttl_hours"`
	// DisableStreaming turns off the SSE/websocket delta paths; those
	// transports then deliver the answer in the terminal event only.
	DisableStreaming bool `json:"disable_streaming"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// Disabled skips the redis client entirely; caching and the distributed
	// turn lock degrade to in-process behavior.
	Disabled bool `json:"disabled"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type RetrievalConfig struct {
	// Mode is "index" for the vector index endpoint or "websearch" for the
	// search-engine backed retriever.
	Mode            string `json:"mode"`
	Endpoint        string `json:"endpoint"`
	APIKey          string `json:"api_key"`
	Namespace       string `json:"namespace"`
	TopK            int    `json:"top_k"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes"`
}

type GuardrailsConfig struct {
	// ExposeBlockedTurns controls whether a blocked turn surfaces to clients
	// as a reconstructed user/assistant pair or is hidden entirely.
	ExposeBlockedTurns bool `json:"expose_blocked_turns"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.Provider == "" {
		c.BasicConfig.Provider = "openai"
	}
	if c.BasicConfig.TokenTTLHours <= 0 {
		c.BasicConfig.TokenTTLHours = 24
	}
	if c.Retrieval.Mode == "" {
		c.Retrieval.Mode = "index"
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.Namespace == "" {
		c.Retrieval.Namespace = "__default__"
	}
	if c.Retrieval.CacheTTLMinutes <= 0 {
		c.Retrieval.CacheTTLMinutes = 30
	}
}
