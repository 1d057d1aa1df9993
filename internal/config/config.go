package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main insight configuration
type Config struct {
	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// AI providers
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Relational store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Semantic retrieval
	Retrieval RetrievalConfig `json:"retrieval" mapstructure:"retrieval"`

	// Code execution sandbox
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Daily insight reports
	Insight InsightConfig `json:"insight" mapstructure:"insight"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig controls the reasoning loop
type AgentConfig struct {
	Model         string        `json:"model" mapstructure:"model"`
	Temperature   float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int           `json:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`
	RunTimeout    time.Duration `json:"run_timeout" mapstructure:"run_timeout"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic, openrouter
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ToolsConfig holds per-kind timeouts and observation bounds
type ToolsConfig struct {
	Timeouts            ToolTimeouts `json:"timeouts" mapstructure:"timeouts"`
	MaxRows             int          `json:"max_rows" mapstructure:"max_rows"`
	MaxObservationBytes int          `json:"max_observation_bytes" mapstructure:"max_observation_bytes"`
}

// ToolTimeouts bounds a single tool invocation by tool kind
type ToolTimeouts struct {
	Query    time.Duration `json:"query" mapstructure:"query"`
	Retrieve time.Duration `json:"retrieve" mapstructure:"retrieve"`
	Execute  time.Duration `json:"execute" mapstructure:"execute"`
}

// StoreConfig points at the business database
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
	Seed bool   `json:"seed" mapstructure:"seed"`
}

// RetrievalConfig holds semantic index settings
type RetrievalConfig struct {
	K              int      `json:"k" mapstructure:"k"`
	EmbeddingModel string   `json:"embedding_model" mapstructure:"embedding_model"`
	APIKey         string   `json:"api_key" mapstructure:"api_key"`
	DBPath         string   `json:"db_path" mapstructure:"db_path"`
	ChunkSize      int      `json:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap   int      `json:"chunk_overlap" mapstructure:"chunk_overlap"`
	CorpusFiles    []string `json:"corpus_files" mapstructure:"corpus_files"`
}

// SandboxConfig defines how code snippets are executed
type SandboxConfig struct {
	Runtime     string `json:"runtime" mapstructure:"runtime"` // host, docker
	Python      string `json:"python" mapstructure:"python"`
	DockerImage string `json:"docker_image" mapstructure:"docker_image"`
	MaxMemoryMB int    `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	MaxCPU      int    `json:"max_cpu" mapstructure:"max_cpu"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int     `json:"port" mapstructure:"port"`
	Host         string  `json:"host" mapstructure:"host"`
	SharedSecret string  `json:"shared_secret" mapstructure:"shared_secret"`
	RateLimit    float64 `json:"rate_limit" mapstructure:"rate_limit"` // runs per second
	RateBurst    int     `json:"rate_burst" mapstructure:"rate_burst"`
}

// InsightConfig controls scheduled daily recap reports
type InsightConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Schedule   string `json:"schedule" mapstructure:"schedule"`
	ReportsDir string `json:"reports_dir" mapstructure:"reports_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:         "gpt-4o",
			Temperature:   0,
			MaxTokens:     2048,
			MaxIterations: 7,
			RunTimeout:    5 * time.Minute,
			MaxRetries:    3,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Tools: ToolsConfig{
			Timeouts: ToolTimeouts{
				Query:    15 * time.Second,
				Retrieve: 20 * time.Second,
				Execute:  10 * time.Second,
			},
			MaxRows:             50,
			MaxObservationBytes: 8 * 1024,
		},
		Store: StoreConfig{
			Path: "business_data.db",
			Seed: true,
		},
		Retrieval: RetrievalConfig{
			K:              4,
			EmbeddingModel: "text-embedding-3-small",
			DBPath:         ":memory:",
			ChunkSize:      1000,
			ChunkOverlap:   100,
		},
		Sandbox: SandboxConfig{
			Runtime:     "host",
			Python:      "python3",
			DockerImage: "python:3.12-slim",
			MaxMemoryMB: 256,
			MaxCPU:      1,
		},
		Gateway: GatewayConfig{
			Port:      8080,
			Host:      "127.0.0.1",
			RateLimit: 2,
			RateBurst: 5,
		},
		Insight: InsightConfig{
			Enabled:  false,
			Schedule: "0 23 * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

var validProviders = []string{"openai", "anthropic", "openrouter"}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		valid := false
		for _, vp := range validProviders {
			if profile.Provider == vp {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: openai, anthropic, openrouter)", profile.ID, profile.Provider)
		}
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.RunTimeout <= 0 {
		return fmt.Errorf("agent.run_timeout must be positive")
	}
	if c.Tools.Timeouts.Query <= 0 || c.Tools.Timeouts.Retrieve <= 0 || c.Tools.Timeouts.Execute <= 0 {
		return fmt.Errorf("tools.timeouts must all be positive")
	}
	if c.Retrieval.K < 1 {
		return fmt.Errorf("retrieval.k must be at least 1, got %d", c.Retrieval.K)
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Sandbox.Runtime != "host" && c.Sandbox.Runtime != "docker" {
		return fmt.Errorf("invalid sandbox runtime: %s", c.Sandbox.Runtime)
	}

	return nil
}

// EmbeddingAPIKey returns the key used for embeddings, falling back to the
// first OpenAI profile.
func (c *Config) EmbeddingAPIKey() string {
	if c.Retrieval.APIKey != "" {
		return c.Retrieval.APIKey
	}
	for _, p := range c.AI.Profiles {
		if p.Provider == "openai" {
			return p.APIKey
		}
	}
	return ""
}
