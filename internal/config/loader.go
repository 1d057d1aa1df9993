package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (INSIGHT_AGENT_MAX_ITERATIONS, ...)
const EnvPrefix = "INSIGHT"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFiles   []string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFiles:   defaultEnvFiles(),
	}
}

// WithEnvFiles replaces the dotenv files read before the config file.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// defaultEnvFiles returns .env followed by .env.<APP_ENV>.
func defaultEnvFiles() []string {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "dev"
	}
	return []string{".env", ".env." + appEnv}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	// Later files override earlier ones; missing files are fine.
	for i, f := range l.envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		var err error
		if i == 0 {
			err = godotenv.Load(f)
		} else {
			err = godotenv.Overload(f)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, DefaultConfig())

	configPath := l.GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if l.configPath != "" {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvProfiles(cfg)

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".insight")
	}

	if cfg.Insight.ReportsDir == "" {
		cfg.Insight.ReportsDir = filepath.Join(cfg.DataDir, "reports")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".insight", "insight.yaml")
}

// bindDefaults registers every leaf key so AutomaticEnv can override values
// that are absent from the config file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("agent.model", cfg.Agent.Model)
	v.SetDefault("agent.temperature", cfg.Agent.Temperature)
	v.SetDefault("agent.max_tokens", cfg.Agent.MaxTokens)
	v.SetDefault("agent.max_iterations", cfg.Agent.MaxIterations)
	v.SetDefault("agent.run_timeout", cfg.Agent.RunTimeout)
	v.SetDefault("agent.max_retries", cfg.Agent.MaxRetries)
	v.SetDefault("tools.timeouts.query", cfg.Tools.Timeouts.Query)
	v.SetDefault("tools.timeouts.retrieve", cfg.Tools.Timeouts.Retrieve)
	v.SetDefault("tools.timeouts.execute", cfg.Tools.Timeouts.Execute)
	v.SetDefault("tools.max_rows", cfg.Tools.MaxRows)
	v.SetDefault("tools.max_observation_bytes", cfg.Tools.MaxObservationBytes)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.seed", cfg.Store.Seed)
	v.SetDefault("retrieval.k", cfg.Retrieval.K)
	v.SetDefault("retrieval.embedding_model", cfg.Retrieval.EmbeddingModel)
	v.SetDefault("retrieval.api_key", cfg.Retrieval.APIKey)
	v.SetDefault("retrieval.db_path", cfg.Retrieval.DBPath)
	v.SetDefault("retrieval.chunk_size", cfg.Retrieval.ChunkSize)
	v.SetDefault("retrieval.chunk_overlap", cfg.Retrieval.ChunkOverlap)
	v.SetDefault("sandbox.runtime", cfg.Sandbox.Runtime)
	v.SetDefault("sandbox.python", cfg.Sandbox.Python)
	v.SetDefault("sandbox.docker_image", cfg.Sandbox.DockerImage)
	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.shared_secret", cfg.Gateway.SharedSecret)
	v.SetDefault("insight.enabled", cfg.Insight.Enabled)
	v.SetDefault("insight.schedule", cfg.Insight.Schedule)
	v.SetDefault("insight.reports_dir", cfg.Insight.ReportsDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("data_dir", cfg.DataDir)
}

// applyEnvProfiles adds a provider profile for each well-known API key
// variable when no profile for that provider is configured.
func applyEnvProfiles(cfg *Config) {
	known := []struct {
		provider string
		env      string
		baseURL  string
	}{
		{"openai", "OPENAI_API_KEY", ""},
		{"anthropic", "ANTHROPIC_API_KEY", ""},
		{"openrouter", "OPENROUTER_API_KEY", "https://openrouter.ai/api/v1"},
	}

	for i, k := range known {
		key := os.Getenv(k.env)
		if key == "" || hasProvider(cfg, k.provider) {
			continue
		}
		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       k.provider + "-env",
			Provider: k.provider,
			APIKey:   key,
			BaseURL:  k.baseURL,
			Priority: 100 + i,
		})
	}
}

func hasProvider(cfg *Config, provider string) bool {
	for _, p := range cfg.AI.Profiles {
		if p.Provider == provider {
			return true
		}
	}
	return false
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
