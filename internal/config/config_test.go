package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{
			ID:       "test-profile",
			Provider: "openai",
			APIKey:   "sk-test123",
			Priority: 1,
		},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.Agent.RunTimeout)
	assert.Equal(t, 4, cfg.Retrieval.K)
	assert.Equal(t, 1000, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 100, cfg.Retrieval.ChunkOverlap)
	assert.Equal(t, "business_data.db", cfg.Store.Path)
	assert.Equal(t, "host", cfg.Sandbox.Runtime)
	assert.Less(t, cfg.Tools.Timeouts.Execute, cfg.Tools.Timeouts.Query)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing API keys", func(t *testing.T) {
		cfg := DefaultConfig()

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no AI credentials")
	})

	t.Run("invalid provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].Provider = "gemini"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid provider")
	})

	t.Run("profile missing key", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].APIKey = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "api_key is required")
	})

	t.Run("zero iterations", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.MaxIterations = 0

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_iterations")
	})

	t.Run("overlap not smaller than chunk", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retrieval.ChunkOverlap = cfg.Retrieval.ChunkSize

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "chunk_overlap")
	})

	t.Run("unknown sandbox runtime", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Runtime = "firecracker"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox runtime")
	})
}

func TestEmbeddingAPIKey(t *testing.T) {
	t.Run("falls back to openai profile", func(t *testing.T) {
		cfg := validConfig()
		assert.Equal(t, "sk-test123", cfg.EmbeddingAPIKey())
	})

	t.Run("explicit key wins", func(t *testing.T) {
		cfg := validConfig()
		cfg.Retrieval.APIKey = "sk-embed"
		assert.Equal(t, "sk-embed", cfg.EmbeddingAPIKey())
	})

	t.Run("empty without openai profile", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].Provider = "anthropic"
		assert.Empty(t, cfg.EmbeddingAPIKey())
	})
}
