package agent

import (
	"context"
	"fmt"
	"sort"
)

// Completer is the reasoning capability: it completes prompt, passing each
// streamed fragment to onFragment, and returns the full text.
type Completer interface {
	Complete(ctx context.Context, prompt string, onFragment func(string)) (string, error)
}

// LLMProvider is a Completer backed by one provider account.
type LLMProvider interface {
	Completer

	// Provider returns the provider name
	Provider() string
}

// CompletionOptions are the sampling settings shared by all providers.
type CompletionOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile, opts CompletionOptions) (LLMProvider, error)
}

// ProviderFactory creates the built-in providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) NewProvider(profile AuthProfile, opts CompletionOptions) (LLMProvider, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("profile %s has no api key", profile.ID)
	}
	if profile.Model != "" {
		opts.Model = profile.Model
	}
	switch profile.Provider {
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL, opts), nil
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL, opts), nil
	case "openrouter":
		return NewOpenRouterProvider(profile.APIKey, profile.BaseURL, opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
