package agent

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultOpenRouterBaseURL is the OpenAI-compatible OpenRouter endpoint.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider streams chat completions from any OpenAI-compatible
// endpoint, OpenRouter by default.
type OpenRouterProvider struct {
	client *goopenai.Client
	opts   CompletionOptions
}

// NewOpenRouterProvider creates a provider for an OpenAI-compatible endpoint
func NewOpenRouterProvider(apiKey, baseURL string, opts CompletionOptions) *OpenRouterProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}
	cfg.BaseURL = baseURL
	return &OpenRouterProvider{
		client: goopenai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

// Provider returns the provider name
func (p *OpenRouterProvider) Provider() string {
	return "openrouter"
}

// Complete streams a completion of prompt sent as a single user message.
func (p *OpenRouterProvider) Complete(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	temperature := float32(p.opts.Temperature)
	if temperature == 0 {
		// a zero value is omitted from the request, which means the server default
		temperature = math.SmallestNonzeroFloat32
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model: p.opts.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   p.opts.MaxTokens,
		Stop:        p.opts.Stop,
		Stream:      true,
	})
	if err != nil {
		return "", p.classify(err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b.String(), p.classify(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			b.WriteString(delta)
			if onFragment != nil {
				onFragment(delta)
			}
		}
	}
	return b.String(), nil
}

func (p *OpenRouterProvider) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return capabilityFromStatus(p.Provider(), apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return capabilityFromStatus(p.Provider(), reqErr.HTTPStatusCode, err)
	}
	return &CapabilityError{Kind: CapabilityUnreachable, Provider: p.Provider(), Err: err}
}
