package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicProvider streams messages from Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
	opts   CompletionOptions
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, baseURL string, opts CompletionOptions) *AnthropicProvider {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(reqOpts...),
		opts:   opts,
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Complete streams a completion of prompt sent as a single user message.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	maxTokens := int64(p.opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.opts.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature:   anthropic.Float(p.opts.Temperature),
		StopSequences: p.opts.Stop,
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				b.WriteString(delta.Text)
				if onFragment != nil {
					onFragment(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), p.classify(err)
	}
	return b.String(), nil
}

func (p *AnthropicProvider) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return capabilityFromStatus(p.Provider(), apiErr.StatusCode, err)
	}
	return &CapabilityError{Kind: CapabilityUnreachable, Provider: p.Provider(), Err: err}
}
