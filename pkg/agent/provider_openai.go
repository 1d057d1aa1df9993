package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider streams chat completions from OpenAI
type OpenAIProvider struct {
	client openai.Client
	opts   CompletionOptions
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, baseURL string, opts CompletionOptions) *OpenAIProvider {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Complete streams a completion of prompt sent as a single user message.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(p.opts.Temperature),
	}
	if p.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.opts.MaxTokens))
	}
	if len(p.opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: p.opts.Stop}
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			b.WriteString(delta)
			if onFragment != nil {
				onFragment(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), p.classify(err)
	}
	return b.String(), nil
}

func (p *OpenAIProvider) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return capabilityFromStatus(p.Provider(), apiErr.StatusCode, err)
	}
	return &CapabilityError{Kind: CapabilityUnreachable, Provider: p.Provider(), Err: err}
}
