package llm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/craftwork-ai/loom/pkg/config"
)

// AnthropicClient streams completions from the Claude Messages API.
type AnthropicClient struct {
	client sdk.Client
}

// NewAnthropicClient creates an Anthropic-backed Client.
func NewAnthropicClient(pc config.ProviderConfig) (*AnthropicClient, error) {
	if pc.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(pc.APIKey)}
	if pc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(pc.BaseURL))
	}
	return &AnthropicClient{client: sdk.NewClient(opts...)}, nil
}

// Provider returns "anthropic".
func (c *AnthropicClient) Provider() string { return config.ProviderAnthropic }

// Stream starts a streaming Messages call. Text deltas are forwarded as they
// arrive; usage is emitted from message_start (input side) and the final
// message_delta (output side).
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		params := sdk.MessageNewParams{
			Model:     sdk.Model(req.Model),
			MaxTokens: int64(req.MaxOutputTokens),
			Messages:  buildAnthropicMessages(req.Messages),
		}
		if req.SystemPrompt != "" {
			params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
		}
		if req.Temperature > 0 {
			params.Temperature = sdk.Float(req.Temperature)
		}

		stream := c.client.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		usage := Usage{}
		for stream.Next() {
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.MessageStartEvent:
				usage.InputTokens = int(ev.Message.Usage.InputTokens)
				usage.CacheReadTokens = int(ev.Message.Usage.CacheReadInputTokens)
				usage.CacheWriteTokens = int(ev.Message.Usage.CacheCreationInputTokens)
			case sdk.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
					select {
					case chunks <- Chunk{Delta: delta.Text}:
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			case sdk.MessageDeltaEvent:
				usage.OutputTokens = int(ev.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("anthropic stream: %w", err)
			return
		}

		u := usage
		select {
		case chunks <- Chunk{Usage: &u}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()

	return chunks, errs
}

func buildAnthropicMessages(messages []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(block))
		default:
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}
