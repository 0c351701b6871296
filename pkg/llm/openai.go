package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/craftwork-ai/loom/pkg/config"
)

// OpenAIClient streams completions from the Chat Completions API. BaseURL
// overrides make it work against OpenAI-compatible gateways.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates an OpenAI-backed Client.
func NewOpenAIClient(pc config.ProviderConfig) (*OpenAIClient, error) {
	if pc.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(pc.APIKey)
	if pc.BaseURL != "" {
		cfg.BaseURL = pc.BaseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}, nil
}

// Provider returns "openai".
func (c *OpenAIClient) Provider() string { return config.ProviderOpenAI }

// Stream starts a streaming chat completion. Usage arrives in the final
// stream response when IncludeUsage is set.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
		if req.SystemPrompt != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.SystemPrompt,
			})
		}
		for _, m := range req.Messages {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:         req.Model,
			Messages:      messages,
			MaxTokens:     req.MaxOutputTokens,
			Temperature:   float32(req.Temperature),
			Stream:        true,
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		})
		if err != nil {
			errs <- fmt.Errorf("openai stream: %w", err)
			return
		}
		defer stream.Close()

		var usage *Usage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs <- fmt.Errorf("openai stream: %w", err)
				return
			}
			if resp.Usage != nil {
				usage = &Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- Chunk{Delta: delta}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if usage != nil {
			select {
			case chunks <- Chunk{Usage: usage}:
			case <-ctx.Done():
				errs <- ctx.Err()
			}
		}
	}()

	return chunks, errs
}
