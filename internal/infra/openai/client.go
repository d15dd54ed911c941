// Package openai wraps the chat completion API used for conversational
// replies, including streamed responses and image attachments.
package openai

import (
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	gopenai "github.com/sashabaranov/go-openai"
)

// Config holds the completion endpoint settings. BaseURL allows
// pointing at any OpenAI-compatible host.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Message is a single chat turn. ImageURLs may carry http(s) URLs or
// base64 data URLs; they are attached as vision content parts.
type Message struct {
	Role      string
	Content   string
	ImageURLs []string
}

// Client issues chat completions against a configured model.
type Client struct {
	api   *gopenai.Client
	model string
}

func New(cfg Config) *Client {
	apiCfg := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:   gopenai.NewClientWithConfig(apiCfg),
		model: cfg.Model,
	}
}

// Complete returns the model's full reply for the given conversation.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
	})
	if err != nil {
		return "", errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends the conversation and invokes onDelta for each content
// fragment as it arrives, returning the accumulated reply.
func (c *Client) Stream(ctx context.Context, messages []Message, onDelta func(delta string)) (string, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, gopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to open completion stream")
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), errors.Wrap(err, "completion stream failed")
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return full.String(), nil
}

func convertMessages(messages []Message) []gopenai.ChatCompletionMessage {
	out := make([]gopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.ImageURLs) == 0 {
			out = append(out, gopenai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
			continue
		}

		parts := make([]gopenai.ChatMessagePart, 0, len(m.ImageURLs)+1)
		if m.Content != "" {
			parts = append(parts, gopenai.ChatMessagePart{
				Type: gopenai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		for _, u := range m.ImageURLs {
			parts = append(parts, gopenai.ChatMessagePart{
				Type: gopenai.ChatMessagePartTypeImageURL,
				ImageURL: &gopenai.ChatMessageImageURL{
					URL:    u,
					Detail: gopenai.ImageURLDetailAuto,
				},
			})
		}
		out = append(out, gopenai.ChatCompletionMessage{
			Role:         m.Role,
			MultiContent: parts,
		})
	}
	return out
}
