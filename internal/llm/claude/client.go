// Package claude implements triage.Classifier on the Anthropic API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/sift/internal/llm"
	"github.com/linnemanlabs/sift/internal/triage"
)

const maxTokens = 1024

// Client classifies emails through the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude-backed classifier with the given API key and
// model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Classify sends one email to the model and parses its JSON verdict.
func (c *Client) Classify(ctx context.Context, req *triage.ClassifyRequest) (*triage.Verdict, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: llm.SystemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(llm.UserPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}

	text := extractText(msg)
	if text == "" {
		return nil, fmt.Errorf("claude response has no text content")
	}

	return llm.ParseVerdict(text)
}

// extractText concatenates the text blocks of a response, skipping any
// non-text content.
func extractText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
