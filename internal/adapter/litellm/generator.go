package litellm

import (
	"context"

	"github.com/Apsistec/fitos-app-sub001/internal/domain/coaching"
)

// Generator adapts Client to the llm.Generator port.
type Generator struct {
	client      *Client
	model       string
	temperature float64
	maxTokens   int
}

// NewGenerator returns a Generator that uses model for every call.
func NewGenerator(client *Client, model string, temperature float64, maxTokens int) *Generator {
	return &Generator{client: client, model: model, temperature: temperature, maxTokens: maxTokens}
}

// Generate sends the system prompt followed by history and returns the reply text.
func (g *Generator) Generate(ctx context.Context, system string, history []coaching.Turn) (string, error) {
	msgs := make([]ChatMessage, 0, len(history)+1)
	msgs = append(msgs, ChatMessage{Role: "system", Content: system})
	for _, t := range history {
		role := t.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, ChatMessage{Role: role, Content: t.Content})
	}

	resp, err := g.client.ChatCompletion(ctx, ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
