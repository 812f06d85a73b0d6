// Package remote implements the Remote Dialogue Adapter (spec.md §4.4): it
// models the remote generative reasoning service as a chat factory
// returning an opaque handle that supports send(text) -> text, and layers
// progress computation, follow-up extraction, and finalize-time JSON
// recovery on top of it.
package remote

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Chat is the opaque handle the adapter sends through. The adapter never
// inspects or caches the remote's hidden conversational state; it trusts
// the handle to preserve it.
type Chat interface {
	Send(ctx context.Context, text string) (string, error)
}

// Client constructs Chat handles against the configured model.
type Client interface {
	NewChat(ctx context.Context) (Chat, error)
}

// geminiClient is a Client backed by google.golang.org/genai.
type geminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient constructs a Client that talks to the given Gemini model
// using apiKey.
func NewGeminiClient(ctx context.Context, apiKey, model string) (Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("construct genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &geminiClient{client: c, model: model}, nil
}

func (g *geminiClient) NewChat(ctx context.Context) (Chat, error) {
	chat, err := g.client.Chats.Create(ctx, g.model, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &geminiChat{chat: chat}, nil
}

type geminiChat struct {
	chat *genai.Chat
}

func (g *geminiChat) Send(ctx context.Context, text string) (string, error) {
	resp, err := g.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.Text(), nil
}
