// Package openai implements upstream.Completer on the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/gaspardpetit/promptrelay/internal/upstream"
)

// Config carries the process-wide provider settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// HTTPClient overrides the transport used for upstream calls.
	HTTPClient *http.Client
}

// Provider sends chat completion requests against a fixed model.
type Provider struct {
	client sdk.Client
	model  string
}

// New builds a Provider. The API key is required; it is handed to the SDK
// once and never exposed again.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, upstream.ErrMissingCredential
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// a failed upstream call yields exactly one failure
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Provider{client: sdk.NewClient(opts...), model: cfg.Model}, nil
}

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

// Complete implements upstream.Completer. Generation parameters other than
// the model are left at provider defaults.
func (p *Provider) Complete(ctx context.Context, messages []upstream.Message) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    p.model,
		Messages: toParams(messages),
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", upstream.Wrap("openai chat completion", describe(err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", upstream.Wrap("openai chat completion", upstream.ErrNoChoices)
	}
	return resp.Choices[0].Message.Content, nil
}

func toParams(messages []upstream.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case upstream.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case upstream.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// describe prefixes provider API errors with their HTTP status.
func describe(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("provider status %d: %w", apiErr.StatusCode, err)
	}
	return err
}
