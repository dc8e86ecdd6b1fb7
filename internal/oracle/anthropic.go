package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	defaultMaxTokens      = 2048
)

type messageCreator interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic calls the Messages API.
type Anthropic struct {
	messages  messageCreator
	model     string
	maxTokens int
}

// NewAnthropic builds an Anthropic backend.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("oracle.api_key is required for anthropic")
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return newAnthropic(&client.Messages, cfg), nil
}

func newAnthropic(messages messageCreator, cfg Config) *Anthropic {
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{messages: messages, model: model, maxTokens: maxTokens}
}

// Name implements Oracle.
func (a *Anthropic) Name() string { return ProviderAnthropic }

// Complete sends one user message and joins the text blocks of the reply.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(a.model),
		MaxTokens:   int64(maxTokens),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	msg, err := a.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: create message: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
