// Package ai answers chat messages in the assistant's voice using a hosted LLM.
package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/config"
	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
)

// ErrNotConfigured is returned when no provider has usable credentials.
var ErrNotConfigured = errors.New("ai: no assistant provider configured")

// ErrEmptyReply is returned when the model answered with nothing.
var ErrEmptyReply = errors.New("ai: model returned an empty reply")

// Responder produces one reply to one user message. No history is sent.
type Responder interface {
	Respond(ctx context.Context, username, message string) (string, error)
}

// NewResponder builds the provider selected in cfg.
func NewResponder(ctx context.Context, cfg config.AIConfig, p persona.Persona, logger *zap.Logger) (Responder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewArkResponder(ctx, chatModel, p, logger)
	case config.ProviderOpenAI:
		return NewOpenAIResponder(OpenAIOptions{
			Token:       cfg.OpenAIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.TemperatureOrDefault(),
			MaxTokens:   cfg.MaxTokensOrDefault(),
		}, p, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}
}
