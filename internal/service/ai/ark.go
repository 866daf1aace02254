package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
)

// ArkResponder runs a system+query prompt through an eino chain.
type ArkResponder struct {
	persona persona.Persona
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  *zap.Logger
}

// NewArkResponder compiles the prompt chain around chatModel.
func NewArkResponder(ctx context.Context, chatModel model.BaseChatModel, p persona.Persona, logger *zap.Logger) (*ArkResponder, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArkResponder{persona: p, chain: runnable, logger: logger}, nil
}

// Respond implements Responder.
func (r *ArkResponder) Respond(ctx context.Context, username, message string) (string, error) {
	response, err := r.chain.Invoke(ctx, map[string]any{
		"system": BuildSystemPrompt(r.persona, username),
		"query":  message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	r.logger.Info("generated response", zap.String("provider", "ark"), zap.String("username", username), zap.Int("length", len(content)))
	return content, nil
}
