package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
)

// OpenAIOptions points the responder at any OpenAI-compatible API.
type OpenAIOptions struct {
	Token       string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// OpenAIResponder talks to an OpenAI-compatible chat completion API such as Groq.
type OpenAIResponder struct {
	llm     llms.Model
	opts    OpenAIOptions
	persona persona.Persona
	logger  *zap.Logger
}

// NewOpenAIResponder creates the langchaingo client.
func NewOpenAIResponder(opts OpenAIOptions, p persona.Persona, logger *zap.Logger) (*OpenAIResponder, error) {
	llm, err := openai.New(
		openai.WithToken(opts.Token),
		openai.WithBaseURL(opts.BaseURL),
		openai.WithModel(opts.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIResponder{llm: llm, opts: opts, persona: p, logger: logger}, nil
}

// Respond implements Responder.
func (r *OpenAIResponder) Respond(ctx context.Context, username, message string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, BuildSystemPrompt(r.persona, username)),
		llms.TextParts(llms.ChatMessageTypeHuman, message),
	}

	resp, err := r.llm.GenerateContent(ctx, content,
		llms.WithTemperature(r.opts.Temperature),
		llms.WithMaxTokens(r.opts.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(resp.Choices[0].Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	r.logger.Info("generated response", zap.String("provider", "openai"), zap.String("model", r.opts.Model), zap.String("username", username))
	return reply, nil
}
