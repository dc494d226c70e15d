package llm

import (
	"context"
	"fmt"
	"strings"

	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	LLM  model.LLMConfig
	Chat model.ChatModelConfig
}

// ChatModels holds the streaming chat model and a separate instance reserved
// for tool calling, so binding tools never leaks into plain generation.
type ChatModels struct {
	Chat      einomodel.BaseChatModel
	Tools     einomodel.BaseChatModel
	ModelName string
}

// NewChatModels creates both chat models for the configured provider.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	provider := strings.ToLower(strings.TrimSpace(config.LLM.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}

	build := func() (einomodel.BaseChatModel, error) {
		switch provider {
		case ProviderOpenAI:
			return newOpenAIModel(config)
		case ProviderGemini:
			return newGeminiModel(ctx, config)
		default:
			return nil, fmt.Errorf("unsupported llm provider %q", config.LLM.Provider)
		}
	}

	chat, err := build()
	if err != nil {
		logx.Error().Err(err).Str("provider", provider).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	tools, err := build()
	if err != nil {
		logx.Error().Err(err).Str("provider", provider).Msg("Error creating tool-calling model")
		return nil, fmt.Errorf("error creating tool-calling model: %w", err)
	}

	logx.Debug().Str("provider", provider).Str("model", config.LLM.Model).Msg("Chat models ready")
	return &ChatModels{Chat: chat, Tools: tools, ModelName: config.LLM.Model}, nil
}

func newOpenAIModel(config ChatModelConfig) (*ChatModel, error) {
	return NewChatModel(&Config{
		BaseURL:     config.LLM.BaseURL,
		APIKey:      config.LLM.APIKey,
		Model:       config.LLM.Model,
		Temperature: &config.Chat.Temperature,
		MaxTokens:   &config.Chat.MaxTokens,
		Timeout:     config.LLM.Timeout,
		MaxRetries:  config.LLM.MaxRetries,
	})
}

func newGeminiModel(ctx context.Context, config ChatModelConfig) (*gemini.ChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  config.LLM.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.LLM.BaseURL != "" && !strings.Contains(config.LLM.BaseURL, "openai.com") {
		clientCfg.HTTPOptions.BaseURL = config.LLM.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	return gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.LLM.Model,
		Temperature: &config.Chat.Temperature,
		MaxTokens:   &config.Chat.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
}

type toolBinder interface {
	BindTools(tools []*schema.ToolInfo) error
}

// BindTools attaches tools to cm. Models supporting WithTools are copied;
// older models that only offer BindTools are bound in place.
func BindTools(cm einomodel.BaseChatModel, tools []*schema.ToolInfo) (einomodel.BaseChatModel, error) {
	switch m := cm.(type) {
	case einomodel.ToolCallingChatModel:
		bound, err := m.WithTools(tools)
		if err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools")
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		return bound, nil
	case toolBinder:
		if err := m.BindTools(tools); err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools")
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("model %T does not support tool calling", cm)
	}
}
