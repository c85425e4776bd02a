package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/MEKXH/gatekeep/internal/config"
)

type providerName string

const (
	providerOpenAI providerName = "openai"
	providerClaude providerName = "claude"
	providerOllama providerName = "ollama"

	defaultOllamaBaseURL = "http://localhost:11434"
)

// NewChatModel creates the chat model the brain reasons with.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	name, pcfg, err := resolveProvider(cfg)
	if err != nil {
		return nil, err
	}
	b := cfg.Brain
	modelName := stripProviderPrefix(b.Model)

	switch name {
	case providerClaude:
		c := &claude.Config{
			APIKey:      pcfg.APIKey,
			Model:       modelName,
			MaxTokens:   b.MaxTokens,
			Temperature: toFloat32Ptr(b.Temperature),
		}
		if pcfg.BaseURL != "" {
			c.BaseURL = &pcfg.BaseURL
		}
		return claude.NewChatModel(ctx, c)
	case providerOpenAI:
		c := &openai.ChatModelConfig{
			Model:       modelName,
			APIKey:      pcfg.APIKey,
			Temperature: toFloat32Ptr(b.Temperature),
			MaxTokens:   toIntPtr(b.MaxTokens),
		}
		if pcfg.BaseURL != "" {
			c.BaseURL = pcfg.BaseURL
		}
		return openai.NewChatModel(ctx, c)
	case providerOllama:
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: pcfg.BaseURL,
			Model:   modelName,
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// resolveProvider picks the provider named by the model prefix, falling back
// to the first provider with credentials.
func resolveProvider(cfg *config.Config) (providerName, config.ProviderConfig, error) {
	if cfg == nil {
		return "", config.ProviderConfig{}, fmt.Errorf("config is required")
	}
	p := cfg.Providers

	if name := providerFromModel(cfg.Brain.Model); name != "" {
		pcfg := providerConfig(p, name)
		if err := checkProvider(name, &pcfg); err != nil {
			return "", config.ProviderConfig{}, err
		}
		return name, pcfg, nil
	}

	for _, name := range []providerName{providerClaude, providerOpenAI, providerOllama} {
		pcfg := providerConfig(p, name)
		if checkProvider(name, &pcfg) == nil && (pcfg.APIKey != "" || name == providerOllama && p.Ollama.BaseURL != "") {
			return name, pcfg, nil
		}
	}
	return "", config.ProviderConfig{}, fmt.Errorf("no provider configured: set api_key for claude or openai, or base_url for ollama")
}

func checkProvider(name providerName, pcfg *config.ProviderConfig) error {
	switch name {
	case providerOllama:
		if strings.TrimSpace(pcfg.BaseURL) == "" {
			return fmt.Errorf("providers.ollama.base_url is required (e.g. %s)", defaultOllamaBaseURL)
		}
	default:
		if strings.TrimSpace(pcfg.APIKey) == "" {
			return fmt.Errorf("providers.%s.api_key is required", name)
		}
	}
	return nil
}

func providerConfig(p config.ProvidersConfig, name providerName) config.ProviderConfig {
	switch name {
	case providerOpenAI:
		return p.OpenAI
	case providerClaude:
		return p.Claude
	case providerOllama:
		return p.Ollama
	}
	return config.ProviderConfig{}
}

func providerFromModel(m string) providerName {
	prefix, _, ok := strings.Cut(strings.TrimSpace(m), "/")
	if !ok {
		return ""
	}
	switch strings.ToLower(prefix) {
	case "openai":
		return providerOpenAI
	case "claude", "anthropic":
		return providerClaude
	case "ollama":
		return providerOllama
	}
	return ""
}

func stripProviderPrefix(m string) string {
	m = strings.TrimSpace(m)
	if providerFromModel(m) == "" {
		return m
	}
	_, rest, _ := strings.Cut(m, "/")
	return rest
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
