package provider

import (
	"context"
	"testing"

	"github.com/MEKXH/gatekeep/internal/config"
)

func TestNewChatModel_NoProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Brain.Model = "no-prefix-model"

	if _, err := NewChatModel(context.Background(), cfg); err == nil {
		t.Error("expected error when no provider configured")
	}
}

func TestProviderFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  providerName
	}{
		{model: "openai/gpt-4o", want: providerOpenAI},
		{model: "anthropic/claude-sonnet-4-5", want: providerClaude},
		{model: "claude/claude-3-5-sonnet", want: providerClaude},
		{model: "ollama/llama3.1", want: providerOllama},
		{model: "unknown/model", want: ""},
		{model: "no-prefix-model", want: ""},
	}

	for _, tt := range tests {
		if got := providerFromModel(tt.model); got != tt.want {
			t.Fatalf("providerFromModel(%q)=%q want %q", tt.model, got, tt.want)
		}
	}
}

func TestStripProviderPrefix(t *testing.T) {
	if got := stripProviderPrefix("ollama/llama3.1"); got != "llama3.1" {
		t.Fatalf("expected llama3.1, got %q", got)
	}
	if got := stripProviderPrefix("gpt-4o"); got != "gpt-4o" {
		t.Fatalf("expected unchanged model, got %q", got)
	}
}

func TestResolveProvider_PrefersModelMappedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Brain.Model = "openai/gpt-4o"
	cfg.Providers.Claude.APIKey = "claude-key"
	cfg.Providers.OpenAI.APIKey = "openai-key"

	got, pcfg, err := resolveProvider(cfg)
	if err != nil {
		t.Fatalf("resolveProvider returned error: %v", err)
	}
	if got != providerOpenAI || pcfg.APIKey != "openai-key" {
		t.Fatalf("expected openai with its key, got %q %+v", got, pcfg)
	}
}

func TestResolveProvider_MappedProviderNeedsKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Brain.Model = "claude/claude-sonnet-4-5"
	cfg.Providers.OpenAI.APIKey = "openai-key"

	if _, _, err := resolveProvider(cfg); err == nil {
		t.Fatal("expected error when the mapped provider has no key")
	}
}

func TestResolveProvider_FallbackOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Brain.Model = "no-prefix-model"
	cfg.Providers.OpenAI.APIKey = "openai-key"
	cfg.Providers.Ollama.BaseURL = "http://localhost:11434"

	got, _, err := resolveProvider(cfg)
	if err != nil {
		t.Fatalf("resolveProvider returned error: %v", err)
	}
	if got != providerOpenAI {
		t.Fatalf("expected provider %q, got %q", providerOpenAI, got)
	}

	cfg.Providers.OpenAI.APIKey = ""
	got, _, err = resolveProvider(cfg)
	if err != nil {
		t.Fatalf("resolveProvider returned error: %v", err)
	}
	if got != providerOllama {
		t.Fatalf("expected provider %q, got %q", providerOllama, got)
	}
}

func TestResolveProvider_OllamaRequiresBaseURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Brain.Model = "ollama/llama3.1"
	cfg.Providers.Ollama.BaseURL = ""

	if _, _, err := resolveProvider(cfg); err == nil {
		t.Fatal("expected resolveProvider to fail when ollama base_url is empty")
	}
}

func TestNewChatModel_BuildsEachProvider(t *testing.T) {
	tests := []struct {
		model string
		setup func(*config.Config)
	}{
		{"openai/gpt-4o", func(c *config.Config) { c.Providers.OpenAI.APIKey = "k" }},
		{"claude/claude-sonnet-4-5", func(c *config.Config) { c.Providers.Claude.APIKey = "k" }},
		{"ollama/llama3.1", func(c *config.Config) { c.Providers.Ollama.BaseURL = "http://localhost:11434" }},
	}
	for _, tt := range tests {
		cfg := config.DefaultConfig()
		cfg.Brain.Model = tt.model
		tt.setup(cfg)
		m, err := NewChatModel(context.Background(), cfg)
		if err != nil {
			t.Fatalf("NewChatModel(%s) error: %v", tt.model, err)
		}
		if m == nil {
			t.Fatalf("NewChatModel(%s) returned nil model", tt.model)
		}
	}
}
