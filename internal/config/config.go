package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Workspace    string             `mapstructure:"workspace" json:"workspace"`
	Gateway      GatewayConfig      `mapstructure:"gateway" json:"gateway"`
	Policy       PolicyConfig       `mapstructure:"policy" json:"policy"`
	Queue        QueueConfig        `mapstructure:"queue" json:"queue"`
	Approvals    ApprovalsConfig    `mapstructure:"approvals" json:"approvals"`
	Tools        ToolsConfig        `mapstructure:"tools" json:"tools"`
	Peer         PeerConfig         `mapstructure:"peer" json:"peer"`
	Providers    ProvidersConfig    `mapstructure:"providers" json:"providers"`
	Brain        BrainConfig        `mapstructure:"brain" json:"brain"`
	Conversation ConversationConfig `mapstructure:"conversation" json:"conversation"`
	Channels     ChannelsConfig     `mapstructure:"channels" json:"channels"`
	Log          LogConfig          `mapstructure:"log" json:"log"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host      string          `mapstructure:"host" json:"host"`
	Port      int             `mapstructure:"port" json:"port"`
	Token     string          `mapstructure:"token" json:"token"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig per-client sliding window; MaxRequests 0 disables it.
type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests" json:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds" json:"window_seconds"`
}

// PolicyConfig policy and approval gate settings
type PolicyConfig struct {
	ApprovalTTL int `mapstructure:"approval_ttl" json:"approval_ttl"` // seconds
}

// QueueConfig worker loop settings
type QueueConfig struct {
	WorkerID       string `mapstructure:"worker_id" json:"worker_id"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
	TaskTimeoutMS  int    `mapstructure:"task_timeout_ms" json:"task_timeout_ms"`
}

// ApprovalsConfig ledger sweeper settings
type ApprovalsConfig struct {
	SweepIntervalMS int `mapstructure:"sweep_interval_ms" json:"sweep_interval_ms"`
}

// ToolsConfig tool settings
type ToolsConfig struct {
	HTTP HTTPToolConfig `mapstructure:"http" json:"http"`
	DB   DBToolConfig   `mapstructure:"db" json:"db"`
}

// HTTPToolConfig http_request settings
type HTTPToolConfig struct {
	AllowHosts []string `mapstructure:"allow_hosts" json:"allow_hosts"`
	TimeoutMS  int      `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// DBToolConfig db_query settings; an empty path leaves db_query unconfigured.
type DBToolConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// PeerConfig peer-agent messaging settings
type PeerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka" json:"kafka"`
}

// KafkaConfig Kafka delivery settings; no brokers keeps messaging in-process.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers" json:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix" json:"topic_prefix"`
	GroupID     string   `mapstructure:"group_id" json:"group_id"`
	Agents      []string `mapstructure:"agents" json:"agents"`
}

// ProvidersConfig LLM provider settings
type ProvidersConfig struct {
	OpenAI ProviderConfig `mapstructure:"openai" json:"openai"`
	Claude ProviderConfig `mapstructure:"claude" json:"claude"`
	Ollama ProviderConfig `mapstructure:"ollama" json:"ollama"`
}

// ProviderConfig single provider settings
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// BrainConfig reasoning model parameters
type BrainConfig struct {
	Model       string  `mapstructure:"model" json:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
}

// ConversationConfig history bounds
type ConversationConfig struct {
	MaxTurns   int `mapstructure:"max_turns" json:"max_turns"`
	MaxThreads int `mapstructure:"max_threads" json:"max_threads"`
}

// ChannelsConfig channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
}

// TelegramConfig telegram bot settings
type TelegramConfig struct {
	Enabled          bool     `mapstructure:"enabled" json:"enabled"`
	Token            string   `mapstructure:"token" json:"token"`
	AllowFrom        []string `mapstructure:"allow_from" json:"allow_from"`
	DefaultWorkspace string   `mapstructure:"default_workspace" json:"default_workspace"`
	DefaultAgent     string   `mapstructure:"default_agent" json:"default_agent"`
	Roles            []string `mapstructure:"roles" json:"roles"`
	Webhook          bool     `mapstructure:"webhook" json:"webhook"`
	WebhookSecret    string   `mapstructure:"webhook_secret" json:"webhook_secret"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Workspace: filepath.Join(ConfigDir(), "workspace"),
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
			RateLimit: RateLimitConfig{
				MaxRequests:   60,
				WindowSeconds: 60,
			},
		},
		Policy: PolicyConfig{
			ApprovalTTL: 900,
		},
		Queue: QueueConfig{
			PollIntervalMS: 2000,
			TaskTimeoutMS:  30000,
		},
		Approvals: ApprovalsConfig{
			SweepIntervalMS: 60000,
		},
		Tools: ToolsConfig{
			HTTP: HTTPToolConfig{
				AllowHosts: []string{"api.internal.local", "hooks.slack.com"},
				TimeoutMS:  4000,
			},
		},
		Peer: PeerConfig{
			Kafka: KafkaConfig{
				Brokers:     []string{},
				TopicPrefix: "gatekeep.agents",
				GroupID:     "gatekeep",
				Agents:      []string{},
			},
		},
		Providers: ProvidersConfig{},
		Brain: BrainConfig{
			Model:       "claude/claude-sonnet-4-5",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		Conversation: ConversationConfig{
			MaxTurns:   10,
			MaxThreads: 1000,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:          false,
				AllowFrom:        []string{},
				DefaultWorkspace: "default",
				DefaultAgent:     "primary",
				Roles:            []string{"operator"},
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the gatekeep config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".gatekeep")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("GATEKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
// Zero values are replaced with defaults.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("gateway.rate_limit.max_requests must not be negative, got %d", c.Gateway.RateLimit.MaxRequests)
	}
	if c.Gateway.RateLimit.WindowSeconds <= 0 {
		c.Gateway.RateLimit.WindowSeconds = defaults.Gateway.RateLimit.WindowSeconds
	}

	if c.Policy.ApprovalTTL < 0 {
		return fmt.Errorf("policy.approval_ttl must not be negative, got %d", c.Policy.ApprovalTTL)
	}
	if c.Policy.ApprovalTTL == 0 {
		c.Policy.ApprovalTTL = defaults.Policy.ApprovalTTL
	}

	if c.Queue.PollIntervalMS < 0 || c.Queue.TaskTimeoutMS < 0 {
		return fmt.Errorf("queue intervals must not be negative")
	}
	if c.Queue.PollIntervalMS == 0 {
		c.Queue.PollIntervalMS = defaults.Queue.PollIntervalMS
	}
	if c.Queue.TaskTimeoutMS == 0 {
		c.Queue.TaskTimeoutMS = defaults.Queue.TaskTimeoutMS
	}
	if c.Approvals.SweepIntervalMS < 0 {
		return fmt.Errorf("approvals.sweep_interval_ms must not be negative, got %d", c.Approvals.SweepIntervalMS)
	}
	if c.Approvals.SweepIntervalMS == 0 {
		c.Approvals.SweepIntervalMS = defaults.Approvals.SweepIntervalMS
	}

	if c.Tools.HTTP.TimeoutMS < 0 {
		return fmt.Errorf("tools.http.timeout_ms must not be negative, got %d", c.Tools.HTTP.TimeoutMS)
	}
	if c.Tools.HTTP.TimeoutMS == 0 {
		c.Tools.HTTP.TimeoutMS = defaults.Tools.HTTP.TimeoutMS
	}

	if c.Brain.Temperature < 0 || c.Brain.Temperature > 2.0 {
		return fmt.Errorf("brain.temperature must be between 0 and 2.0, got %f", c.Brain.Temperature)
	}
	if c.Brain.MaxTokens <= 0 {
		return fmt.Errorf("brain.max_tokens must be > 0, got %d", c.Brain.MaxTokens)
	}

	if c.Conversation.MaxTurns <= 0 {
		c.Conversation.MaxTurns = defaults.Conversation.MaxTurns
	}
	if c.Conversation.MaxThreads <= 0 {
		c.Conversation.MaxThreads = defaults.Conversation.MaxThreads
	}

	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return fmt.Errorf("channels.telegram.token is required when telegram is enabled")
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}

// WorkspacePath returns the expanded workspace path
func (c *Config) WorkspacePath() string {
	path := strings.TrimSpace(c.Workspace)
	if path == "" {
		return filepath.Join(ConfigDir(), "workspace")
	}
	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(ConfigDir(), "workspace")
		}
		rest := strings.TrimPrefix(path[1:], string(filepath.Separator))
		rest = strings.TrimPrefix(rest, "/")
		return filepath.Join(homeDir, rest)
	}
	return path
}

// ApprovalTTL returns the approval lifetime as a duration.
func (c *Config) ApprovalTTL() time.Duration {
	return time.Duration(c.Policy.ApprovalTTL) * time.Second
}

// PollInterval returns the worker poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMS) * time.Millisecond
}

// TaskTimeout returns the per-task execution timeout.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Queue.TaskTimeoutMS) * time.Millisecond
}

// SweepInterval returns the approval expiry sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Approvals.SweepIntervalMS) * time.Millisecond
}

// HTTPTimeout returns the default http_request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Tools.HTTP.TimeoutMS) * time.Millisecond
}

// RateLimitWindow returns the rate limiter window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Gateway.RateLimit.WindowSeconds) * time.Second
}
