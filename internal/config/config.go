// Package config loads the agent runtime configuration from YAML or JSON5
// files with $include support and environment expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration of naia-agent.
type Config struct {
	Version   int                         `yaml:"version" jsonschema:"description=Config file format version"`
	Agent     AgentConfig                 `yaml:"agent"`
	Gateway   GatewayConfig               `yaml:"gateway"`
	Providers map[string]ProviderEndpoint `yaml:"providers"`
	Skills    SkillsConfig                `yaml:"skills"`
	TTS       TTSConfig                   `yaml:"tts"`
	Logging   LoggingConfig               `yaml:"logging"`
	Metrics   MetricsConfig               `yaml:"metrics"`
	Tracing   TracingConfig               `yaml:"tracing"`
}

// AgentConfig bounds the tool-call loop.
type AgentConfig struct {
	MaxIterations   int    `yaml:"max_iterations" jsonschema:"minimum=1,description=LLM calls allowed per chat request"`
	MaxTokens       int    `yaml:"max_tokens" jsonschema:"minimum=1"`
	SystemPrompt    string `yaml:"system_prompt" jsonschema:"description=Used when a chat request carries none"`
	ToolConcurrency int    `yaml:"tool_concurrency" jsonschema:"minimum=1,description=Parallel tool executions per turn"`
}

// GatewayConfig describes the remote execution gateway.
type GatewayConfig struct {
	URL              string        `yaml:"url" jsonschema:"description=Default gateway websocket URL"`
	Token            string        `yaml:"token"`
	DeviceIdentity   string        `yaml:"device_identity" jsonschema:"description=Path to device.json"`
	ClientID         string        `yaml:"client_id"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"`
	DialAttempts     int           `yaml:"dial_attempts" jsonschema:"minimum=1,description=Connection attempts per request before tools report the gateway as not connected"`
}

// ProviderEndpoint overrides a provider's endpoint or default model.
type ProviderEndpoint struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// SkillsConfig locates manifest-based skills.
type SkillsConfig struct {
	Dir       string   `yaml:"dir" jsonschema:"description=Directory of skill.json manifests"`
	Watch     bool     `yaml:"watch"`
	Disabled  []string `yaml:"disabled"`
	CronStore string   `yaml:"cron_store" jsonschema:"description=JSON file backing skill_cron local jobs"`
}

// TTSConfig controls speech synthesis for requests that set ttsVoice.
type TTSConfig struct {
	Providers     []string      `yaml:"providers" jsonschema:"description=Tried in order: gateway and google"`
	MaxTextLength int           `yaml:"max_text_length" jsonschema:"minimum=1"`
	Timeout       time.Duration `yaml:"timeout"`
	GoogleURL     string        `yaml:"google_url"`
}

// LoggingConfig mirrors observability.LogConfig.
type LoggingConfig struct {
	Level     string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format    string `yaml:"format" jsonschema:"enum=json,enum=text"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig enables OTLP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate" jsonschema:"minimum=0,maximum=1"`
	Insecure     bool    `yaml:"insecure"`
}

// KnownProviders lists the provider tags accepted in chat requests.
var KnownProviders = []string{"anthropic", "openai", "xai", "zai", "ollama", "nextain", "gemini"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

// Load reads path, resolves includes, and applies defaults and validation.
// An empty path returns Default().
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.ToolConcurrency == 0 {
		cfg.Agent.ToolConcurrency = 8
	}
	if cfg.Gateway.ClientID == "" {
		cfg.Gateway.ClientID = "naia-agent"
	}
	if cfg.Gateway.HandshakeTimeout == 0 {
		cfg.Gateway.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Gateway.ChallengeTimeout == 0 {
		cfg.Gateway.ChallengeTimeout = 2 * time.Second
	}
	if cfg.Gateway.DialAttempts == 0 {
		cfg.Gateway.DialAttempts = 3
	}
	if cfg.Gateway.DeviceIdentity == "" {
		cfg.Gateway.DeviceIdentity = "~/.openclaw/identity/device.json"
	}
	cfg.Gateway.DeviceIdentity = ExpandHome(cfg.Gateway.DeviceIdentity)
	if cfg.Skills.Dir == "" {
		cfg.Skills.Dir = "~/.naia/skills"
	}
	cfg.Skills.Dir = ExpandHome(cfg.Skills.Dir)
	if cfg.Skills.CronStore == "" {
		cfg.Skills.CronStore = "~/.naia/cron.json"
	}
	cfg.Skills.CronStore = ExpandHome(cfg.Skills.CronStore)
	if len(cfg.TTS.Providers) == 0 {
		cfg.TTS.Providers = []string{"gateway", "google"}
	}
	if cfg.TTS.MaxTextLength == 0 {
		cfg.TTS.MaxTextLength = 4096
	}
	if cfg.TTS.Timeout == 0 {
		cfg.TTS.Timeout = 30 * time.Second
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderEndpoint{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "naia-agent"
	}
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be >= 1"))
	}
	if cfg.Agent.ToolConcurrency < 1 {
		errs = append(errs, fmt.Errorf("agent.tool_concurrency must be >= 1"))
	}
	if cfg.Agent.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("agent.max_tokens must be >= 1"))
	}
	for name := range cfg.Providers {
		if !isKnownProvider(name) {
			errs = append(errs, fmt.Errorf("providers.%s: unknown provider (expected one of %s)", name, strings.Join(KnownProviders, ", ")))
		}
	}
	if cfg.Gateway.DialAttempts < 1 {
		errs = append(errs, fmt.Errorf("gateway.dial_attempts must be >= 1"))
	}
	if url := cfg.Gateway.URL; url != "" && !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		errs = append(errs, fmt.Errorf("gateway.url must use ws:// or wss://"))
	}
	for _, p := range cfg.TTS.Providers {
		if p != "gateway" && p != "google" {
			errs = append(errs, fmt.Errorf("tts.providers: unknown provider %q", p))
		}
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text"))
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampling_rate must be within [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func isKnownProvider(name string) bool {
	for _, known := range KnownProviders {
		if known == name {
			return true
		}
	}
	return false
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
