// Package config loads the ensemble and vault configuration from a YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/consensus"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/ensemble"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/vault"
)

// Kind selects how a backend is built.
type Kind string

const (
	// KindDeterministic is the offline rule-based backend.
	KindDeterministic Kind = "deterministic"
	// KindOpenAI is any OpenAI-compatible chat completions endpoint
	// (OpenAI, ChatGPT models, DeepSeek, Ollama).
	KindOpenAI Kind = "openai"
	// KindAnthropic is the Claude Messages API.
	KindAnthropic Kind = "anthropic"
	// KindBedrock is the AWS Bedrock Converse API.
	KindBedrock Kind = "bedrock"
)

const (
	openAIBaseURL    = "https://api.openai.com/v1"
	deepSeekBaseURL  = "https://api.deepseek.com/v1"
	anthropicBaseURL = "https://api.anthropic.com"
	ollamaEndpoint   = "http://localhost:11434"

	defaultTimeout = 30 * time.Second
)

type (
	// Config is the complete process configuration.
	Config struct {
		Ensemble EnsembleConfig `yaml:"ensemble"`
		Vault    VaultConfig    `yaml:"vault"`
		Cluster  ClusterConfig  `yaml:"cluster"`
		// AWS holds credentials for bedrock backends. It is only read from
		// the environment.
		AWS AWSCredentials `yaml:"-"`
	}

	// AWSCredentials are static AWS credentials.
	AWSCredentials struct {
		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
	}

	// EnsembleConfig lists the intent parsers.
	EnsembleConfig struct {
		// Priority orders parsers when selecting a single result.
		Priority []string `yaml:"priority"`
		// DefaultTimeout bounds parsers without their own timeout.
		DefaultTimeout time.Duration `yaml:"default_timeout"`
		Backends       []BackendConfig `yaml:"backends"`
	}

	// BackendConfig describes one parser or sentry.
	BackendConfig struct {
		Name    string `yaml:"name"`
		Kind    Kind   `yaml:"kind"`
		Enabled bool   `yaml:"enabled"`
		Model   string `yaml:"model,omitempty"`
		BaseURL string `yaml:"base_url,omitempty"`
		APIKey  string `yaml:"api_key,omitempty"`
		// Region is the AWS region of bedrock backends.
		Region      string        `yaml:"region,omitempty"`
		Timeout     time.Duration `yaml:"timeout,omitempty"`
		Temperature float64       `yaml:"temperature,omitempty"`
		MaxTokens   int           `yaml:"max_tokens,omitempty"`
		// TokensPerMinute paces calls to the provider. Zero disables pacing.
		TokensPerMinute float64 `yaml:"tokens_per_minute,omitempty"`
		// DisableJSONMode omits the JSON response format on OpenAI-compatible
		// endpoints that reject it.
		DisableJSONMode bool `yaml:"disable_json_mode,omitempty"`
	}

	// VaultConfig is the sentry vault policy and its sentries.
	VaultConfig struct {
		FailureThreshold       int            `yaml:"failure_threshold"`
		RecoveryStep           float64        `yaml:"recovery_step"`
		EnableHealthMonitoring bool           `yaml:"enable_health_monitoring"`
		HealthCheckInterval    int            `yaml:"health_check_interval"`
		AutoQuarantine         bool           `yaml:"auto_quarantine"`
		RejectIfAllQuarantined bool           `yaml:"reject_if_all_quarantined"`
		LogSentryResponses     bool           `yaml:"log_sentry_responses"`
		MinHealthScore         float64        `yaml:"min_health_score"`
		Consensus              consensus.Rule `yaml:"consensus"`
		// MonitorInterval runs time-based diagnostics. Zero disables them.
		MonitorInterval time.Duration   `yaml:"monitor_interval,omitempty"`
		Sentries        []BackendConfig `yaml:"sentries"`
	}

	// ClusterConfig enables replication of operator quarantine decisions.
	ClusterConfig struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password,omitempty"`
		MapName       string `yaml:"map_name"`
		NodeID        string `yaml:"node_id,omitempty"`
	}

	// Env holds the environment overrides.
	Env struct {
		OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
		ChatGPTAPIKey  string `env:"CHATGPT_API_KEY"`
		DeepSeekAPIKey string `env:"DEEPSEEK_API_KEY"`
		ClaudeAPIKey   string `env:"CLAUDE_API_KEY"`
		OllamaEndpoint string `env:"OLLAMA_ENDPOINT"`

		OpenAIModel   string `env:"OPENAI_MODEL"`
		ChatGPTModel  string `env:"CHATGPT_MODEL"`
		DeepSeekModel string `env:"DEEPSEEK_MODEL"`
		ClaudeModel   string `env:"CLAUDE_MODEL"`
		OllamaModel   string `env:"OLLAMA_MODEL"`

		// Enable flags are kept as text so that unparsable values leave the
		// configured state untouched.
		EnableOllama   string `env:"ENABLE_OLLAMA"`
		EnableOpenAI   string `env:"ENABLE_OPENAI"`
		EnableChatGPT  string `env:"ENABLE_CHATGPT"`
		EnableDeepSeek string `env:"ENABLE_DEEPSEEK"`
		EnableClaude   string `env:"ENABLE_CLAUDE"`

		AWSRegion          string `env:"AWS_REGION"`
		AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
		AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
		AWSSessionToken    string `env:"AWS_SESSION_TOKEN"`

		RedisAddr     string `env:"REDIS_ADDR"`
		RedisPassword string `env:"REDIS_PASSWORD"`
	}
)

// Default returns the built-in configuration: the deterministic parser plus
// the Ollama and OpenAI parsers enabled, ChatGPT, DeepSeek and Claude
// parsers disabled, and a vault guarded by the rule-based sentry.
func Default() Config {
	policy := vault.DefaultConfig()
	return Config{
		Ensemble: EnsembleConfig{
			Priority:       append([]string(nil), ensemble.DefaultPriority...),
			DefaultTimeout: defaultTimeout,
			Backends: []BackendConfig{
				{Name: "deterministic", Kind: KindDeterministic, Enabled: true},
				{Name: "ollama", Kind: KindOpenAI, Enabled: true, Model: "llama2", BaseURL: ollamaEndpoint + "/v1", Timeout: defaultTimeout, DisableJSONMode: true},
				{Name: "openai", Kind: KindOpenAI, Enabled: true, Model: "gpt-4o-mini", BaseURL: openAIBaseURL, Timeout: defaultTimeout},
				{Name: "chatgpt", Kind: KindOpenAI, Model: "gpt-4-turbo", BaseURL: openAIBaseURL, Timeout: defaultTimeout},
				{Name: "deepseek", Kind: KindOpenAI, Model: "deepseek-chat", BaseURL: deepSeekBaseURL, Timeout: defaultTimeout},
				{Name: "claude", Kind: KindAnthropic, Model: "claude-3-5-sonnet-20241022", BaseURL: anthropicBaseURL, Timeout: defaultTimeout},
			},
		},
		Vault: VaultConfig{
			FailureThreshold:       policy.FailureThreshold,
			RecoveryStep:           policy.RecoveryStep,
			EnableHealthMonitoring: policy.EnableHealthMonitoring,
			HealthCheckInterval:    policy.HealthCheckInterval,
			AutoQuarantine:         policy.AutoQuarantine,
			RejectIfAllQuarantined: policy.RejectIfAllQuarantined,
			LogSentryResponses:     policy.LogSentryResponses,
			MinHealthScore:         policy.MinHealthScore,
			Consensus:              policy.Consensus,
			Sentries: []BackendConfig{
				{Name: "deterministic-sentry", Kind: KindDeterministic, Enabled: true},
				{Name: "chatgpt-sentry", Kind: KindOpenAI, Model: "gpt-4-turbo", BaseURL: openAIBaseURL, Timeout: defaultTimeout},
				{Name: "deepseek-sentry", Kind: KindOpenAI, Model: "deepseek-chat", BaseURL: deepSeekBaseURL, Timeout: defaultTimeout},
				{Name: "claude-sentry", Kind: KindAnthropic, Model: "claude-3-5-sonnet-20241022", BaseURL: anthropicBaseURL, Timeout: defaultTimeout},
			},
		},
		Cluster: ClusterConfig{MapName: "vault-quarantine"},
	}
}

// Load reads path over the defaults (when path is not empty), applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	e, err := ReadEnv()
	if err != nil {
		return Config{}, err
	}
	e.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply overrides cfg with the values set in e. Credentials and endpoints
// apply to every backend of a provider family (for example "claude" and
// "claude-sentry"); models and enable flags apply to parsers only.
func (e Env) Apply(cfg *Config) {
	type family struct {
		apiKey, model, enable string
	}
	families := map[string]family{
		"openai":   {e.OpenAIAPIKey, e.OpenAIModel, e.EnableOpenAI},
		"chatgpt":  {e.ChatGPTAPIKey, e.ChatGPTModel, e.EnableChatGPT},
		"deepseek": {e.DeepSeekAPIKey, e.DeepSeekModel, e.EnableDeepSeek},
		"claude":   {e.ClaudeAPIKey, e.ClaudeModel, e.EnableClaude},
		"ollama":   {"", e.OllamaModel, e.EnableOllama},
	}
	apply := func(b *BackendConfig, parser bool) {
		name := strings.TrimSuffix(b.Name, "-sentry")
		if f, ok := families[name]; ok {
			if f.apiKey != "" {
				b.APIKey = f.apiKey
			}
			if name == "ollama" && e.OllamaEndpoint != "" {
				b.BaseURL = strings.TrimSuffix(e.OllamaEndpoint, "/") + "/v1"
			}
			if parser {
				if f.model != "" {
					b.Model = f.model
				}
				if v, err := strconv.ParseBool(f.enable); err == nil {
					b.Enabled = v
				}
			}
		}
		if b.Kind == KindBedrock && e.AWSRegion != "" {
			b.Region = e.AWSRegion
		}
	}
	for i := range cfg.Ensemble.Backends {
		apply(&cfg.Ensemble.Backends[i], true)
	}
	for i := range cfg.Vault.Sentries {
		apply(&cfg.Vault.Sentries[i], false)
	}
	if e.AWSAccessKeyID != "" {
		cfg.AWS = AWSCredentials{
			AccessKeyID:     e.AWSAccessKeyID,
			SecretAccessKey: e.AWSSecretAccessKey,
			SessionToken:    e.AWSSessionToken,
		}
	}
	if e.RedisAddr != "" {
		cfg.Cluster.RedisAddr = e.RedisAddr
	}
	if e.RedisPassword != "" {
		cfg.Cluster.RedisPassword = e.RedisPassword
	}
}

// ReadEnv parses the environment overrides.
func ReadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Ensemble.DefaultTimeout < 0 {
		errs = append(errs, errors.New("ensemble.default_timeout must not be negative"))
	}
	errs = append(errs, validateBackends("ensemble.backends", c.Ensemble.Backends)...)
	errs = append(errs, validateBackends("vault.sentries", c.Vault.Sentries)...)

	v := c.Vault
	if v.FailureThreshold < 0 {
		errs = append(errs, errors.New("vault.failure_threshold must not be negative"))
	}
	if v.RecoveryStep < 0 || v.RecoveryStep > 1 {
		errs = append(errs, errors.New("vault.recovery_step must be within [0, 1]"))
	}
	if v.HealthCheckInterval < 0 {
		errs = append(errs, errors.New("vault.health_check_interval must not be negative"))
	}
	if v.MinHealthScore < 0 || v.MinHealthScore > 1 {
		errs = append(errs, errors.New("vault.min_health_score must be within [0, 1]"))
	}
	if v.Consensus.MinSuspicious < 0 {
		errs = append(errs, errors.New("vault.consensus.min_suspicious must not be negative"))
	}
	if v.MonitorInterval < 0 {
		errs = append(errs, errors.New("vault.monitor_interval must not be negative"))
	}
	if len(enabled(c.Vault.Sentries)) == 0 {
		errs = append(errs, errors.New("vault.sentries: at least one sentry must be enabled"))
	}
	return errors.Join(errs...)
}

// Policy converts the vault section to a vault.Config.
func (v VaultConfig) Policy() vault.Config {
	return vault.Config{
		FailureThreshold:       v.FailureThreshold,
		RecoveryStep:           v.RecoveryStep,
		EnableHealthMonitoring: v.EnableHealthMonitoring,
		HealthCheckInterval:    v.HealthCheckInterval,
		AutoQuarantine:         v.AutoQuarantine,
		RejectIfAllQuarantined: v.RejectIfAllQuarantined,
		LogSentryResponses:     v.LogSentryResponses,
		MinHealthScore:         v.MinHealthScore,
		Consensus:              v.Consensus,
	}
}

func validateBackends(section string, backends []BackendConfig) []error {
	var errs []error
	seen := make(map[string]bool, len(backends))
	for i, b := range backends {
		where := fmt.Sprintf("%s[%d]", section, i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		} else if seen[b.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q", where, b.Name))
		}
		seen[b.Name] = true
		switch b.Kind {
		case KindDeterministic:
		case KindOpenAI, KindAnthropic:
			if b.Model == "" {
				errs = append(errs, fmt.Errorf("%s: model is required for kind %q", where, b.Kind))
			}
		case KindBedrock:
			if b.Model == "" {
				errs = append(errs, fmt.Errorf("%s: model is required for kind %q", where, b.Kind))
			}
			if b.Enabled && b.Region == "" {
				errs = append(errs, fmt.Errorf("%s: region is required for kind %q", where, b.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", where, b.Kind))
		}
		if b.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s: timeout must not be negative", where))
		}
		if b.TokensPerMinute < 0 {
			errs = append(errs, fmt.Errorf("%s: tokens_per_minute must not be negative", where))
		}
		if b.Temperature < 0 || b.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s: temperature must be within [0, 2]", where))
		}
	}
	return errs
}

func enabled(backends []BackendConfig) []BackendConfig {
	var out []BackendConfig
	for _, b := range backends {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out
}
