package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/privacyshield-ai/privacyshield/internal/policy"
)

// Config holds PrivacyShield configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Patterns   PatternsConfig   `yaml:"patterns"`
	Rules      []RuleConfig     `yaml:"rules"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Audit      AuditConfig      `yaml:"audit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // HTTP listen address, e.g. ":8080"
}

type EngineConfig struct {
	// RetainValues keeps matched text in findings instead of placeholders.
	RetainValues        bool    `yaml:"retain_values"`
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	DebounceFastMs      int     `yaml:"debounce_fast_ms"`
	DebounceSlowMs      int     `yaml:"debounce_slow_ms"`
}

// PatternsConfig toggles the built-in pattern rules. All default to on.
type PatternsConfig struct {
	Email      *bool `yaml:"email"`
	Phone      *bool `yaml:"phone"`
	CreditCard *bool `yaml:"credit_card"`
	IBAN       *bool `yaml:"iban"`
	SSN        *bool `yaml:"ssn"`
	APIToken   *bool `yaml:"api_token"`
}

type RuleConfig struct {
	ID                  string  `yaml:"id"`
	Detect              *bool   `yaml:"detect"`
	Block               bool    `yaml:"block"`
	Severity            string  `yaml:"severity"` // low | medium | high | critical
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
}

type ClassifierConfig struct {
	Mode            string `yaml:"mode"`     // http | onnx | off
	Endpoint        string `yaml:"endpoint"` // http mode, e.g. "http://127.0.0.1:8000"
	BundleDir       string `yaml:"bundle_dir"`
	SeqLen          int    `yaml:"seq_len"`
	ProbeIntervalMs int    `yaml:"probe_interval_ms"`
	ProbeTimeoutMs  int    `yaml:"probe_timeout_ms"`
}

func (c ClassifierConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}

func (c ClassifierConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

type AuditConfig struct {
	Sinks     []AuditSinkConfig `yaml:"sinks"`
	QueueSize int               `yaml:"queue_size"`
	Workers   int               `yaml:"workers"`
}

type AuditSinkConfig struct {
	Type      string            `yaml:"type"` // file_jsonl | webhook
	Path      string            `yaml:"path"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMs int               `yaml:"timeout_ms"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
	Version  string `yaml:"version"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Rules: defaultRules(),
		Classifier: ClassifierConfig{
			Mode: "http",
		},
	}
	applyDefaults(cfg)
	return cfg
}

func defaultRules() []RuleConfig {
	return []RuleConfig{
		{ID: "email", Block: true, Severity: "high"},
		{ID: "phone", Block: true, Severity: "high"},
		{ID: "financial", Block: true, Severity: "critical"},
		{ID: "ssn", Block: true, Severity: "critical"},
		{ID: "secrets", Block: true, Severity: "critical"},
		{ID: "person", Block: false, Severity: "medium"},
		{ID: "organization", Block: false, Severity: "low"},
		{ID: "location", Block: false, Severity: "low"},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Engine.ConfidenceThreshold <= 0 {
		cfg.Engine.ConfidenceThreshold = 0.75
	}
	if cfg.Engine.DebounceFastMs <= 0 {
		cfg.Engine.DebounceFastMs = 150
	}
	if cfg.Engine.DebounceSlowMs <= 0 {
		cfg.Engine.DebounceSlowMs = 600
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = defaultRules()
	}
	if cfg.Classifier.Mode == "" {
		cfg.Classifier.Mode = "http"
	}
	if cfg.Classifier.Endpoint == "" {
		cfg.Classifier.Endpoint = "http://127.0.0.1:8000"
	}
	if cfg.Classifier.SeqLen <= 0 {
		cfg.Classifier.SeqLen = 256
	}
	if cfg.Classifier.ProbeIntervalMs <= 0 {
		cfg.Classifier.ProbeIntervalMs = 15000
	}
	if cfg.Classifier.ProbeTimeoutMs <= 0 {
		cfg.Classifier.ProbeTimeoutMs = 3000
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = "privacyshield"
	}
}

// ToTable builds the policy rule table the engine evaluates against.
func (c *Config) ToTable() policy.Table {
	table := make(policy.Table, len(c.Rules))
	for _, r := range c.Rules {
		detect := true
		if r.Detect != nil {
			detect = *r.Detect
		}
		table[r.ID] = policy.Rule{
			ID:                  r.ID,
			DetectEnabled:       detect,
			BlockOnMatch:        r.Block,
			Severity:            policy.ParseSeverity(r.Severity),
			ConfidenceThreshold: r.ConfidenceThreshold,
		}
	}
	return table
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// PatternToggles reports the per-kind pattern switches with defaults applied.
func (c *Config) PatternToggles() (email, phone, creditCard, iban, ssn, apiToken bool) {
	p := c.Patterns
	return boolOr(p.Email, true),
		boolOr(p.Phone, true),
		boolOr(p.CreditCard, true),
		boolOr(p.IBAN, true),
		boolOr(p.SSN, true),
		boolOr(p.APIToken, true)
}
