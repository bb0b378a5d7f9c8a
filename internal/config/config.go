// ABOUTME: Configuration loading and parsing for deskbridge
// ABOUTME: Supports YAML files with environment variable expansion and TOML phrase packs

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete deskbridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Platform  PlatformConfig  `yaml:"platform"`
	Agents    AgentsConfig    `yaml:"agents"`
	Assistant AssistantConfig `yaml:"assistant"`
	Phrases   PhrasesConfig   `yaml:"phrases"`
	Messages  MessagesConfig  `yaml:"messages"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the inbound HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// PlatformConfig holds chat-platform API connection settings
type PlatformConfig struct {
	BaseURL   string `yaml:"base_url"`
	AccountID string `yaml:"account_id"`
	APIToken  string `yaml:"api_token"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// AgentsConfig identifies the bot and the human fallback on the platform.
// AutomationID is required for auto-claim and ownership self-resolution;
// HumanID is required for escalation. Either may be left empty, which
// disables the corresponding transition.
type AgentsConfig struct {
	AutomationID string `yaml:"automation_id"`
	HumanID      string `yaml:"human_id"`
}

// AssistantConfig holds generative-response backend settings
type AssistantConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	PollInterval    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
}

// PhrasesConfig holds the keyword lists driving escalation and hand-back
// detection. Empty lists fall back to built-in defaults; PackPath points at
// an optional TOML file overriding both lists at once.
type PhrasesConfig struct {
	PackPath   string   `yaml:"pack_path"`
	Escalation []string `yaml:"escalation"`
	Resolution []string `yaml:"resolution"`
}

// MessagesConfig holds the canned outbound messages
type MessagesConfig struct {
	WelcomeBack string `yaml:"welcome_back"`
	MediaAck    string `yaml:"media_ack"`
}

// LedgerConfig holds the activity ledger database configuration
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// phrasePack is the on-disk TOML shape for phrase overrides
type phrasePack struct {
	Escalation []string `toml:"escalation"`
	Resolution []string `toml:"resolution"`
}

// Default phrase lists. These mirror the hand-off phrasing the generative
// backend is known to emit and the wording human agents use to give a
// conversation back. Matching is lowercase substring containment only.
var (
	DefaultEscalationPhrases = []string{
		"human agent",
		"human representative",
		"real person",
		"connect you to our support team",
		"transfer you to an agent",
	}
	DefaultResolutionPhrases = []string{
		"closing this conversation",
		"returning to bot",
		"back to the assistant",
		"resolved, handing back",
	}
)

// Default canned messages used when the config leaves them unset.
const (
	DefaultWelcomeBack = "You're back with our virtual assistant. How can I help you today?"
	DefaultMediaAck    = "Thanks for sharing! Could you describe your question in a short message so I can help?"
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are
// applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.loadPhrasePack(); err != nil {
		return nil, fmt.Errorf("loading phrase pack: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// loadPhrasePack reads the optional TOML phrase pack and overrides the
// escalation/resolution lists with its contents.
func (c *Config) loadPhrasePack() error {
	if c.Phrases.PackPath == "" {
		return nil
	}

	data, err := os.ReadFile(c.Phrases.PackPath)
	if err != nil {
		return fmt.Errorf("reading phrase pack %q: %w", c.Phrases.PackPath, err)
	}

	var pack phrasePack
	if err := toml.Unmarshal(data, &pack); err != nil {
		return fmt.Errorf("parsing phrase pack %q: %w", c.Phrases.PackPath, err)
	}

	if len(pack.Escalation) > 0 {
		c.Phrases.Escalation = pack.Escalation
	}
	if len(pack.Resolution) > 0 {
		c.Phrases.Resolution = pack.Resolution
	}
	return nil
}

// applyDefaults fills in defaults for optional fields left empty.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = 10 * time.Second
	}
	if c.Assistant.PollInterval == 0 {
		c.Assistant.PollInterval = 2 * time.Second
	}
	if c.Assistant.MaxPollAttempts == 0 {
		c.Assistant.MaxPollAttempts = 30
	}
	if len(c.Phrases.Escalation) == 0 {
		c.Phrases.Escalation = DefaultEscalationPhrases
	}
	if len(c.Phrases.Resolution) == 0 {
		c.Phrases.Resolution = DefaultResolutionPhrases
	}
	if c.Messages.WelcomeBack == "" {
		c.Messages.WelcomeBack = DefaultWelcomeBack
	}
	if c.Messages.MediaAck == "" {
		c.Messages.MediaAck = DefaultMediaAck
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = ":memory:"
	}
}

// Validate checks that all required configuration fields are present.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Platform.AccountID == "" {
		return fmt.Errorf("platform.account_id is required")
	}
	if c.Assistant.BaseURL == "" {
		return fmt.Errorf("assistant.base_url is required")
	}
	if c.Agents.AutomationID == "" && c.Agents.HumanID == "" {
		return fmt.Errorf("at least one of agents.automation_id or agents.human_id is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Platform.TimeoutRaw != "" {
		cfg.Platform.Timeout, err = time.ParseDuration(cfg.Platform.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing platform.timeout %q: %w", cfg.Platform.TimeoutRaw, err)
		}
	}

	if cfg.Assistant.PollIntervalRaw != "" {
		cfg.Assistant.PollInterval, err = time.ParseDuration(cfg.Assistant.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing assistant.poll_interval %q: %w", cfg.Assistant.PollIntervalRaw, err)
		}
	}

	return nil
}
