package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models datecoach.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Services struct {
		ConfigServiceURL string `yaml:"config_service_url"`
		AppID            string `yaml:"app_id"`
		TimeoutSeconds   int    `yaml:"timeout_seconds"`
	} `yaml:"services"`
	Scoring  ScoringConfig `yaml:"scoring"`
	Campaign struct {
		Tracks []string `yaml:"tracks"`
	} `yaml:"campaign"`
	Logging struct {
		Mode string `yaml:"mode"`
	} `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ScoringConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	PromptKey      string  `yaml:"prompt_key"`
	SystemPrompt   string  `yaml:"system_prompt"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var scoringProviders = map[string]bool{"gateway": true, "openai": true, "anthropic": true, "mock": true}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dc config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Services.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.services.timeout_seconds must be positive")
	}
	if !scoringProviders[c.Scoring.Provider] {
		return fmt.Errorf("config.scoring.provider %q is not one of gateway, openai, anthropic, mock", c.Scoring.Provider)
	}
	if c.Scoring.Provider == "gateway" && strings.TrimSpace(c.Scoring.BaseURL) == "" {
		return fmt.Errorf("config.scoring.base_url is required for the gateway provider")
	}
	if c.Scoring.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.scoring.timeout_seconds must be positive")
	}
	if c.Scoring.MaxTokens <= 0 {
		return fmt.Errorf("config.scoring.max_tokens must be positive")
	}
	if c.Scoring.Temperature < 0 || c.Scoring.Temperature > 1 {
		return fmt.Errorf("config.scoring.temperature must be within [0,1]")
	}
	if strings.TrimSpace(c.Scoring.PromptKey) == "" && strings.TrimSpace(c.Scoring.SystemPrompt) == "" {
		return fmt.Errorf("config.scoring needs prompt_key or system_prompt")
	}
	if len(c.Campaign.Tracks) == 0 {
		return fmt.Errorf("config.campaign.tracks is required")
	}
	seen := make(map[string]struct{}, len(c.Campaign.Tracks))
	for _, t := range c.Campaign.Tracks {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("config.campaign.tracks contains an empty track id")
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("config.campaign.tracks lists %s twice", t)
		}
		seen[t] = struct{}{}
	}
	switch c.Logging.Mode {
	case "", "dev", "prod":
	default:
		return fmt.Errorf("config.logging.mode must be dev or prod")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// ServicesTimeout is the timeout for ordinary sibling service calls.
func (c *Config) ServicesTimeout() time.Duration {
	return time.Duration(c.Services.TimeoutSeconds) * time.Second
}

// ScoringTimeout is the timeout of one scoring call.
func (c *Config) ScoringTimeout() time.Duration {
	return time.Duration(c.Scoring.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "datecoach.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Campaign.Tracks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if len(cfg.Campaign.Tracks) == 0 {
		cfg.Campaign.Tracks = Default().Campaign.Tracks
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api/v1

auth:
  # Overridden by DATECOACH_JWT_SECRET.
  jwt_secret: dev-secret-key-change-in-production

services:
  config_service_url: http://localhost:8002
  app_id: dating_coach
  timeout_seconds: 30

scoring:
  # gateway | openai | anthropic | mock
  provider: gateway
  model: gpt-4o-mini
  base_url: http://localhost:8005/v1
  prompt_key: prompts/training_evaluator.json
  timeout_seconds: 90
  max_tokens: 512
  temperature: 0.2

campaign:
  tracks:
    - first_contact
    - keep_conversation
    - losing_interest
    - rejections
    - ask_for_date
    - intimacy_boundaries
    - after_date

logging:
  mode: dev

# webhooks:
#   - url: https://example.com/hooks/training
#     secret: change-me
#     events: [level.unlocked, attempt.recorded]
`
