package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models coachline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Agents     map[string]AgentConfig `yaml:"agents"`
	Credential CredentialConfig       `yaml:"credential"`
	Retry      RetryConfig            `yaml:"retry"`
}

// AgentConfig describes one webhook-addressed agent.
type AgentConfig struct {
	URL      string `yaml:"url"`
	Audience string `yaml:"audience"`
}

// CredentialConfig controls outbound call credentials.
type CredentialConfig struct {
	Issuer     string `yaml:"issuer"`
	PrivateKey string `yaml:"private_key"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// RetryConfig is the bounded retry policy for single-hop agents.
type RetryConfig struct {
	TimeoutSeconds    int   `yaml:"timeout_seconds"`
	MaxAttempts       int   `yaml:"max_attempts"`
	BaseDelayMillis   int   `yaml:"base_delay_ms"`
	RetryableStatuses []int `yaml:"retryable_statuses"`
}

// TTL returns the credential lifetime.
func (c CredentialConfig) TTL() time.Duration {
	if c.TTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Timeout returns the per-call timeout for bounded agents.
func (c RetryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BaseDelay returns the backoff unit between attempts.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMillis) * time.Millisecond
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with coachline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config.agents is required")
	}
	for _, name := range []string{"reception", "data", "routine"} {
		agent, ok := c.Agents[name]
		if !ok {
			return fmt.Errorf("config.agents.%s is required", name)
		}
		if agent.URL == "" {
			return fmt.Errorf("agent %s has empty url", name)
		}
		if agent.Audience == "" {
			return fmt.Errorf("agent %s has empty audience", name)
		}
	}
	for name := range c.Agents {
		switch name {
		case "reception", "data", "routine":
		default:
			return fmt.Errorf("unknown agent %s", name)
		}
	}
	if c.Credential.Issuer == "" {
		return fmt.Errorf("config.credential.issuer is required")
	}
	if c.Credential.TTLMinutes < 0 {
		return fmt.Errorf("config.credential.ttl_minutes must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config.retry.max_attempts must be positive")
	}
	if c.Retry.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.retry.timeout_seconds must be positive")
	}
	if c.Retry.BaseDelayMillis < 0 {
		return fmt.Errorf("config.retry.base_delay_ms must not be negative")
	}
	for _, status := range c.Retry.RetryableStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("retryable status %d out of range", status)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "coachline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceName string) string {
	return fmt.Sprintf(defaultTemplate, serviceName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a service.
func Default(serviceName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, serviceName))).Decode(&cfg)
	cfg.Service.Name = serviceName
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: %s

agents:
  reception:
    url: http://localhost:5678/webhook/reception
    audience: reception-agent
  data:
    url: http://localhost:5678/webhook/data
    audience: data-agent
  routine:
    url: http://localhost:5678/webhook/routine
    audience: routine-agent

credential:
  issuer: coachline
  private_key: .coachline/credential.pem
  ttl_minutes: 30

retry:
  timeout_seconds: 30
  max_attempts: 3
  base_delay_ms: 500
  retryable_statuses: [408, 429, 500, 502, 503, 504]
`
