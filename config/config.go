package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for greenproofd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Database      DatabaseConfig  `yaml:"database"`
	Retention     RetentionConfig `yaml:"retention"`
	Rewards       RewardsConfig   `yaml:"rewards"`
	Admin         AdminConfig     `yaml:"admin"`
	Intake        IntakeConfig    `yaml:"intake"`
}

// DatabaseConfig selects the durable store backing all three tables.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RetentionConfig bounds evidence lifetime and sweep cadence.
type RetentionConfig struct {
	Window   Duration `yaml:"window"`
	Interval Duration `yaml:"interval"`
}

// RewardsConfig configures the on-chain distribution path.
type RewardsConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	ChainID       uint64   `yaml:"chain_id"`
	Token         string   `yaml:"token"`
	CreatorFund   string   `yaml:"creator_fund"`
	AppFund       string   `yaml:"app_fund"`
	SignerKey     string   `yaml:"signer_key"`
	SignerKeyFile string   `yaml:"signer_key_file"`
	SignerKeyEnv  string   `yaml:"signer_key_env"`
	Confirmations int      `yaml:"confirmations"`
	LegTimeout    Duration `yaml:"leg_timeout"`
	PollInterval  Duration `yaml:"poll_interval"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// IntakeConfig bounds upload traffic per client.
type IntakeConfig struct {
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Rewards.normalise(); err != nil {
		return cfg, fmt.Errorf("rewards signer: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Retention.Window.Duration == 0 {
		cfg.Retention.Window.Duration = 30 * 24 * time.Hour
	}
	if cfg.Retention.Interval.Duration == 0 {
		cfg.Retention.Interval.Duration = 24 * time.Hour
	}
	if cfg.Rewards.Confirmations <= 0 {
		cfg.Rewards.Confirmations = 3
	}
	if cfg.Rewards.LegTimeout.Duration == 0 {
		cfg.Rewards.LegTimeout.Duration = 90 * time.Second
	}
	if cfg.Rewards.PollInterval.Duration == 0 {
		cfg.Rewards.PollInterval.Duration = 5 * time.Second
	}
	if cfg.Intake.RatePerMinute <= 0 {
		cfg.Intake.RatePerMinute = 60
	}
	if cfg.Intake.Burst <= 0 {
		cfg.Intake.Burst = 10
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database dsn must be configured")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Rewards.Endpoint) == "" {
		return fmt.Errorf("rewards endpoint must be configured")
	}
	if cfg.Rewards.ChainID == 0 {
		return fmt.Errorf("rewards chain_id must be configured")
	}
	if strings.TrimSpace(cfg.Rewards.Token) == "" {
		return fmt.Errorf("rewards token contract must be configured")
	}
	if strings.TrimSpace(cfg.Rewards.CreatorFund) == "" {
		return fmt.Errorf("rewards creator_fund must be configured")
	}
	if strings.TrimSpace(cfg.Rewards.AppFund) == "" {
		return fmt.Errorf("rewards app_fund must be configured")
	}
	if cfg.Admin.BearerToken == "" {
		return fmt.Errorf("admin bearer_token must be configured")
	}
	return nil
}

func (r *RewardsConfig) normalise() error {
	if r == nil {
		return fmt.Errorf("rewards configuration missing")
	}
	r.SignerKey = strings.TrimSpace(r.SignerKey)
	r.SignerKeyEnv = strings.TrimSpace(r.SignerKeyEnv)
	r.SignerKeyFile = strings.TrimSpace(r.SignerKeyFile)
	if r.SignerKey != "" {
		return nil
	}
	switch {
	case r.SignerKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(r.SignerKeyEnv))
		if value == "" {
			return fmt.Errorf("signer_key_env %s is empty", r.SignerKeyEnv)
		}
		r.SignerKey = value
	case r.SignerKeyFile != "":
		contents, err := os.ReadFile(r.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("read signer_key_file: %w", err)
		}
		r.SignerKey = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("signer_key is required")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	return nil
}
