package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DataFile        string        `mapstructure:"DATA_FILE"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_FILE", "patients.json")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATA_FILE", "CORS_ORIGINS", "BODY_LIMIT",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SHUTDOWN_TIMEOUT",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma-separated env value arrives as a single element.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "test", "production":
	default:
		return fmt.Errorf("ENV must be \"development\", \"test\" or \"production\", got %q", c.Env)
	}
	if strings.TrimSpace(c.DataFile) == "" {
		return fmt.Errorf("DATA_FILE is required")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if _, err := bytes.Parse(c.BodyLimit); err != nil {
		return fmt.Errorf("BODY_LIMIT %q is not a valid size: %w", c.BodyLimit, err)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive when RATE_LIMIT_RPS is set, got %d", c.RateLimitBurst)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
