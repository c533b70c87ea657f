package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendDynamo   = "dynamo"
	BackendPostgres = "postgres"
)

// Config is the server configuration. Values come from an optional YAML file
// and are then overridden by environment variables.
type Config struct {
	Env  string `yaml:"env"`
	Port string `yaml:"port"`

	Store struct {
		Backend        string `yaml:"backend"`
		DatabaseURL    string `yaml:"databaseUrl"`
		AWSRegion      string `yaml:"awsRegion"`
		DynamoEndpoint string `yaml:"dynamoEndpoint"`
		Tables         struct {
			Interests string `yaml:"interests"`
			Matches   string `yaml:"matches"`
			Messages  string `yaml:"messages"`
		} `yaml:"tables"`
	} `yaml:"store"`

	// RedisURL enables Redis-backed typing presence and block lists.
	RedisURL string `yaml:"redisUrl"`

	JWT struct {
		Secret string `yaml:"secret"`
		Issuer string `yaml:"issuer"`
	} `yaml:"jwt"`

	Interests struct {
		ImplicitMutualAccept *bool `yaml:"implicitMutualAccept"`
	} `yaml:"interests"`

	TypingTTL time.Duration `yaml:"typingTtl"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{Env: "production", Port: "8080", TypingTTL: 60 * time.Second}
	cfg.Store.Backend = BackendMemory
	cfg.Store.AWSRegion = "us-east-1"
	return cfg
}

// Load reads path (skipped when empty) over the defaults, applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for name, target := range map[string]*string{
		"ENV":             &c.Env,
		"PORT":            &c.Port,
		"STORE_BACKEND":   &c.Store.Backend,
		"DATABASE_URL":    &c.Store.DatabaseURL,
		"AWS_REGION":      &c.Store.AWSRegion,
		"DYNAMO_ENDPOINT": &c.Store.DynamoEndpoint,
		"REDIS_URL":       &c.RedisURL,
		"JWT_SECRET":      &c.JWT.Secret,
		"JWT_ISSUER":      &c.JWT.Issuer,
	} {
		if v, ok := lookup(name); ok && v != "" {
			*target = v
		}
	}
	if v, ok := lookup("IMPLICIT_MUTUAL_ACCEPT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid IMPLICIT_MUTUAL_ACCEPT %q: %w", v, err)
		}
		c.Interests.ImplicitMutualAccept = &b
	}
	return nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required (JWT_SECRET)")
	}
	if c.Port == "" {
		return errors.New("port is required")
	}
	switch c.Store.Backend {
	case BackendMemory, BackendDynamo:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("postgres backend needs DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.TypingTTL <= 0 {
		return errors.New("typingTtl must be positive")
	}
	return nil
}

// ImplicitMutualAccept reports the configured setting, defaulting to true.
func (c *Config) ImplicitMutualAccept() bool {
	if c.Interests.ImplicitMutualAccept == nil {
		return true
	}
	return *c.Interests.ImplicitMutualAccept
}
