package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*BroadcasterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg BroadcasterConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values. When the
// YAML lists no accounts, numbered LIGHTER_<n>_* environment variables
// are scanned instead.
func LoadWithDefaults(path string) (*BroadcasterConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if len(cfg.Accounts) == 0 {
		accounts, err := AccountsFromEnv(os.LookupEnv)
		if err != nil {
			return nil, err
		}
		cfg.Accounts = accounts
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*BroadcasterConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a validated config without a YAML file: accounts from
// LIGHTER_<n>_* variables, storage from DB_*, listener from PORT. This
// is how deployments driven by an env file alone run.
func FromEnv() (*BroadcasterConfig, error) {
	accounts, err := AccountsFromEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	cfg := &BroadcasterConfig{Accounts: accounts}
	cfg.Database = DBConfig{
		Host:     os.Getenv("DB_HOST"),
		Name:     os.Getenv("DB_NAME"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		SSLMode:  os.Getenv("DB_SSL_MODE"),
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse DB_PORT: %w", err)
		}
		cfg.Database.Port = port
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
