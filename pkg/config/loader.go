package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SANDBOX_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, SANDBOX_CONFIG env, ./config.yaml, /etc/antwort-sandbox/config.yaml)
//  3. SANDBOX_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first of: configPath, $SANDBOX_CONFIG,
// ./config.yaml, /etc/antwort-sandbox/config.yaml that applies. Returns
// empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/antwort-sandbox/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses path into cfg. Unknown keys are an error so typos do
// not silently fall back to defaults.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envSetter applies one variable's value.
type envSetter func(cfg *Config, v string) error

var envOverrides = map[string]envSetter{
	"PORT":                       intVar(func(c *Config) *int { return &c.Server.Port }),
	"WORKSPACE_ROOT":             stringVar(func(c *Config) *string { return &c.Sandbox.WorkspaceRoot }),
	"DATASET_ROOT":               stringVar(func(c *Config) *string { return &c.Sandbox.DatasetRoot }),
	"DEFAULT_TIMEOUT":            durationVar(func(c *Config) *time.Duration { return &c.Sandbox.DefaultTimeout }),
	"MAX_TIMEOUT":                durationVar(func(c *Config) *time.Duration { return &c.Sandbox.MaxTimeout }),
	"MAX_CONCURRENT_PER_SESSION": intVar(func(c *Config) *int { return &c.Sandbox.MaxConcurrentPerSession }),
	"MAX_CONCURRENT_TOTAL":       intVar(func(c *Config) *int { return &c.Sandbox.MaxConcurrentTotal }),
	"ISOLATE_NETWORK":            boolVar(func(c *Config) *bool { return &c.Sandbox.IsolateNetwork }),
	"KEEP_HARNESS":               boolVar(func(c *Config) *bool { return &c.Sandbox.KeepHarness }),
	"FILESYSTEM":                 stringVar(func(c *Config) *string { return &c.Sandbox.Filesystem }),
	"INSTALL_ENABLED":            boolVar(func(c *Config) *bool { return &c.Install.Enabled }),
	"POLICY_RULES":               stringVar(func(c *Config) *string { return &c.Policy.RulesFile }),
	"STORAGE":                    stringVar(func(c *Config) *string { return &c.Storage.Type }),
	"POSTGRES_DSN":               stringVar(func(c *Config) *string { return &c.Storage.Postgres.DSN }),
	"AUTH_TYPE":                  stringVar(func(c *Config) *string { return &c.Auth.Type }),
	"JWT_SECRET":                 stringVar(func(c *Config) *string { return &c.Auth.JWT.Secret }),
	"JWT_JWKS_URL":               stringVar(func(c *Config) *string { return &c.Auth.JWT.JWKSURL }),
	"JWT_ISSUER":                 stringVar(func(c *Config) *string { return &c.Auth.JWT.Issuer }),
	"LOG_FORMAT":                 stringVar(func(c *Config) *string { return &c.Logging.Format }),
	"API_KEYS": func(c *Config, v string) error {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("parsing API keys JSON: %w", err)
		}
		c.Auth.APIKeys = keys
		return nil
	},
	"PASS_ENV": func(c *Config, v string) error {
		c.Sandbox.PassEnv = splitList(v)
		return nil
	},
}

// applyEnvOverrides maps SANDBOX_* variables onto cfg. Malformed values are
// reported rather than ignored.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	var errs []error
	for name, set := range envOverrides {
		v := getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
	}
	return errors.Join(errs...)
}

func stringVar(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intVar(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveFileReferences reads _file fields into their value fields. A value
// set directly wins over its file.
func resolveFileReferences(cfg *Config) error {
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	if cfg.Auth.JWT.SecretFile != "" && cfg.Auth.JWT.Secret == "" {
		val, err := readSecretFile(cfg.Auth.JWT.SecretFile)
		if err != nil {
			return fmt.Errorf("auth.jwt.secret_file: %w", err)
		}
		cfg.Auth.JWT.Secret = val
	}

	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if k.KeyFile != "" && k.Key == "" {
			val, err := readSecretFile(k.KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			k.Key = val
		}
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
