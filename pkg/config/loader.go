package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/connectauth/pkg/storage"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CONNECTAUTH_CONFIG env, ./config.yaml, /etc/connectauth/config.yaml)
//  3. Environment variable overrides, including legacy names
//  4. File reference resolution (_file suffix)
//  5. Derived defaults
//  6. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	applyDerivedDefaults(&cfg)

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CONNECTAUTH_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/connectauth/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("CONNECTAUTH_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/connectauth/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields. The
// structured CONNECTAUTH_* names win over the legacy PORT, AC_OPTS and
// AP3_LOCAL_BASE_URL names.
func applyEnvOverrides(cfg *Config) {
	// Legacy names first so the structured ones override them.
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AP3_LOCAL_BASE_URL"); v != "" {
		cfg.Addon.LocalBaseURL = v
	}
	if hasOption(os.Getenv("AC_OPTS"), "no-auth") {
		cfg.Auth.NoAuth = true
	}

	if v := os.Getenv("CONNECTAUTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CONNECTAUTH_ADDON_KEY"); v != "" {
		cfg.Addon.Key = v
	}
	if v := os.Getenv("CONNECTAUTH_PRODUCT"); v != "" {
		cfg.Addon.Product = v
	}
	if v := os.Getenv("CONNECTAUTH_USER_AGENT"); v != "" {
		cfg.Addon.UserAgent = v
	}
	if v := os.Getenv("CONNECTAUTH_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CONNECTAUTH_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("CONNECTAUTH_NONCE"); v != "" {
		cfg.Auth.Nonce = v
	}
	if v := os.Getenv("CONNECTAUTH_VERIFY_QSH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.VerifyQSH = b
		}
	}
	if v := os.Getenv("CONNECTAUTH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CONNECTAUTH_OAUTH2_SERVER_URL"); v != "" {
		cfg.OAuth2.AuthorizationServerURL = v
	}

	// CONNECTAUTH_TENANTS: JSON array of client settings to seed.
	if v := os.Getenv("CONNECTAUTH_TENANTS"); v != "" {
		tenants, err := parseTenantsJSON(v)
		if err == nil && len(tenants) > 0 {
			cfg.Storage.Tenants = tenants
		}
	}
}

// hasOption reports whether the space separated option list contains opt.
func hasOption(opts, opt string) bool {
	for _, o := range strings.Fields(opts) {
		if o == opt {
			return true
		}
	}
	return false
}

// parseTenantsJSON parses a JSON array of client settings. Keys follow the
// host's install payload (clientKey, sharedSecret, baseUrl).
func parseTenantsJSON(jsonStr string) ([]storage.ClientSettings, error) {
	var tenants []storage.ClientSettings
	if err := json.Unmarshal([]byte(jsonStr), &tenants); err != nil {
		return nil, fmt.Errorf("parsing tenants JSON: %w", err)
	}
	return tenants, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// redis.password_file -> redis.password
	if cfg.Redis.PasswordFile != "" && cfg.Redis.Password == "" {
		val, err := readSecretFile(cfg.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("redis.password_file: %w", err)
		}
		cfg.Redis.Password = val
	}

	return nil
}

// applyDerivedDefaults fills values that depend on other fields.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Addon.LocalBaseURL == "" {
		cfg.Addon.LocalBaseURL = "http://localhost:" + strconv.Itoa(cfg.Server.Port)
	}
	cfg.Addon.LocalBaseURL = strings.ReplaceAll(cfg.Addon.LocalBaseURL, "$port", strconv.Itoa(cfg.Server.Port))
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
