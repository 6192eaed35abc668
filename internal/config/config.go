package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the dispatcher's runtime tunables. Defaults match the
// Node.js predecessor's "Default (3-5 Accounts)" server preset; operators
// override via a JSON file plus ANTIGRAVITY_*-prefixed environment
// variables, the latter taking precedence.
type Config struct {
	Port                 int           `json:"port"`
	AccountConfigPath    string        `json:"accountConfigPath"`
	TokenCacheTTL        time.Duration `json:"-"`
	TokenCacheTTLMs      int64         `json:"tokenCacheTtlMs"`
	DefaultCooldown      time.Duration `json:"-"`
	DefaultCooldownMs    int64         `json:"defaultCooldownMs"`
	MaxRetries           int           `json:"maxRetries"`
	MaxAccounts          int           `json:"maxAccounts"`
	MaxWaitBeforeError   time.Duration `json:"-"`
	MaxWaitBeforeErrorMs int64         `json:"maxWaitBeforeErrorMs"`
	RedisAddr            string        `json:"redisAddr,omitempty"`
	RedisPassword        string        `json:"redisPassword,omitempty"`
	RedisDB              int           `json:"redisDb,omitempty"`
	APIKey               string        `json:"apiKey,omitempty"`
	DevMode              bool          `json:"-"`
}

// Default returns the built-in preset.
func Default() *Config {
	c := &Config{
		Port:                 DefaultPort,
		AccountConfigPath:    filepath.Join(homeConfigDir(), "accounts.json"),
		TokenCacheTTLMs:      TokenCacheTTLMs,
		DefaultCooldownMs:    DefaultCooldownMs,
		MaxRetries:           MaxRetries,
		MaxAccounts:          MaxAccounts,
		MaxWaitBeforeErrorMs: MaxWaitBeforeErrorMs,
	}
	c.resolveDurations()
	return c
}

// GetPublic returns the subset of Config safe to expose over the dashboard
// API (no secrets).
func (c *Config) GetPublic() map[string]any {
	return map[string]any{
		"port":                 c.Port,
		"accountConfigPath":    c.AccountConfigPath,
		"tokenCacheTtlMs":      c.TokenCacheTTLMs,
		"defaultCooldownMs":    c.DefaultCooldownMs,
		"maxRetries":           c.MaxRetries,
		"maxAccounts":          c.MaxAccounts,
		"maxWaitBeforeErrorMs": c.MaxWaitBeforeErrorMs,
		"redisEnabled":         c.RedisAddr != "",
		"devMode":              c.DevMode,
	}
}

func homeConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "cc-dispatch")
}

func (c *Config) resolveDurations() {
	c.TokenCacheTTL = time.Duration(c.TokenCacheTTLMs) * time.Millisecond
	c.DefaultCooldown = time.Duration(c.DefaultCooldownMs) * time.Millisecond
	c.MaxWaitBeforeError = time.Duration(c.MaxWaitBeforeErrorMs) * time.Millisecond
}

// Load reads a JSON config file (if present) over Default(), then applies
// ANTIGRAVITY_*-prefixed environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	cfg.resolveDurations()
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANTIGRAVITY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("ANTIGRAVITY_ACCOUNT_CONFIG_PATH"); v != "" {
		cfg.AccountConfigPath = v
	}
	if v := os.Getenv("ANTIGRAVITY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("ANTIGRAVITY_MAX_ACCOUNTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAccounts = n
		}
	}
	if v := os.Getenv("ANTIGRAVITY_DEFAULT_COOLDOWN_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultCooldownMs = n
		}
	}
	if v := os.Getenv("ANTIGRAVITY_MAX_WAIT_BEFORE_ERROR_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxWaitBeforeErrorMs = n
		}
	}
	if v := os.Getenv("ANTIGRAVITY_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("ANTIGRAVITY_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ANTIGRAVITY_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("ANTIGRAVITY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
}

// OAuth configuration — registered Google OAuth client used for the
// refresh-token exchange call.
var (
	OAuthClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	OAuthClientSecret = "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"
	OAuthTokenURL     = "https://oauth2.googleapis.com/token"
)
