package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all automation-runner process configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string        `json:"db_path"`
	LogLevel      string        `json:"log_level"`
	PoolSize      int           `json:"pool_size"`
	CodeTimeout   time.Duration `json:"code_timeout"`
	ResumeStagger time.Duration `json:"resume_stagger"`

	DeveloperKeys map[string]string `json:"developer_keys,omitempty"`

	VaultPassphrase string `json:"-"` // env-only, never persisted to settings.json
	VaultSalt       string `json:"vault_salt,omitempty"`

	GoogleClientID     string   `json:"google_client_id,omitempty"`
	GoogleClientSecret string   `json:"-"`
	GoogleScopes       []string `json:"google_scopes,omitempty"`

	TikTokClientKey    string `json:"tiktok_client_key,omitempty"`
	TikTokClientSecret string `json:"-"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(runnerDir(), "runner.db"),
		LogLevel:      "info",
		PoolSize:      10,
		CodeTimeout:   10 * time.Second,
		ResumeStagger: 250 * time.Millisecond,
		DeveloperKeys: map[string]string{},
		GoogleScopes:  []string{"https://www.googleapis.com/auth/drive.readonly"},
	}
}

func runnerDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".automation-runner"
	}
	return filepath.Join(home, ".automation-runner")
}

func settingsPath() string {
	return filepath.Join(runnerDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("RUNNER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RUNNER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RUNNER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("RUNNER_CODE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CodeTimeout = d
		}
	}
	if v := os.Getenv("RUNNER_RESUME_STAGGER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ResumeStagger = d
		}
	}
	if v := os.Getenv("RUNNER_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("RUNNER_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}
	if v := os.Getenv("RUNNER_GOOGLE_CLIENT_ID"); v != "" {
		cfg.GoogleClientID = v
	}
	if v := os.Getenv("RUNNER_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.GoogleClientSecret = v
	}
	if v := os.Getenv("RUNNER_TIKTOK_CLIENT_KEY"); v != "" {
		cfg.TikTokClientKey = v
	}
	if v := os.Getenv("RUNNER_TIKTOK_CLIENT_SECRET"); v != "" {
		cfg.TikTokClientSecret = v
	}
	// RUNNER_DEVELOPER_KEYS=NAME1=value1,NAME2=value2 seeds the template
	// preparer's developerKeys bag (C1's credential-placeholder lookup).
	if v := os.Getenv("RUNNER_DEVELOPER_KEYS"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			k, val, ok := strings.Cut(pair, "=")
			if ok && k != "" {
				cfg.DeveloperKeys[k] = val
			}
		}
	}

	return cfg
}
