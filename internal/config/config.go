// Copyright 2026 The mailtriage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Provider kinds understood by the analyzer.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// Config holds all application configuration
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Feed     FeedConfig     `toml:"feed"`
	Analysis AnalysisConfig `toml:"analysis"`
	Server   ServerConfig   `toml:"server"`
	Schedule ScheduleConfig `toml:"schedule"`
	Log      LogConfig      `toml:"log"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type FeedConfig struct {
	Label           string  `toml:"label"`
	PageSize        int     `toml:"page_size"`
	MaxAttempts     int     `toml:"max_attempts"`
	CredentialsFile string  `toml:"credentials_file"`
	TokenFile       string  `toml:"token_file"`
	QuotaPerSecond  float64 `toml:"quota_per_second"`
}

type AnalysisConfig struct {
	Timeout        Duration         `toml:"timeout"`
	RateLimitPause Duration         `toml:"rate_limit_pause"`
	Concurrency    int              `toml:"concurrency"`
	BatchTimeout   Duration         `toml:"batch_timeout"`
	Providers      []ProviderConfig `toml:"providers"`
}

// ProviderConfig describes one analyzer backend.  Providers are tried
// in the order they appear in the file.
type ProviderConfig struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
	APIKeyEnv string `toml:"api_key_env"`
}

// APIKey reads the provider's key from its environment variable.
func (p ProviderConfig) APIKey() string {
	env := p.APIKeyEnv
	if env == "" {
		switch p.Kind {
		case ProviderAnthropic:
			env = "ANTHROPIC_API_KEY"
		default:
			env = "OPENROUTER_API_KEY"
		}
	}
	return os.Getenv(env)
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type ScheduleConfig struct {
	// Spec is a standard five field cron expression.  Empty disables
	// the poll job.
	Spec  string `toml:"spec"`
	Limit int    `toml:"limit"`

	// Timeout bounds one poll; zero selects the scheduler default.
	Timeout Duration `toml:"timeout"`
}

type LogConfig struct {
	Mode string `toml:"mode"`
}

// Duration is a time.Duration that reads from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(homeDir(), ".mailtriage.db"),
		},
		Feed: FeedConfig{
			Label:           "INBOX",
			PageSize:        10,
			MaxAttempts:     20,
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
			QuotaPerSecond:  200,
		},
		Analysis: AnalysisConfig{
			Timeout:        Duration{30 * time.Second},
			RateLimitPause: Duration{time.Second},
			Concurrency:    8,
			Providers: []ProviderConfig{
				{Name: "gemini-2.0-flash", Kind: ProviderOpenRouter, Model: "google/gemini-2.0-flash-exp:free"},
				{Name: "phi-4", Kind: ProviderOpenRouter, Model: "microsoft/phi-4:free"},
				{Name: "gemini-exp-1206", Kind: ProviderOpenRouter, Model: "google/gemini-exp-1206:free"},
				{Name: "llama-3.3-70b", Kind: ProviderOpenRouter, Model: "meta-llama/llama-3.3-70b-instruct:free"},
				{Name: "mistral-7b", Kind: ProviderOpenRouter, Model: "mistralai/mistral-7b-instruct:free"},
				{Name: "zephyr-7b", Kind: ProviderOpenRouter, Model: "huggingfaceh4/zephyr-7b-beta:free"},
			},
		},
		Server: ServerConfig{
			Addr:           "localhost:8000",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Schedule: ScheduleConfig{
			Limit: 10,
		},
		Log: LogConfig{
			Mode: "dev",
		},
	}
}

// Dir returns the platform-appropriate config directory
func Dir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "mailtriage"), nil
}

// Path returns the full path to the default config file
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config at path over the defaults.  A missing file is
// not an error; the defaults are returned.  Tables present in the file
// replace the matching defaults key by key, and a providers list in the
// file replaces the default list entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	defaults := cfg.Analysis.Providers
	cfg.Analysis.Providers = nil
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode config %q", path)
	}
	if !md.IsDefined("analysis", "providers") {
		cfg.Analysis.Providers = defaults
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", path)
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.Feed.PageSize <= 0 {
		return errors.New("feed.page_size must be positive")
	}
	if c.Feed.MaxAttempts <= 0 {
		return errors.New("feed.max_attempts must be positive")
	}
	if len(c.Analysis.Providers) == 0 {
		return errors.New("analysis.providers must list at least one provider")
	}
	for i, p := range c.Analysis.Providers {
		switch p.Kind {
		case ProviderOpenRouter, ProviderAnthropic:
		default:
			return errors.Errorf("analysis.providers[%d]: unknown kind %q", i, p.Kind)
		}
		if p.Model == "" {
			return errors.Errorf("analysis.providers[%d]: model is required", i)
		}
	}
	return nil
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	usr, err := user.Current()
	if err != nil {
		return "."
	}
	return usr.HomeDir
}
