package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.aiorg/aiorg.db",
		},
		Providers: ProvidersConfig{
			Default: "anthropic",
			Anthropic: ProviderConfig{
				Model: "claude-sonnet-4-5-20250929",
			},
			OpenAI: ProviderConfig{
				Model: "gpt-4o",
			},
			MaxConcurrent: 8,
			Temperature:   0.7,
			MaxTokens:     4096,
		},
		Engine: EngineConfig{
			Workers:   8,
			QueueSize: 256,
		},
		HITL: HITLConfig{
			SweepSchedule: "* * * * *",
		},
		Notify: NotifyConfig{
			RatePerMinute: 30,
			Email: EmailConfig{
				Port: 587,
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env are enough to run standalone.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env takes precedence
// over file values; secrets only ever arrive this way.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AIORG_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AIORG_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AIORG_PROVIDER", &c.Providers.Default)
	envStr("AIORG_ANTHROPIC_MODEL", &c.Providers.Anthropic.Model)
	envStr("AIORG_OPENAI_MODEL", &c.Providers.OpenAI.Model)

	envStr("AIORG_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("AIORG_HOST", &c.Gateway.Host)
	if v := os.Getenv("AIORG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("AIORG_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AIORG_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("AIORG_SMTP_PASSWORD", &c.Notify.Email.Password)
	envStr("AIORG_SMTP_HOST", &c.Notify.Email.Host)
	envStr("AIORG_SMTP_FROM", &c.Notify.Email.From)
	envStr("AIORG_SMTP_USERNAME", &c.Notify.Email.Username)
	envStr("AIORG_TELEGRAM_TOKEN", &c.Notify.Telegram.Token)
	envStr("AIORG_DISCORD_TOKEN", &c.Notify.Discord.Token)

	// Auto-enable channels when credentials arrive via env.
	if c.Notify.Telegram.Token != "" {
		c.Notify.Telegram.Enabled = true
	}
	if c.Notify.Discord.Token != "" {
		c.Notify.Discord.Enabled = true
	}
	if c.Notify.Email.Host != "" && c.Notify.Email.From != "" {
		c.Notify.Email.Enabled = true
	}

	if v := os.Getenv("AIORG_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.Workers = n
		}
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

// ExpandHome is the exported form for paths held in config values.
func ExpandHome(path string) string { return expandHome(path) }
