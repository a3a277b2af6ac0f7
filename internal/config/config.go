package config

// Config is the root configuration for the AIOrg orchestrator.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Providers ProvidersConfig `json:"providers"`
	Engine    EngineConfig    `json:"engine"`
	HITL      HITLConfig      `json:"hitl"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket gateway.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env AIORG_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is NEVER read from the config file (secret) — env AIORG_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// IsManagedMode reports whether Postgres (managed mode) is configured.
func (c *Config) IsManagedMode() bool {
	return c.Database.PostgresDSN != ""
}

// ProvidersConfig configures LLM providers.
type ProvidersConfig struct {
	Default       string         `json:"default"` // "anthropic" or "openai"
	Anthropic     ProviderConfig `json:"anthropic,omitempty"`
	OpenAI        ProviderConfig `json:"openai,omitempty"`
	MaxConcurrent int64          `json:"max_concurrent"` // bounded LLM gate
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens"`
}

// ProviderConfig is one provider's settings. APIKey comes from env only.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// EngineConfig tunes the task engine worker pool.
type EngineConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// HITLConfig tunes the timeout sweeper.
type HITLConfig struct {
	// SweepSchedule is a cron expression; default runs every minute, the
	// granularity the auto-proceed contract needs.
	SweepSchedule string `json:"sweep_schedule"`
}

// NotifyConfig configures notification channels for HumanMirror delivery.
type NotifyConfig struct {
	Email    EmailConfig    `json:"email,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	// RatePerMinute caps outbound notifications per channel.
	RatePerMinute int `json:"rate_per_minute,omitempty"`
}

// EmailConfig configures the SMTP sender. Password from env only.
type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	From     string `json:"from,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
}

// TelegramConfig configures the Telegram chat channel. Token from env only.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"`
}

// DiscordConfig configures the Discord chat channel. Token from env only.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"`
}
