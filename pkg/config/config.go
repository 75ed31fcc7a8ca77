package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds runtime configuration for the photostudio backend.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Bot        BotConfig        `mapstructure:"bot"`
	Admin      AdminConfig      `mapstructure:"admin"`
	KIE        KIEConfig        `mapstructure:"kie"`
	QStash     QStashConfig     `mapstructure:"qstash"`
	S3         S3Config         `mapstructure:"s3"`
	Payments   PaymentsConfig   `mapstructure:"payments"`
	Referral   ReferralConfig   `mapstructure:"referral"`
	Generation GenerationConfig `mapstructure:"generation"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	PublicURL       string        `mapstructure:"public_url" validate:"required,url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gte=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RequestsPerMin  int           `mapstructure:"requests_per_min" validate:"gte=0"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Environment string  `mapstructure:"environment"`
}

type BotConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Token         string        `mapstructure:"token" validate:"required_if=Enabled true"`
	Username      string        `mapstructure:"username"`
	Mode          string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	AdminChatID   int64         `mapstructure:"admin_chat_id"`
	SessionStore  string        `mapstructure:"session_store" validate:"oneof=redis postgres"`
	LocalesDir    string        `mapstructure:"locales_dir"`
	DefaultLang   string        `mapstructure:"default_lang"`
}

type AdminConfig struct {
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

type KIEConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model" validate:"required"`
	OutputFormat   string        `mapstructure:"output_format"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BreakerLimit   int           `mapstructure:"breaker_limit"`
	BreakerReset   time.Duration `mapstructure:"breaker_reset"`
}

type QStashConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Token             string        `mapstructure:"token"`
	CurrentSigningKey string        `mapstructure:"current_signing_key"`
	NextSigningKey    string        `mapstructure:"next_signing_key"`
	Retries           int           `mapstructure:"retries" validate:"gte=0"`
	PollDelay         time.Duration `mapstructure:"poll_delay"`
	SkipVerify        bool          `mapstructure:"skip_verify"`
	Retention         time.Duration `mapstructure:"retention"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	MirrorResults   bool   `mapstructure:"mirror_results"`
}

type PaymentsConfig struct {
	YooKassa YooKassaConfig  `mapstructure:"yookassa"`
	Packages []PackageConfig `mapstructure:"packages" validate:"dive"`
}

type YooKassaConfig struct {
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	ShopID    string `mapstructure:"shop_id"`
	SecretKey string `mapstructure:"secret_key"`
	ReturnURL string `mapstructure:"return_url"`
	Currency  string `mapstructure:"currency" validate:"len=3"`
}

type PackageConfig struct {
	ID      string `mapstructure:"id" validate:"required"`
	Title   string `mapstructure:"title" validate:"required"`
	Credits int    `mapstructure:"credits" validate:"gt=0"`
	Price   int64  `mapstructure:"price" validate:"gt=0"`
}

type ReferralConfig struct {
	RewardPercent int `mapstructure:"reward_percent" validate:"gte=0,lte=100"`
	SignupBonus   int `mapstructure:"signup_bonus" validate:"gte=0"`
}

type GenerationConfig struct {
	Cost             int           `mapstructure:"cost" validate:"gt=0"`
	WelcomeCredits   int           `mapstructure:"welcome_credits" validate:"gte=0"`
	MaxPromptLength  int           `mapstructure:"max_prompt_length" validate:"gt=0"`
	MaxReferences    int           `mapstructure:"max_references" validate:"gt=0"`
	MaxPollAttempts  int           `mapstructure:"max_poll_attempts" validate:"gt=0"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	DefaultRatio     string        `mapstructure:"default_ratio"`
	StartsPerWindow  int           `mapstructure:"starts_per_window" validate:"gte=0"`
	StartsRateWindow time.Duration `mapstructure:"starts_rate_window"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Whitelist []int64       `mapstructure:"whitelist"`
	PerUser   LimitRule     `mapstructure:"per_user"`
	Cleanup   time.Duration `mapstructure:"cleanup"`
}

type LimitRule struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type JobsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Concurrency   int    `mapstructure:"concurrency"`
	PurgeSchedule string `mapstructure:"purge_schedule"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// Package returns the credit package with the given id.
func (c PaymentsConfig) Package(id string) (PackageConfig, bool) {
	for _, p := range c.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return PackageConfig{}, false
}
