// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	// missing env files are fine outside local development
	_ = godotenv.Load(".env.local", ".env")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile reads the given YAML file with env overrides applied on top.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.requests_per_min", 120)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "photostudio")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("bot.enabled", false)
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.username", "")
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.webhook_secret", "")
	v.SetDefault("bot.timeout", 10*time.Second)
	v.SetDefault("bot.admin_chat_id", 0)
	v.SetDefault("bot.session_store", "redis")
	v.SetDefault("bot.locales_dir", "./locales")
	v.SetDefault("bot.default_lang", "ru")

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")

	v.SetDefault("kie.base_url", "https://api.kie.ai")
	v.SetDefault("kie.api_key", "")
	v.SetDefault("kie.model", "google/nano-banana-edit")
	v.SetDefault("kie.output_format", "png")
	v.SetDefault("kie.request_timeout", 30*time.Second)
	v.SetDefault("kie.breaker_limit", 5)
	v.SetDefault("kie.breaker_reset", time.Minute)

	v.SetDefault("qstash.base_url", "https://qstash.upstash.io")
	v.SetDefault("qstash.token", "")
	v.SetDefault("qstash.current_signing_key", "")
	v.SetDefault("qstash.next_signing_key", "")
	v.SetDefault("qstash.retries", 3)
	v.SetDefault("qstash.poll_delay", 15*time.Second)
	v.SetDefault("qstash.skip_verify", false)
	v.SetDefault("qstash.retention", 7*24*time.Hour)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.public_base_url", "")
	v.SetDefault("s3.use_path_style", true)
	v.SetDefault("s3.mirror_results", false)

	v.SetDefault("payments.yookassa.base_url", "https://api.yookassa.ru/v3")
	v.SetDefault("payments.yookassa.shop_id", "")
	v.SetDefault("payments.yookassa.secret_key", "")
	v.SetDefault("payments.yookassa.return_url", "")
	v.SetDefault("payments.yookassa.currency", "RUB")

	v.SetDefault("referral.reward_percent", 10)
	v.SetDefault("referral.signup_bonus", 0)

	v.SetDefault("generation.cost", 1)
	v.SetDefault("generation.welcome_credits", 3)
	v.SetDefault("generation.max_prompt_length", 1000)
	v.SetDefault("generation.max_references", 10)
	v.SetDefault("generation.max_poll_attempts", 40)
	v.SetDefault("generation.stale_after", 30*time.Minute)
	v.SetDefault("generation.default_ratio", "1:1")
	v.SetDefault("generation.starts_per_window", 10)
	v.SetDefault("generation.starts_rate_window", time.Minute)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.per_user.requests", 30)
	v.SetDefault("ratelimit.per_user.window", time.Minute)
	v.SetDefault("ratelimit.cleanup", 10*time.Minute)

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.concurrency", 5)
	v.SetDefault("jobs.purge_schedule", "0 * * * *")
	v.SetDefault("jobs.sweep_schedule", "*/10 * * * *")
}
