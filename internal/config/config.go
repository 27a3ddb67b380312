package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/database"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseDriver    string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Auth
	AuthSecret              string        `env:"AUTH_SECRET"`
	SessionMaxAge           time.Duration `env:"SESSION_MAX_AGE" envDefault:"720h"`
	SessionUpdateAge        time.Duration `env:"SESSION_UPDATE_AGE" envDefault:"24h"`
	VerificationTokenMaxAge time.Duration `env:"VERIFICATION_TOKEN_MAX_AGE" envDefault:"24h"`

	// Google OAuth（両方設定された場合のみ有効）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// SMTP
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"1025"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"no-reply@localhost"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Rate Limit
	RateLimitSignInPerHour int `env:"RATE_LIMIT_SIGNIN_PER_HOUR" envDefault:"5"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`
	// リバースプロキシ配下でX-Forwarded-For / X-Real-IPを信頼する
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// CORS（空の場合はCORSヘッダーを付与しない）
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Cookie（CookieSecureはBASE_URLのスキームから導出する）
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// Required fields
	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.AuthSecret == "" {
		missing = append(missing, "AUTH_SECRET")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return &cfg, nil
}

// validate は読み込んだ値の整合性を検証する。
func (c *Config) validate() error {
	if _, err := database.DialectForDriver(c.DatabaseDriver); err != nil {
		return fmt.Errorf("invalid DATABASE_DRIVER: %w", err)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive: %s", c.SessionMaxAge)
	}
	if c.SessionUpdateAge < 0 || c.SessionUpdateAge > c.SessionMaxAge {
		return fmt.Errorf("SESSION_UPDATE_AGE must be between 0 and SESSION_MAX_AGE: %s", c.SessionUpdateAge)
	}
	if c.VerificationTokenMaxAge <= 0 {
		return fmt.Errorf("VERIFICATION_TOKEN_MAX_AGE must be positive: %s", c.VerificationTokenMaxAge)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive: %s", c.CleanupInterval)
	}
	if c.RateLimitSignInPerHour <= 0 {
		return fmt.Errorf("RATE_LIMIT_SIGNIN_PER_HOUR must be positive: %d", c.RateLimitSignInPerHour)
	}
	return nil
}

// GoogleOAuthEnabled はGoogleサインインが設定されているかを返す。
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GoogleRedirectURL はGoogle OAuthのコールバックURLを返す。
func (c *Config) GoogleRedirectURL() string {
	return c.BaseURL + "/auth/callback/google"
}

// PoolConfig はコネクションプール設定を返す。
func (c *Config) PoolConfig() database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}
}
