// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/loopin/internal/model"
	"github.com/hitoshi/loopin/internal/security"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	// Access token
	JWTSecret             string  `env:"APP_JWT_SECRET,required,notEmpty"`
	JWTIssuer             string  `env:"APP_JWT_ISSUER" envDefault:"loopin"`
	JWTAudience           string  `env:"APP_JWT_AUDIENCE" envDefault:"loopin-api"`
	AccessTokenTTLSeconds float64 `env:"APP_JWT_ACCESS_TOKEN_TTL_SECONDS" envDefault:"3600"`

	// Refresh token
	RefreshTokenTTLSeconds   float64 `env:"APP_JWT_REFRESH_TOKEN_TTL_SECONDS" envDefault:"2592000"`
	RefreshReuseRevokesChain bool    `env:"REFRESH_TOKEN_REUSE_REVOKES_CHAIN" envDefault:"false"`

	// Kakao
	KakaoClientID     string `env:"KAKAO_CLIENT_ID,required,notEmpty"`
	KakaoClientSecret string `env:"KAKAO_CLIENT_SECRET"`
	KakaoIssuer       string `env:"KAKAO_ISSUER" envDefault:"https://kauth.kakao.com"`

	// Google
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// Apple
	AppleClientID   string `env:"APPLE_CLIENT_ID,required,notEmpty"`
	AppleTeamID     string `env:"APPLE_TEAM_ID,required,notEmpty"`
	AppleKeyID      string `env:"APPLE_KEY_ID,required,notEmpty"`
	ApplePrivateKey string `env:"APPLE_PRIVATE_KEY,required,notEmpty,unset"`

	// Provider HTTP / JWKS
	ProviderHTTPTimeout    time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"10s"`
	JWKSCacheTTL           time.Duration `env:"JWKS_CACHE_TTL" envDefault:"24h"`
	JWKSMinRefreshInterval time.Duration `env:"JWKS_MIN_REFRESH_INTERVAL" envDefault:"5m"`

	// Rate Limit (req/min)
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"30"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Server
	ServerPort         string   `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,https://loopin.app" envSeparator:","`

	// Logging
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	// 秒指定の TTL を変換した値
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数の欠落はまとめて1つのエラーとして返す。
// 値の不正は *model.ConfigurationError を返す。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var err error
	if cfg.AccessTokenTTL, err = TTLSeconds("APP_JWT_ACCESS_TOKEN_TTL_SECONDS", cfg.AccessTokenTTLSeconds); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = TTLSeconds("APP_JWT_REFRESH_TOKEN_TTL_SECONDS", cfg.RefreshTokenTTLSeconds); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabaseURL は DATABASE_URL のみを読み込む。migrate サブコマンド用。
func LoadDatabaseURL() (string, error) {
	var cfg struct {
		DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	}
	if err := env.Parse(&cfg); err != nil {
		return "", fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg.DatabaseURL, nil
}

// TTLSeconds は秒数を time.Duration に変換する。
// 有限の正数でない場合は *model.ConfigurationError を返す。
func TTLSeconds(key string, seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, &model.ConfigurationError{Key: key, Reason: "must be a finite positive number of seconds"}
	}
	if seconds > float64(math.MaxInt64)/float64(time.Second) {
		return 0, &model.ConfigurationError{Key: key, Reason: "is too large"}
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (c *Config) validate() error {
	var errs []error

	positive := []struct {
		key   string
		value time.Duration
	}{
		{"PROVIDER_HTTP_TIMEOUT", c.ProviderHTTPTimeout},
		{"JWKS_CACHE_TTL", c.JWKSCacheTTL},
		{"JWKS_MIN_REFRESH_INTERVAL", c.JWKSMinRefreshInterval},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, &model.ConfigurationError{Key: p.key, Reason: "must be a positive duration"})
		}
	}

	if c.RateLimitAuth <= 0 {
		errs = append(errs, &model.ConfigurationError{Key: "RATE_LIMIT_AUTH", Reason: "must be a positive number"})
	}
	if c.RateLimitGeneral <= 0 {
		errs = append(errs, &model.ConfigurationError{Key: "RATE_LIMIT_GENERAL", Reason: "must be a positive number"})
	}

	if err := security.ValidateEndpoint(c.KakaoIssuer); err != nil {
		errs = append(errs, &model.ConfigurationError{Key: "KAKAO_ISSUER", Reason: err.Error()})
	}

	return errors.Join(errs...)
}
