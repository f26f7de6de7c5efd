package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// Auth
	AuthRealm      string
	AnonymousPaths []string
	BcryptCost     int

	// OpenID
	OpenIDReturnTo string
	OpenIDRealm    string

	// OAuth
	OAuthUserInfoURL string
	MaxActiveLogins  int

	// SSO (Discourse連携)
	SSOSecret   string
	SSOForumURL string

	// Outbound
	ProviderTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// CORS
	CORSAllowedOrigin string

	// Observability
	SentryDSN string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envファイルがあれば先に読み込む（ローカル開発用）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envが存在しない環境（本番コンテナ等）ではエラーを無視する
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.SSOSecret = os.Getenv("SSO_SECRET")
	if cfg.SSOSecret == "" {
		missing = append(missing, "SSO_SECRET")
	}

	cfg.SSOForumURL = os.Getenv("SSO_FORUM_URL")
	if cfg.SSOForumURL == "" {
		missing = append(missing, "SSO_FORUM_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AuthRealm = getEnvString("AUTH_REALM", "forgehub")
	cfg.AnonymousPaths = getEnvList("ANONYMOUS_PATHS", []string{"/login", "/healthz", "/metrics"})
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", bcrypt.DefaultCost)
	cfg.OpenIDReturnTo = getEnvString("OPENID_RETURN_TO", cfg.BaseURL+"/login/openid/response")
	cfg.OpenIDRealm = getEnvString("OPENID_REALM", "")
	cfg.OAuthUserInfoURL = getEnvString("OAUTH_USERINFO_URL", "https://www.googleapis.com/oauth2/v2/userinfo")
	cfg.MaxActiveLogins = getEnvInt("MAX_ACTIVE_LOGINS", 64)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.SentryDSN = getEnvString("SENTRY_DSN", "")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を文字列スライスとして読み込む。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultVal
	}
	return result
}
