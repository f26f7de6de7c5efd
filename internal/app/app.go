// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/forgehub/internal/authz"
	"github.com/hitoshi/forgehub/internal/config"
	"github.com/hitoshi/forgehub/internal/database"
	"github.com/hitoshi/forgehub/internal/handler"
	"github.com/hitoshi/forgehub/internal/logger"
	"github.com/hitoshi/forgehub/internal/metrics"
	"github.com/hitoshi/forgehub/internal/middleware"
	"github.com/hitoshi/forgehub/internal/oauth"
	"github.com/hitoshi/forgehub/internal/openid"
	"github.com/hitoshi/forgehub/internal/repository"
	"github.com/hitoshi/forgehub/internal/security"
	"github.com/hitoshi/forgehub/internal/sso"
	"github.com/hitoshi/forgehub/internal/token"
	"github.com/hitoshi/forgehub/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. エラートラッキングの初期化（DSN未設定時はスキップ）
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			slog.Warn("sentry initialization failed", slog.String("error", err.Error()))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 認証サービスの初期化
	tokenFactory := token.NewFactoryWithCost(cfg.BcryptCost)
	authenticator := token.NewAuthenticator(tokenFactory, tokenRepo, collector)
	userService := user.NewServiceWithCost(userRepo, cfg.BcryptCost)

	// 6. アウトバウンド（外部IdP）サービスの初期化
	guard := security.NewSSRFGuard()
	providerClient := guard.NewSafeClient(cfg.ProviderTimeout)
	relyingParty := openid.NewRelyingParty(providerClient, openid.Config{
		ReturnTo: cfg.OpenIDReturnTo,
		Realm:    cfg.OpenIDRealm,
	}, collector)
	exchange := oauth.NewExchange(providerClient, oauth.Config{
		UserInfoURL:     cfg.OAuthUserInfoURL,
		MaxActiveLogins: cfg.MaxActiveLogins,
	}, collector)
	signer := sso.NewSigner(cfg.SSOSecret)
	sanitizer := security.NewProfileSanitizer()

	// 7. リクエスト認証の初期化
	authorizer := authz.NewAuthorizer(userRepo, authenticator, userService, cfg.AnonymousPaths, cfg.AuthRealm)

	// 8. レート制限の初期化（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rateLimiterCfg.LoginBurst = cfg.RateLimitLogin
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 9. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Authorizer:        authorizer,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		Login:   handler.NewLoginHandler(relyingParty, exchange, userService, authenticator, guard, sanitizer, collector),
		Token:   handler.NewTokenHandler(authenticator),
		SSO:     handler.NewSSOHandler(signer, cfg.SSOForumURL),
		User:    handler.NewUserHandler(userService),
		Project: handler.NewProjectHandler(projectRepo),
		Health:  handler.NewHealthHandler(db),

		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
