// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forgehub/internal/middleware"
)

// RouterDeps はルーター構築に必要な依存をまとめる。
type RouterDeps struct {
	Logger            *slog.Logger
	Authorizer        middleware.Authorizer
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string

	Login   *LoginHandler
	Token   *TokenHandler
	SSO     *SSOHandler
	User    *UserHandler
	Project *ProjectHandler
	Health  *HealthHandler

	// MetricsHandler は/metricsで公開するハンドラー。nilの場合は公開しない。
	MetricsHandler http.Handler
}

// NewRouter は全ルートとミドルウェアチェーンを構成したルーターを返す。
//
// チェーンの順序: Recovery → SecurityHeaders → CORS → Logging → Auth → RateLimit。
// 認証ミドルウェアが全リクエストのプリンシパルを解決し、
// レート制限は認証済みユーザーIDをキーにできるよう認証の後段に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewAuthMiddleware(deps.Authorizer))

	// ログインフロー。匿名アクセス可能なパスであり、専用の厳しいレート制限を課す。
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.LoginMiddleware())
		r.Route("/login", func(r chi.Router) {
			r.Get("/openid/response", deps.Login.OpenIDResponse)
			r.Get("/openid/{provider}", deps.Login.OpenIDBegin)
			r.Post("/oauth/token", deps.Login.OAuthNewLoginToken)
			r.Put("/oauth/authenticate", deps.Login.OAuthAuthenticate)
			r.Get("/oauth/response", deps.Login.OAuthResponse)
		})
	})

	// ログイン以外のルートは一般レート制限下に置く。
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/healthz", deps.Health.Check)
		if deps.MetricsHandler != nil {
			r.Handle("/metrics", deps.MetricsHandler)
		}

		// 認証必須ルート。
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole("user"))

			r.Post("/tokens", deps.Token.Create)
			r.Delete("/tokens", deps.Token.RevokeAll)
			r.Get("/sso", deps.SSO.Login)
			r.Get("/users/me", deps.User.Me)
			r.Put("/users/me/password", deps.User.ChangePassword)
		})

		// プロジェクトルートはメンバーシップに基づくロール検証を課す。
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.With(middleware.RequireRole("member")).Get("/", deps.Project.Get)
			r.With(middleware.RequireRole("owner")).Post("/members", deps.Project.AddMember)
		})
	})

	return r
}
