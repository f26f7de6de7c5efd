// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/forgehub/internal/authz"
	"github.com/hitoshi/forgehub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにプリンシパルを格納するためのキー。
var principalContextKey = contextKey("principal")

// Authorizer はリクエストの認証に必要なインターフェース。
// authz.Authorizerの部分集合として定義する。
type Authorizer interface {
	Authorize(r *http.Request) (*model.Principal, error)
}

// NewAuthMiddleware はリクエストの資格情報を検証し、
// プリンシパルをリクエストコンテキストに注入するミドルウェアを返す。
// 認証失敗時は401を返す。realmが設定されていれば
// WWW-Authenticate: Basicチャレンジを付与する。
func NewAuthMiddleware(authorizer Authorizer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authorizer.Authorize(r)
			if err != nil {
				var authErr *model.AuthenticationError
				if errors.As(err, &authErr) {
					WriteAuthenticationError(w, authErr.Realm)
					return
				}
				slog.Error("failed to authorize request",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole は指定ロールを満たさないリクエストを403で拒否するミドルウェアを返す。
// NewAuthMiddlewareの後段に配置する。プリンシパル不在は構成ミスであり500を返す。
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				slog.Error("principal not found in context",
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}

			if !authz.IsUserInRole(r, principal, role) {
				slog.Warn("access denied",
					slog.String("required_role", role),
					slog.Int64("user_id", principal.UserID()),
					slog.String("path", r.URL.Path),
				)
				WriteForbiddenError(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext はリクエストコンテキストからプリンシパルを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストにプリンシパルを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
