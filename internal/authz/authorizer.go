// Package authz はリクエスト単位の認証とロールベース認可を提供する。
package authz

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forgehub/internal/model"
	"github.com/hitoshi/forgehub/internal/repository"
)

// 認証ヘッダー名
const (
	HeaderAuth  = "X-Auth"
	HeaderEmail = "X-Email"
)

// ルートレベルの擬似ロール。model.Roleのロールに加えて、
// パスパラメータのプロジェクトIDに対するメンバーシップを要求する。
const (
	RoleMember = "member"
	RoleOwner  = "owner"
)

// TokenAuthenticator はアクセストークン照合のインターフェース。
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, user *model.User, rawToken, ip string) (bool, error)
}

// PasswordVerifier はパスワード照合のインターフェース。
type PasswordVerifier interface {
	VerifyPassword(user *model.User, password string) bool
}

// Authorizer はリクエストから資格情報を抽出し、Principalを構築する。
//
// 認証パスは固定の優先順位で一つだけ選択される:
//  1. X-Auth/X-Email ヘッダーペア → トークン照合
//  2. HTTP Basic資格情報 → パスワード照合またはトークン照合
//  3. 資格情報なし、かつパスが匿名許可リストに含まれる → 匿名Principal
//  4. それ以外 → 認証エラー
type Authorizer struct {
	users     repository.UserRepository
	tokens    TokenAuthenticator
	passwords PasswordVerifier
	// anonymousPaths は資格情報なしでアクセスを許可するパスプレフィックス。
	anonymousPaths []string
	// realm は401応答のWWW-Authenticateチャレンジに使うrealm。空ならチャレンジなし。
	realm string
}

// NewAuthorizer はAuthorizerを生成する。
func NewAuthorizer(users repository.UserRepository, tokens TokenAuthenticator, passwords PasswordVerifier, anonymousPaths []string, realm string) *Authorizer {
	return &Authorizer{
		users:          users,
		tokens:         tokens,
		passwords:      passwords,
		anonymousPaths: anonymousPaths,
		realm:          realm,
	}
}

// Authorize はリクエストを認証し、Principalを返す。
// 資格情報が提示されたのに検証に失敗した場合、匿名にはフォールバックせず
// AuthenticationErrorを返す。
func (a *Authorizer) Authorize(r *http.Request) (*model.Principal, error) {
	ctx := r.Context()
	ip := clientIP(r)

	// パス1: X-Auth/X-Emailヘッダーペア
	if token := r.Header.Get(HeaderAuth); token != "" {
		email := r.Header.Get(HeaderEmail)
		if email == "" {
			return nil, model.NewAuthenticationError(a.realm)
		}
		user, err := a.findUser(ctx, email)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, model.NewAuthenticationError(a.realm)
		}

		ok, err := a.tokens.Authenticate(ctx, user, token, ip)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate token: %w", err)
		}
		if !ok {
			return nil, model.NewAuthenticationError(a.realm)
		}
		return &model.Principal{User: user, Role: user.Role}, nil
	}

	// パス2: HTTP Basic資格情報。
	// パスワード照合に加えて、トークンをパスワード欄に入れるクライアント
	// （gitツーリング等）のためにトークン照合も受け付ける。
	if email, password, ok := r.BasicAuth(); ok {
		user, err := a.findUser(ctx, email)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, model.NewAuthenticationError(a.realm)
		}

		if a.passwords.VerifyPassword(user, password) {
			return &model.Principal{User: user, Role: user.Role}, nil
		}
		tokenOK, err := a.tokens.Authenticate(ctx, user, password, ip)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate token: %w", err)
		}
		if tokenOK {
			return &model.Principal{User: user, Role: user.Role}, nil
		}
		return nil, model.NewAuthenticationError(a.realm)
	}

	// パス3: 資格情報なし。匿名許可リストに含まれるパスのみ通す。
	if a.isAnonymousAllowed(r.URL.Path) {
		return model.Anonymous(), nil
	}

	// パス4: 認証失敗
	return nil, model.NewAuthenticationError(a.realm)
}

// findUser はメールアドレスを正規化してユーザーを検索する。
func (a *Authorizer) findUser(ctx context.Context, email string) (*model.User, error) {
	normalized := strings.TrimSpace(strings.ToLower(email))
	user, err := a.users.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// isAnonymousAllowed はパスが匿名許可リストのプレフィックスに一致するかを返す。
func (a *Authorizer) isAnonymousAllowed(path string) bool {
	for _, prefix := range a.anonymousPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// IsUserInRole はプリンシパルが指定ロールを満たすかを判定する。
//
//   - "admin":     Role = ADMIN
//   - "user":      Role ∈ {USER, ADMIN}
//   - "anonymous": 常にtrue
//   - "member":    パスパラメータprojectIDのプロジェクトにメンバーとして所属
//   - "owner":     同メンバーシップ、かつそのプロジェクトのオーナーIDが自分
//
// member/ownerはプロジェクトIDのパース失敗時にfalseを返す。
func IsUserInRole(r *http.Request, principal *model.Principal, role string) bool {
	if principal == nil {
		return false
	}

	switch role {
	case string(model.RoleAdmin):
		return principal.Role == model.RoleAdmin
	case string(model.RoleUser):
		return principal.Role == model.RoleUser || principal.Role == model.RoleAdmin
	case string(model.RoleAnonymous):
		return true
	case RoleMember, RoleOwner:
		if principal.User == nil {
			return false
		}
		projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
		if err != nil {
			return false
		}
		if role == RoleOwner {
			return principal.User.IsOwnerOf(projectID)
		}
		return principal.User.IsMemberOf(projectID)
	default:
		return false
	}
}

// clientIP はリクエスト元のIPアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
