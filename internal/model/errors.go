// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, protocol, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeProtocolError    = "PROTOCOL_ERROR"
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeProjectNotFound  = "PROJECT_NOT_FOUND"
)

// AuthenticationError は認証失敗（資格情報の欠如または不正）を表す。
// HTTP 401に対応する。Realmが設定されている場合、
// レスポンスにWWW-Authenticate: Basic realm="..."を付与する。
type AuthenticationError struct {
	Realm string
}

// Error はerrorインターフェースを実装する。
func (e *AuthenticationError) Error() string {
	return "authentication failed"
}

// NewAuthenticationError は認証エラーを生成する。
// realmは空文字列でもよい。
func NewAuthenticationError(realm string) *AuthenticationError {
	return &AuthenticationError{Realm: realm}
}

// AuthorizationError は認可失敗（ロール不足）を表す。HTTP 403に対応する。
type AuthorizationError struct {
	RequiredRole string
}

// Error はerrorインターフェースを実装する。
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: role %q required", e.RequiredRole)
}

// NewAuthorizationError は認可エラーを生成する。
func NewAuthorizationError(role string) *AuthorizationError {
	return &AuthorizationError{RequiredRole: role}
}

// ProtocolError はOpenID/OAuthプロトコル上の異常を表す。
// 署名不一致、必須パラメータ欠如、不正なレスポンス形式など。
// 部分的な信頼は一切許容せず、ログインの失敗として呼び出し元に伝搬する。
type ProtocolError struct {
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// Unwrap はラップされたエラーを返す。
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError はプロトコルエラーを生成する。
func NewProtocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// NewUnauthenticatedError は認証エラーのAPIレスポンスを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "資格情報を確認してログインし直してください。",
	}
}

// NewForbiddenError は認可エラーのAPIレスポンスを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
		Action:   "プロジェクトのオーナーまたは管理者に問い合わせてください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているプロバイダーのURLを設定してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
