package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService は外部プロバイダー由来のプロファイル文字列の
// サニタイズ機能のインターフェースを定義する。
// OpenID AX属性やOAuth userinfoの氏名フィールドはプロバイダーを経由した
// ユーザー入力であり、保存前に必ずサニタイズする。
type ProfileSanitizerService interface {
	// Sanitize はプロファイル文字列からHTMLタグを全て除去し、
	// 前後の空白を取り除いたプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(field string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのタグと属性を除去する。氏名やユーザー名に
// マークアップが正当に含まれることはないため、許可リストは空でよい。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はプロファイル文字列をプレーンテキストに変換する。
// StrictPolicyの出力はHTMLエンティティエンコードされるため、
// DB保存用にアンエスケープして返す。
func (s *profileSanitizer) Sanitize(field string) string {
	stripped := s.policy.Sanitize(field)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
