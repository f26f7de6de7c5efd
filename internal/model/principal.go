// Package model はドメインモデルを定義する。
package model

// Principal はリクエストの認証結果を表す。
// 匿名リクエストの場合、UserはnilでRoleはRoleAnonymousとなる。
type Principal struct {
	User *User
	Role Role
}

// Anonymous は匿名プリンシパルを返す。
func Anonymous() *Principal {
	return &Principal{Role: RoleAnonymous}
}

// UserID は認証済みユーザーのIDを返す。匿名の場合は0を返す。
func (p *Principal) UserID() int64 {
	if p.User == nil {
		return 0
	}
	return p.User.ID
}
