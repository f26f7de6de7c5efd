// Package model はドメインモデルを定義する。
package model

import "time"

// AccessToken はユーザーのアクセストークンを表す。
// 生のトークン文字列は保持せず、bcryptハッシュのみを永続化する。
// Expiresがnilのトークンはライフタイムトークン（無期限）であり、
// ユーザーごとに高々1つしか存在しない。
type AccessToken struct {
	UserID    int64
	TokenHash string
	// Expires はトークンの有効期限。nilの場合はライフタイムトークン。
	Expires  *time.Time
	Created  time.Time
	LastUsed time.Time
	IP       string
}

// IsLifetime はライフタイムトークンかどうかを返す。
func (t *AccessToken) IsLifetime() bool {
	return t.Expires == nil
}

// IsExpired は指定時刻においてトークンが期限切れかどうかを返す。
// ライフタイムトークンは期限切れにならない。
func (t *AccessToken) IsExpired(now time.Time) bool {
	return t.Expires != nil && t.Expires.Before(now)
}
