// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限レベルを表す。
type Role string

const (
	// RoleAnonymous は未認証ユーザーを表す。
	RoleAnonymous Role = "anonymous"
	// RoleUser は認証済みの一般ユーザーを表す。
	RoleUser Role = "user"
	// RoleAdmin は管理者を表す。
	RoleAdmin Role = "admin"
)

// User はサービス利用ユーザーを表す。
// PasswordHashはbcryptハッシュであり、平文パスワードは保持しない。
type User struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	// Memberships はユーザーが参加しているプロジェクトの一覧。
	// member/ownerロール判定に使用する。
	Memberships []ProjectMembership
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectMembership はプロジェクトへの参加情報を表す。
// OwnerIDはそのプロジェクトのオーナーのユーザーID。
type ProjectMembership struct {
	ProjectID int64
	OwnerID   int64
}

// IsMemberOf は指定プロジェクトのメンバーかどうかを返す。
func (u *User) IsMemberOf(projectID int64) bool {
	for _, m := range u.Memberships {
		if m.ProjectID == projectID {
			return true
		}
	}
	return false
}

// IsOwnerOf は指定プロジェクトのオーナーかどうかを返す。
// メンバーであり、かつそのプロジェクトのオーナーIDが自分のIDと一致する場合にtrueを返す。
func (u *User) IsOwnerOf(projectID int64) bool {
	for _, m := range u.Memberships {
		if m.ProjectID == projectID {
			return m.OwnerID == u.ID
		}
	}
	return false
}

// Identity は外部IdPから取得したプロファイル情報を表す。
// OAuth userinfoレスポンスのデシリアライズ先。未知のフィールドは無視する。
type Identity struct {
	ID            string `json:"id"`
	VerifiedEmail bool   `json:"verified_email"`
	Email         string `json:"email"`
	FirstName     string `json:"given_name"`
	LastName      string `json:"family_name"`
}
