// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/forgehub/internal/model"
)

// TokenRepository はアクセストークンの永続化インターフェース。
// 各メソッドは1回の永続化操作として原子的にコミットされる。
// 複数の論理的変更を1回の呼び出しにまとめることはない。
type TokenRepository interface {
	// Store はトークンを保存する。同一(user_id, token_hash)が既に存在する場合は
	// expires、last_used、ipを上書き更新する。
	Store(ctx context.Context, token *model.AccessToken) error

	// FindByUser は指定ユーザーの全トークンを返す。順序は保証しない。
	// トークンが存在しない場合は空スライスを返す。
	FindByUser(ctx context.Context, userID int64) ([]*model.AccessToken, error)

	// Delete はトークンを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, token *model.AccessToken) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// プロジェクトメンバーシップも同時にロードする。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	// プロジェクトメンバーシップも同時にロードする。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
	Create(ctx context.Context, user *model.User) error

	// UpdatePasswordHash はユーザーのパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, userID int64, passwordHash string) error
}

// ProjectRepository はプロジェクトデータの永続化インターフェース。
type ProjectRepository interface {
	// FindMemberships は指定ユーザーの全プロジェクトメンバーシップを返す。
	FindMemberships(ctx context.Context, userID int64) ([]model.ProjectMembership, error)

	// AddMember はプロジェクトにメンバーを追加する。
	AddMember(ctx context.Context, projectID, userID int64) error
}
