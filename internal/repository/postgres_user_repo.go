package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forgehub/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, password_hash, role, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	if err := r.loadMemberships(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, password_hash, role, created_at, updated_at
		 FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if err := r.loadMemberships(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, first_name, last_name, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		user.Email, user.FirstName, user.LastName, user.PasswordHash,
		user.Role, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdatePasswordHash はユーザーのパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, userID int64, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		userID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %d", userID)
	}
	return nil
}

// loadMemberships はユーザーのプロジェクトメンバーシップをロードする。
func (r *PostgresUserRepo) loadMemberships(ctx context.Context, user *model.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pm.project_id, p.owner_id
		 FROM project_members pm
		 JOIN projects p ON p.id = pm.project_id
		 WHERE pm.user_id = $1`,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.ProjectMembership
		if err := rows.Scan(&m.ProjectID, &m.OwnerID); err != nil {
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		user.Memberships = append(user.Memberships, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
