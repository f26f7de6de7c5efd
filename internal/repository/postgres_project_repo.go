package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forgehub/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// FindMemberships は指定ユーザーの全プロジェクトメンバーシップを返す。
func (r *PostgresProjectRepo) FindMemberships(ctx context.Context, userID int64) ([]model.ProjectMembership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pm.project_id, p.owner_id
		 FROM project_members pm
		 JOIN projects p ON p.id = pm.project_id
		 WHERE pm.user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find memberships: %w", err)
	}
	defer rows.Close()

	var memberships []model.ProjectMembership
	for rows.Next() {
		var m model.ProjectMembership
		if err := rows.Scan(&m.ProjectID, &m.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return memberships, nil
}

// AddMember はプロジェクトにメンバーを追加する。既にメンバーの場合は何もしない。
func (r *PostgresProjectRepo) AddMember(ctx context.Context, projectID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (project_id, user_id) DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to add project member: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
