package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/forgehub/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したアクセストークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Store はトークンを保存する。同一(user_id, token_hash)が存在する場合は
// expires、last_used、ipを上書き更新する。
func (r *PostgresTokenRepo) Store(ctx context.Context, token *model.AccessToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_tokens (user_id, token_hash, expires, created, last_used, ip)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, token_hash)
		 DO UPDATE SET expires = $3, last_used = $5, ip = $6`,
		token.UserID, token.TokenHash, token.Expires, token.Created, token.LastUsed, token.IP,
	)
	if err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	return nil
}

// FindByUser は指定ユーザーの全トークンを返す。順序は保証しない。
func (r *PostgresTokenRepo) FindByUser(ctx context.Context, userID int64) ([]*model.AccessToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, token_hash, expires, created, last_used, ip
		 FROM access_tokens
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find access tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.AccessToken
	for rows.Next() {
		token := &model.AccessToken{}
		if err := rows.Scan(
			&token.UserID, &token.TokenHash, &token.Expires,
			&token.Created, &token.LastUsed, &token.IP,
		); err != nil {
			return nil, fmt.Errorf("failed to scan access token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access tokens: %w", err)
	}

	return tokens, nil
}

// Delete はトークンを削除する。存在しない場合もエラーにしない。
func (r *PostgresTokenRepo) Delete(ctx context.Context, token *model.AccessToken) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE user_id = $1 AND token_hash = $2`,
		token.UserID, token.TokenHash,
	)
	if err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
