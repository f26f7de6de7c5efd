package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/forgehub/internal/model"
	"github.com/hitoshi/forgehub/internal/repository"
)

// sessionTokenLifetime はセッショントークンの有効期間。
// 認証成功のたびにこの期間ぶんスライドする。
const sessionTokenLifetime = 24 * time.Hour

// Metrics はAuthenticatorが記録するメトリクスのインターフェース。
type Metrics interface {
	RecordTokenAuthSuccess()
	RecordTokenAuthFailure()
	RecordTokensPurged(count int)
}

// Authenticator はアクセストークンのライフサイクルを管理する。
//
// トークンは3状態を遷移する:
// Active（有効期限内）→ Expired（期限超過、未削除）→ Deleted（遅延GCまたは明示的失効で削除）。
// ライフタイムトークン（expires = nil）はExpiredに遷移しない。
// バックグラウンドスケジューラは存在せず、期限切れトークンの掃除は
// Authenticate呼び出しの中で遅延実行される。
type Authenticator struct {
	factory *Factory
	repo    repository.TokenRepository
	metrics Metrics
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// NewAuthenticator はAuthenticatorを生成する。metricsはnilでもよい。
func NewAuthenticator(factory *Factory, repo repository.TokenRepository, metrics Metrics) *Authenticator {
	return &Authenticator{
		factory: factory,
		repo:    repo,
		metrics: metrics,
		now:     time.Now,
	}
}

// CreateSessionToken は24時間のスライド有効期限を持つセッショントークンを発行する。
// 戻り値は生のトークン文字列。ハッシュのみが永続化される。
func (a *Authenticator) CreateSessionToken(ctx context.Context, user *model.User, ip string) (string, error) {
	now := a.now()
	expires := now.Add(sessionTokenLifetime)
	return a.mint(ctx, user, ip, &expires)
}

// CreateLifetimeToken は無期限のライフタイムトークンを発行する。
// 不変条件（ユーザーごとにライフタイムトークンは高々1つ）を保つため、
// 発行前に既存の全ライフタイムトークンを削除する。
func (a *Authenticator) CreateLifetimeToken(ctx context.Context, user *model.User, ip string) (string, error) {
	tokens, err := a.repo.FindByUser(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}

	for _, t := range tokens {
		if t.IsLifetime() {
			if err := a.repo.Delete(ctx, t); err != nil {
				return "", fmt.Errorf("failed to revoke lifetime token: %w", err)
			}
		}
	}

	return a.mint(ctx, user, ip, nil)
}

// Authenticate はトークンを検証する。
//
// ユーザーの全トークンをロードし、期限切れエントリを削除（遅延GC）した後、
// 残りからbcrypt照合で一致するトークンを探す。一致した場合、
// セッショントークンであれば有効期限をnow+24hにスライドし、
// last_usedとipを常に更新して永続化し、trueを返す。
// 一致しない場合はfalseを返す。不一致・期限切れは正常系の否定結果であり、
// エラーではない。
func (a *Authenticator) Authenticate(ctx context.Context, user *model.User, rawToken, ip string) (bool, error) {
	tokens, err := a.repo.FindByUser(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load tokens: %w", err)
	}

	now := a.now()

	// 期限切れトークンの遅延GC。後段の照合が失敗しても削除は実行済みとなる。
	var live []*model.AccessToken
	purged := 0
	for _, t := range tokens {
		if t.IsExpired(now) {
			if err := a.repo.Delete(ctx, t); err != nil {
				return false, fmt.Errorf("failed to purge expired token: %w", err)
			}
			purged++
			continue
		}
		live = append(live, t)
	}
	if purged > 0 {
		slog.Info("purged expired access tokens",
			slog.Int64("user_id", user.ID),
			slog.Int("count", purged),
		)
		if a.metrics != nil {
			a.metrics.RecordTokensPurged(purged)
		}
	}

	for _, t := range live {
		if !a.factory.ValidateToken(rawToken, t.TokenHash) {
			continue
		}

		// セッショントークンは有効期限をスライドする。
		// ライフタイムトークンのexpiresはnilのまま。
		if !t.IsLifetime() {
			expires := now.Add(sessionTokenLifetime)
			t.Expires = &expires
		}
		t.LastUsed = now
		t.IP = ip

		if err := a.repo.Store(ctx, t); err != nil {
			return false, fmt.Errorf("failed to update token: %w", err)
		}
		if a.metrics != nil {
			a.metrics.RecordTokenAuthSuccess()
		}
		return true, nil
	}

	if a.metrics != nil {
		a.metrics.RecordTokenAuthFailure()
	}
	return false, nil
}

// RevokeAll はユーザーの全トークン（ライフタイム含む）を失効させ、削除数を返す。
// 途中でエラーが発生した場合、それまでの削除はロールバックされない。
func (a *Authenticator) RevokeAll(ctx context.Context, user *model.User) (int, error) {
	tokens, err := a.repo.FindByUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tokens: %w", err)
	}

	revoked := 0
	for _, t := range tokens {
		if err := a.repo.Delete(ctx, t); err != nil {
			return revoked, fmt.Errorf("failed to revoke token: %w", err)
		}
		revoked++
	}

	if revoked > 0 {
		slog.Info("revoked all access tokens",
			slog.Int64("user_id", user.ID),
			slog.Int("count", revoked),
		)
	}
	return revoked, nil
}

// mint は新しいトークンを生成して永続化し、生のトークン文字列を返す。
func (a *Authenticator) mint(ctx context.Context, user *model.User, ip string, expires *time.Time) (string, error) {
	rawToken := a.factory.Create()
	hash, err := a.factory.GenerateTokenHash(rawToken)
	if err != nil {
		return "", err
	}

	now := a.now()
	accessToken := &model.AccessToken{
		UserID:    user.ID,
		TokenHash: hash,
		Expires:   expires,
		Created:   now,
		LastUsed:  now,
		IP:        ip,
	}

	if err := a.repo.Store(ctx, accessToken); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	slog.Info("access token issued",
		slog.Int64("user_id", user.ID),
		slog.Bool("lifetime", expires == nil),
	)

	return rawToken, nil
}
