// Package oauth はOAuth2プロバイダーのuserinfoを利用した外部ID連携を提供する。
// ブラウザ/エディタ側が取得した外部アクセストークンを、短命のログイントークンを
// キーとして保留中のログインセッションに1回限りで対応付ける。
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/forgehub/internal/cache"
	"github.com/hitoshi/forgehub/internal/model"
)

const (
	// defaultUserInfoURL はGoogleのuserinfoエンドポイント。
	// レスポンスは {id, verified_email, email, given_name, family_name} 形式。
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	// pendingLoginTTL はauthenticate完了後、exchangeされるまでの猶予時間。
	pendingLoginTTL = 4 * time.Minute

	// loginTokenBytes はログイントークンの乱数長（hexエンコード前）。
	loginTokenBytes = 16
)

// Authentication は外部プロバイダーで認証されたユーザーの情報を表す。
type Authentication struct {
	Identity model.Identity
	// AccessToken は外部プロバイダーのアクセストークン。
	AccessToken string
}

// pendingLogin はログイントークンに対応する保留中のログイン。
// auth == nil はnewLoginTokenで挿入された未認証のプレースホルダ。
type pendingLogin struct {
	auth      *Authentication
	expiresAt time.Time
}

// Metrics はExchangeが記録するメトリクスのインターフェース。
type Metrics interface {
	ObserveOutbound(operation string, d time.Duration)
}

// Config はExchangeの設定。
type Config struct {
	// UserInfoURL はプロバイダーのuserinfoエンドポイント。空の場合はGoogleを使用する。
	UserInfoURL string
	// MaxActiveLogins は同時に保留できるログイン数の上限。
	// 超過した場合は最も古いエントリから破棄される。
	MaxActiveLogins int
}

// Exchange はログイントークンをキーとする外部IDの1回限りの交換を管理する。
type Exchange struct {
	client  *http.Client
	config  Config
	pending *cache.Cache[string, pendingLogin]
	metrics Metrics
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// NewExchange はExchangeを生成する。
// clientにはタイムアウト付きのHTTPクライアントを渡すこと。metricsはnilでもよい。
func NewExchange(client *http.Client, config Config, metrics Metrics) *Exchange {
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultUserInfoURL
	}
	if config.MaxActiveLogins <= 0 {
		config.MaxActiveLogins = 64
	}
	return &Exchange{
		client:  client,
		config:  config,
		pending: cache.New[string, pendingLogin](config.MaxActiveLogins),
		metrics: metrics,
		now:     time.Now,
	}
}

// NewLoginToken はランダムなhexログイントークンを生成し、
// 未認証のプレースホルダを登録する。上限超過時は最古のエントリが破棄される。
func (e *Exchange) NewLoginToken() (string, error) {
	b := make([]byte, loginTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate login token: %w", err)
	}
	token := hex.EncodeToString(b)

	e.pending.Put(token, pendingLogin{}, 0)
	return token, nil
}

// Authenticate は外部プロバイダーのuserinfoエンドポイントからユーザー情報を取得し、
// ログイントークンのプレースホルダを4分間有効な認証済みエントリで上書きする。
func (e *Exchange) Authenticate(ctx context.Context, loginToken, accessToken string) error {
	identity, err := e.fetchUserInfo(ctx, accessToken)
	if err != nil {
		return err
	}

	e.pending.Put(loginToken, pendingLogin{
		auth: &Authentication{
			Identity:    *identity,
			AccessToken: accessToken,
		},
		expiresAt: e.now().Add(pendingLoginTTL),
	}, 0)

	slog.Info("external identity authenticated",
		slog.String("external_id", identity.ID),
	)
	return nil
}

// ExchangeToken はログイントークンに対応するAuthenticationを返す。
// 交換は厳密に1回限りであり、ヒット・ミスに関わらずエントリは必ず削除される。
// エントリが存在しない、または4分の期限を過ぎている場合はnilを返す。
func (e *Exchange) ExchangeToken(loginToken string) *Authentication {
	entry, ok := e.pending.Remove(loginToken)
	if !ok {
		slog.Warn("login token not found", slog.String("login_token", loginToken))
		return nil
	}

	// 未認証のプレースホルダ（expiresAtゼロ値）も期限切れ扱いとする
	if entry.auth == nil || entry.expiresAt.Before(e.now()) {
		slog.Warn("login token expired", slog.String("login_token", loginToken))
		return nil
	}

	return entry.auth
}

// fetchUserInfo はアクセストークンをクエリパラメータとしてuserinfoを取得する。
func (e *Exchange) fetchUserInfo(ctx context.Context, accessToken string) (*model.Identity, error) {
	reqURL := e.config.UserInfoURL + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	start := e.now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()
	if e.metrics != nil {
		e.metrics.ObserveOutbound("userinfo", time.Since(start))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewProtocolError(
			fmt.Sprintf("user info fetch failed with status %d", resp.StatusCode), nil)
	}

	// 未知のフィールドは無視してデシリアライズする
	var identity model.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, model.NewProtocolError("failed to parse user info response", err)
	}

	if identity.ID == "" {
		return nil, model.NewProtocolError("empty id in user info response", nil)
	}

	return &identity, nil
}
