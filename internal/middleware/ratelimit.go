package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	LoginRate       rate.Limit    // ログイン系エンドポイントのレート（req/sec）。10/60
	LoginBurst      int           // ログイン系エンドポイントのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/クライアント、ログイン系 10 req/min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		LoginRate:       rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		LoginBurst:      10,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はクライアントごとのレート制限を管理する。
// API全般のレート制限とログイン系エンドポイントのレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*clientLimiter

	loginMu       sync.RWMutex
	loginLimiters map[string]*clientLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*clientLimiter),
		loginLimiters:   make(map[string]*clientLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// 認証済みリクエストはユーザーID、未認証リクエストはクライアントIPをキーとする。
// 認証ミドルウェアの後段に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestLimiterKey(r)

			limiter := rl.getOrCreateLimiter(&rl.generalMu, rl.generalLimiters, key,
				rl.config.GeneralRate, rl.config.GeneralBurst)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoginMiddleware はログイン系エンドポイント専用のレート制限ミドルウェアを返す。
// ログイン試行は匿名で到達するため、常にクライアントIPをキーとする。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) LoginMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := remoteIP(r)

			limiter := rl.getOrCreateLimiter(&rl.loginMu, rl.loginLimiters, key,
				rl.config.LoginRate, rl.config.LoginBurst)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.LoginRate)
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", "login"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// LoginLimiterCount は現在管理されているログイン系リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LoginLimiterCount() int {
	rl.loginMu.RLock()
	defer rl.loginMu.RUnlock()
	return len(rl.loginLimiters)
}

// getOrCreateLimiter はキーに対応するリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateLimiter(mu *sync.RWMutex, limiters map[string]*clientLimiter, key string, r rate.Limit, burst int) *rate.Limiter {
	mu.RLock()
	cl, exists := limiters[key]
	mu.RUnlock()

	if exists {
		mu.Lock()
		cl.lastAccess = time.Now()
		mu.Unlock()
		return cl.limiter
	}

	mu.Lock()
	defer mu.Unlock()

	// ダブルチェック
	if cl, exists := limiters[key]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for key, cl := range rl.generalLimiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.generalLimiters, key)
		}
	}
	rl.generalMu.Unlock()

	rl.loginMu.Lock()
	for key, cl := range rl.loginLimiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.loginLimiters, key)
		}
	}
	rl.loginMu.Unlock()
}

// requestLimiterKey はレート制限のキーを返す。
// 認証済みなら "user:<id>"、未認証ならクライアントIP。
func requestLimiterKey(r *http.Request) string {
	if principal, err := PrincipalFromContext(r.Context()); err == nil && principal.UserID() != 0 {
		return "user:" + strconv.FormatInt(principal.UserID(), 10)
	}
	return remoteIP(r)
}

// remoteIP はリクエスト元のIPアドレスを返す。
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
