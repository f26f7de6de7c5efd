package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger はヘルスチェックで疎通確認する依存先のインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check はデータベースの疎通を確認し、稼働状態を返す。
// GET /healthz
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
