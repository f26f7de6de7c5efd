package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/forgehub/internal/middleware"
	"github.com/hitoshi/forgehub/internal/model"
)

// TokenLifecycleService はトークンハンドラーが必要とする発行・失効のインターフェース。
type TokenLifecycleService interface {
	CreateSessionToken(ctx context.Context, user *model.User, ip string) (string, error)
	CreateLifetimeToken(ctx context.Context, user *model.User, ip string) (string, error)
	RevokeAll(ctx context.Context, user *model.User) (int, error)
}

// TokenHandler はアクセストークンの発行と失効のHTTPハンドラー。
type TokenHandler struct {
	tokens TokenLifecycleService
}

// NewTokenHandler はTokenHandlerを生成する。
func NewTokenHandler(tokens TokenLifecycleService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// createTokenRequest はトークン発行リクエストのボディ。
// typeは "session"（既定）または "lifetime"。
type createTokenRequest struct {
	Type string `json:"type"`
}

// Create は認証済みユーザーに新しいアクセストークンを発行する。
// POST /tokens
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil || principal.User == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req createTokenRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, model.NewProtocolError("malformed request body", err))
			return
		}
	}

	var rawToken string
	lifetime := false
	switch req.Type {
	case "", "session":
		rawToken, err = h.tokens.CreateSessionToken(r.Context(), principal.User, requestIP(r))
	case "lifetime":
		lifetime = true
		rawToken, err = h.tokens.CreateLifetimeToken(r.Context(), principal.User, requestIP(r))
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_TOKEN_TYPE",
			Message:  "トークン種別が不正です。",
			Category: "validation",
			Action:   "typeには session または lifetime を指定してください。",
		})
		return
	}
	if err != nil {
		slog.Error("failed to issue access token",
			slog.Int64("user_id", principal.User.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"auth_token": rawToken,
		"lifetime":   lifetime,
	})
}

// RevokeAll は認証済みユーザーの全トークンを失効させる。
// DELETE /tokens
func (h *TokenHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil || principal.User == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	if _, err := h.tokens.RevokeAll(r.Context(), principal.User); err != nil {
		slog.Error("failed to revoke tokens",
			slog.Int64("user_id", principal.User.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
