package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/forgehub/internal/middleware"
	"github.com/hitoshi/forgehub/internal/model"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// UserAccountService はユーザーハンドラーが必要とするアカウント操作のインターフェース。
type UserAccountService interface {
	ChangePassword(ctx context.Context, userID int64, newPassword string) error
}

// UserHandler はユーザーアカウントのHTTPハンドラー。
type UserHandler struct {
	users UserAccountService
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users UserAccountService) *UserHandler {
	return &UserHandler{users: users}
}

// userResponse はユーザー情報のレスポンスボディ。
type userResponse struct {
	ID        int64                `json:"id"`
	Email     string               `json:"email"`
	FirstName string               `json:"first_name"`
	LastName  string               `json:"last_name"`
	Role      string               `json:"role"`
	Projects  []membershipResponse `json:"projects"`
}

type membershipResponse struct {
	ProjectID int64 `json:"project_id"`
	OwnerID   int64 `json:"owner_id"`
}

// Me は現在の認証済みユーザーの情報を返す。
// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil || principal.User == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	user := principal.User

	projects := make([]membershipResponse, 0, len(user.Memberships))
	for _, m := range user.Memberships {
		projects = append(projects, membershipResponse{
			ProjectID: m.ProjectID,
			OwnerID:   m.OwnerID,
		})
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      string(user.Role),
		Projects:  projects,
	})
}

// changePasswordRequest はパスワード変更リクエストのボディ。
type changePasswordRequest struct {
	Password string `json:"password"`
}

// ChangePassword は現在のユーザーのパスワードを変更する。
// PUT /users/me/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil || principal.User == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewProtocolError("malformed request body", err))
		return
	}

	if len(req.Password) < minPasswordLength {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "PASSWORD_TOO_SHORT",
			Message:  "パスワードが短すぎます。",
			Category: "validation",
			Action:   "8文字以上のパスワードを設定してください。",
		})
		return
	}

	if err := h.users.ChangePassword(r.Context(), principal.User.ID, req.Password); err != nil {
		slog.Error("failed to change password",
			slog.Int64("user_id", principal.User.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	slog.Info("password changed", slog.Int64("user_id", principal.User.ID))
	w.WriteHeader(http.StatusNoContent)
}
