package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forgehub/internal/middleware"
	"github.com/hitoshi/forgehub/internal/model"
)

// ProjectMemberService はプロジェクトハンドラーが必要とするメンバー管理のインターフェース。
type ProjectMemberService interface {
	AddMember(ctx context.Context, projectID, userID int64) error
}

// ProjectHandler はプロジェクトメンバーシップのHTTPハンドラー。
// ロール検証（member/owner）はルーター側のミドルウェアで行われる前提。
type ProjectHandler struct {
	projects ProjectMemberService
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(projects ProjectMemberService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// projectResponse はプロジェクトメンバーシップのレスポンスボディ。
type projectResponse struct {
	ProjectID int64 `json:"project_id"`
	OwnerID   int64 `json:"owner_id"`
	IsOwner   bool  `json:"is_owner"`
}

// Get は現在のユーザーから見たプロジェクトのメンバーシップ情報を返す。
// GET /projects/{projectID}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil || principal.User == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	user := principal.User

	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_PROJECT_ID",
			Message:  "プロジェクトIDが不正です。",
			Category: "validation",
			Action:   "数値のプロジェクトIDを指定してください。",
		})
		return
	}

	resp := projectResponse{ProjectID: projectID}
	for _, m := range user.Memberships {
		if m.ProjectID == projectID {
			resp.OwnerID = m.OwnerID
			resp.IsOwner = m.OwnerID == user.ID
			break
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// addMemberRequest はメンバー追加リクエストのボディ。
type addMemberRequest struct {
	UserID int64 `json:"user_id"`
}

// AddMember はプロジェクトにメンバーを追加する。
// POST /projects/{projectID}/members
func (h *ProjectHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_PROJECT_ID",
			Message:  "プロジェクトIDが不正です。",
			Category: "validation",
			Action:   "数値のプロジェクトIDを指定してください。",
		})
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_MEMBER",
			Message:  "追加するユーザーの指定が不正です。",
			Category: "validation",
			Action:   "user_idに追加するユーザーのIDを指定してください。",
		})
		return
	}

	if err := h.projects.AddMember(r.Context(), projectID, req.UserID); err != nil {
		slog.Error("failed to add project member",
			slog.Int64("project_id", projectID),
			slog.Int64("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	slog.Info("project member added",
		slog.Int64("project_id", projectID),
		slog.Int64("user_id", req.UserID),
	)
	w.WriteHeader(http.StatusNoContent)
}
