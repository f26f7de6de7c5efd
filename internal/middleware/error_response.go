package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/forgehub/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAuthenticationError は401レスポンスを書き込む。
// realmが空でなければWWW-Authenticate: Basicチャレンジを付与する。
func WriteAuthenticationError(w http.ResponseWriter, realm string) {
	if realm != "" {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	}
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}

// WriteForbiddenError は403レスポンスを書き込む。
func WriteForbiddenError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteError はエラーの型に応じたステータスコードでレスポンスを書き込む。
//
//   - AuthenticationError → 401（realm付きならWWW-Authenticateチャレンジ）
//   - AuthorizationError  → 403
//   - ProtocolError       → 400
//   - APIError            → 400
//   - それ以外             → 500（詳細はログのみ）
func WriteError(w http.ResponseWriter, err error) {
	var authnErr *model.AuthenticationError
	if errors.As(err, &authnErr) {
		WriteAuthenticationError(w, authnErr.Realm)
		return
	}

	var authzErr *model.AuthorizationError
	if errors.As(err, &authzErr) {
		WriteForbiddenError(w)
		return
	}

	var protoErr *model.ProtocolError
	if errors.As(err, &protoErr) {
		WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeProtocolError,
			Message:  "外部プロバイダーとの通信に失敗しました。",
			Category: "protocol",
			Action:   "もう一度ログインをやり直してください。",
		})
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	slog.Error("unhandled error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}
