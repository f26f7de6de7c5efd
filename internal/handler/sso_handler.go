package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/forgehub/internal/middleware"
	"github.com/hitoshi/forgehub/internal/model"
	"github.com/hitoshi/forgehub/internal/sso"
)

// SSOService はSSOハンドラーが必要とする署名・ペイロード構築のインターフェース。
type SSOService interface {
	Sign(data string) string
	Verify(data, signature string) bool
	CreateResponsePayload(inboundPayload string, user sso.ResponseUser) (string, error)
}

// SSOHandler はフォーラム（Discourse互換）からのSSOログイン要求を処理する。
type SSOHandler struct {
	signer   SSOService
	forumURL string
}

// NewSSOHandler はSSOHandlerを生成する。
// forumURLはフォーラムのベースURL（末尾スラッシュなし）。
func NewSSOHandler(signer SSOService, forumURL string) *SSOHandler {
	return &SSOHandler{
		signer:   signer,
		forumURL: strings.TrimRight(forumURL, "/"),
	}
}

// Login はフォーラムからのSSO要求を検証し、署名済み応答とともに
// フォーラムのログイン完了エンドポイントへリダイレクトする。
// GET /sso?sso=...&sig=...
func (h *SSOHandler) Login(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil || principal.User == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	user := principal.User

	payload := r.URL.Query().Get("sso")
	signature := r.URL.Query().Get("sig")
	if payload == "" || signature == "" {
		middleware.WriteError(w, model.NewProtocolError("sso and sig are required", nil))
		return
	}

	if !h.signer.Verify(payload, signature) {
		slog.Warn("sso signature mismatch", slog.Int64("user_id", user.ID))
		middleware.WriteError(w, model.NewProtocolError("sso signature mismatch", nil))
		return
	}

	responsePayload, err := h.signer.CreateResponsePayload(payload, sso.ResponseUser{
		Name:              displayName(user),
		Username:          forumUsername(user.Email),
		Email:             user.Email,
		ExternalID:        user.ID,
		RequireActivation: false,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	redirect := h.forumURL + "/session/sso_login" +
		"?sso=" + url.QueryEscape(responsePayload) +
		"&sig=" + h.signer.Sign(responsePayload)

	slog.Info("sso login completed", slog.Int64("user_id", user.ID))

	http.Redirect(w, r, redirect, http.StatusFound)
}

// displayName は姓名を連結した表示名を返す。両方空の場合はメールアドレスを使う。
func displayName(user *model.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		return user.Email
	}
	return name
}

// forumUsername はメールアドレスのローカル部からフォーラム用ユーザー名を導出する。
// 英数字とアンダースコア以外はアンダースコアに置換する。
func forumUsername(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}

	var b strings.Builder
	for _, c := range local {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
