package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/forgehub/internal/cache"
	"github.com/hitoshi/forgehub/internal/middleware"
	"github.com/hitoshi/forgehub/internal/model"
	"github.com/hitoshi/forgehub/internal/oauth"
	"github.com/hitoshi/forgehub/internal/openid"
)

const (
	// pendingEndpointTTL はログイン開始からOPのリダイレクトが戻るまでの猶予時間。
	// この時間を超えて戻ってきたアサーションは検証できず、ログインやり直しとなる。
	pendingEndpointTTL = 30 * time.Minute

	// pendingEndpointCacheSize は同時に保留できるOPエンドポイント数の上限。
	pendingEndpointCacheSize = 32
)

// OpenIDService はログインハンドラーが必要とするOpenID RPのインターフェース。
type OpenIDService interface {
	LookupEndpoint(ctx context.Context, nameOrURL string) (openid.Endpoint, error)
	LookupAssociation(ctx context.Context, endpoint openid.Endpoint) (openid.Association, error)
	AuthenticationURL(endpoint openid.Endpoint, assoc openid.Association) string
	VerifyAuthentication(params url.Values, macKey []byte, alias string) (*openid.Authentication, error)
}

// OAuthExchangeService はログイントークンによる外部IDの交換インターフェース。
type OAuthExchangeService interface {
	NewLoginToken() (string, error)
	Authenticate(ctx context.Context, loginToken, accessToken string) error
	ExchangeToken(loginToken string) *oauth.Authentication
}

// IdentityService は外部IDからのユーザー解決インターフェース。
type IdentityService interface {
	FindOrCreateByIdentity(ctx context.Context, identity model.Identity) (*model.User, error)
}

// TokenIssuer はログイン成功時のトークン発行インターフェース。
type TokenIssuer interface {
	CreateSessionToken(ctx context.Context, user *model.User, ip string) (string, error)
}

// URLValidator はプロバイダーURLの事前検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ProfileSanitizer は外部IdP由来の表示名フィールドの無害化インターフェース。
type ProfileSanitizer interface {
	Sanitize(field string) string
}

// LoginMetrics はログイン成功を記録するメトリクスのインターフェース。
type LoginMetrics interface {
	RecordLogin(flow string)
}

// LoginHandler はOpenID 2.0とOAuth2の2系統のログインフローを処理する。
type LoginHandler struct {
	openID    OpenIDService
	exchange  OAuthExchangeService
	users     IdentityService
	tokens    TokenIssuer
	guard     URLValidator
	sanitizer ProfileSanitizer
	metrics   LoginMetrics
	// pendingEndpoints はログイン開始時に解決したOPエンドポイントを
	// エンドポイントURLで引けるように保持する。レスポンス処理で
	// openid.op_endpointからエイリアスとアソシエーション鍵を復元するために使う。
	pendingEndpoints *cache.Cache[string, openid.Endpoint]
}

// NewLoginHandler はLoginHandlerを生成する。metricsはnilでもよい。
func NewLoginHandler(openID OpenIDService, exchange OAuthExchangeService, users IdentityService, tokens TokenIssuer, guard URLValidator, sanitizer ProfileSanitizer, metrics LoginMetrics) *LoginHandler {
	return &LoginHandler{
		openID:           openID,
		exchange:         exchange,
		users:            users,
		tokens:           tokens,
		guard:            guard,
		sanitizer:        sanitizer,
		metrics:          metrics,
		pendingEndpoints: cache.New[string, openid.Endpoint](pendingEndpointCacheSize),
	}
}

// loginResponse はログイン成功時のレスポンスボディ。
type loginResponse struct {
	AuthToken string `json:"auth_token"`
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// OpenIDBegin はOpenIDログインを開始し、OPの認証画面へリダイレクトする。
// GET /login/openid/{provider}
//
// providerは短縮名（google, yahoo）またはディスカバリURLリテラル。
// URLリテラルの場合はSSRF対策の事前検証を通す。
func (h *LoginHandler) OpenIDBegin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	if strings.HasPrefix(provider, "http://") || strings.HasPrefix(provider, "https://") {
		if err := h.guard.ValidateURL(provider); err != nil {
			slog.Warn("blocked openid provider url",
				slog.String("url", provider),
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewSSRFBlockedError())
			return
		}
	}

	endpoint, err := h.openID.LookupEndpoint(r.Context(), provider)
	if err != nil {
		slog.Warn("openid discovery failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}

	assoc, err := h.openID.LookupAssociation(r.Context(), endpoint)
	if err != nil {
		slog.Warn("openid association failed",
			slog.String("endpoint", endpoint.URL),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}

	h.pendingEndpoints.Put(endpoint.URL, endpoint, pendingEndpointTTL)

	http.Redirect(w, r, h.openID.AuthenticationURL(endpoint, assoc), http.StatusFound)
}

// OpenIDResponse はOPからのリダイレクトを受け、認証アサーションを検証して
// セッショントークンを発行する。
// GET /login/openid/response
func (h *LoginHandler) OpenIDResponse(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	opEndpoint := params.Get("openid.op_endpoint")
	if opEndpoint == "" {
		middleware.WriteError(w, model.NewProtocolError("missing openid.op_endpoint", nil))
		return
	}

	// ログイン開始時に解決したエンドポイントを復元する。見つからない場合、
	// このサーバーから開始していないか保留期限を過ぎたアサーションであり拒否する。
	endpoint, ok := h.pendingEndpoints.Get(opEndpoint)
	if !ok {
		middleware.WriteError(w, model.NewProtocolError("no pending login for endpoint", nil))
		return
	}

	assoc, err := h.openID.LookupAssociation(r.Context(), endpoint)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	auth, err := h.openID.VerifyAuthentication(params, assoc.MACKey, endpoint.Alias)
	if err != nil {
		slog.Warn("openid verification failed",
			slog.String("endpoint", endpoint.URL),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}

	if auth.Email == "" {
		middleware.WriteError(w, model.NewProtocolError("assertion does not carry an email attribute", nil))
		return
	}

	firstName := auth.FirstName
	lastName := auth.LastName
	// AXが個別の姓名を返さないOP向けのフォールバック。
	if firstName == "" && lastName == "" && auth.FullName != "" {
		firstName = auth.FullName
	}

	identity := model.Identity{
		Email:     auth.Email,
		FirstName: h.sanitizer.Sanitize(firstName),
		LastName:  h.sanitizer.Sanitize(lastName),
	}

	h.completeLogin(w, r, identity, "openid")
}

// OAuthNewLoginToken は短命のログイントークンを発行する。
// POST /login/oauth/token
func (h *LoginHandler) OAuthNewLoginToken(w http.ResponseWriter, r *http.Request) {
	loginToken, err := h.exchange.NewLoginToken()
	if err != nil {
		slog.Error("failed to create login token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"login_token": loginToken})
}

// OAuthAuthenticate は外部アクセストークンをログイントークンに対応付ける。
// PUT /login/oauth/authenticate
//
// login_tokenとaccess_tokenはフォームまたはクエリパラメータで渡す。
func (h *LoginHandler) OAuthAuthenticate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		middleware.WriteError(w, model.NewProtocolError("malformed form body", err))
		return
	}

	loginToken := r.Form.Get("login_token")
	accessToken := r.Form.Get("access_token")
	if loginToken == "" || accessToken == "" {
		middleware.WriteError(w, model.NewProtocolError("login_token and access_token are required", nil))
		return
	}

	if err := h.exchange.Authenticate(r.Context(), loginToken, accessToken); err != nil {
		slog.Warn("oauth authenticate failed", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// OAuthResponse は認証済みのログイントークンを1回限りで消費し、
// セッショントークンを発行する。
// GET /login/oauth/response?login_token=...
func (h *LoginHandler) OAuthResponse(w http.ResponseWriter, r *http.Request) {
	loginToken := r.URL.Query().Get("login_token")
	if loginToken == "" {
		middleware.WriteError(w, model.NewProtocolError("login_token is required", nil))
		return
	}

	auth := h.exchange.ExchangeToken(loginToken)
	if auth == nil {
		// 未認証・期限切れ・既消費はいずれも同じ応答とし、トークンの状態を漏らさない。
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "LOGIN_TOKEN_INVALID",
			Message:  "ログイントークンが無効か、期限切れです。",
			Category: "auth",
			Action:   "ログインをやり直してください。",
		})
		return
	}

	identity := auth.Identity
	identity.FirstName = h.sanitizer.Sanitize(identity.FirstName)
	identity.LastName = h.sanitizer.Sanitize(identity.LastName)

	h.completeLogin(w, r, identity, "oauth")
}

// completeLogin は検証済みの外部IDからユーザーを解決し、セッショントークンを発行する。
func (h *LoginHandler) completeLogin(w http.ResponseWriter, r *http.Request, identity model.Identity, flow string) {
	user, err := h.users.FindOrCreateByIdentity(r.Context(), identity)
	if err != nil {
		slog.Error("failed to resolve user from identity",
			slog.String("email", identity.Email),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}

	authToken, err := h.tokens.CreateSessionToken(r.Context(), user, requestIP(r))
	if err != nil {
		slog.Error("failed to issue session token",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLogin(flow)
	}

	slog.Info("login completed",
		slog.Int64("user_id", user.ID),
		slog.String("flow", flow),
	)

	writeJSON(w, http.StatusOK, loginResponse{
		AuthToken: authToken,
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}
