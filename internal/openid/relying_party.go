// Package openid はOpenID 2.0のRelying Party（RP）側の実装を提供する。
// エンドポイントディスカバリ、アソシエーション交渉、リダイレクトURL構築、
// 認証アサーションの署名検証を行う。OpenID Providerの実装は対象外。
package openid

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/forgehub/internal/cache"
	"github.com/hitoshi/forgehub/internal/model"
)

const (
	// openidNS はOpenID 2.0の名前空間URI。
	openidNS = "http://specs.openid.net/auth/2.0"
	// identifierSelect はOP側でのユーザー選択を要求する識別子。
	identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"
	// axNS はAttribute Exchange拡張の名前空間URI。
	axNS = "http://openid.net/srv/ax/1.0"

	// defaultEndpointTTL はCache-Controlヘッダーが無い場合のエンドポイントキャッシュTTL。
	defaultEndpointTTL = 10 * time.Minute

	// associationExpiryFactor はOPが宣言した有効期間に掛ける安全係数。
	// クロックスキューと再ネゴシエーション競合への余裕を確保する。
	associationExpiryFactor = 0.9

	// endpointCacheSize / associationCacheSize はキャッシュの上限エントリ数。
	// プロバイダー数は少数のため小さな上限で十分。
	endpointCacheSize    = 32
	associationCacheSize = 32
)

// Endpoint はディスカバリで解決したOPのエンドポイントを表す。
// 同一性はURLのみで定義される。
type Endpoint struct {
	URL       string
	Alias     string
	ExpiresAt time.Time
}

// Association はRPとOPの間で交渉した共有シークレットを表す。
// MACKeyは生のHMAC鍵バイト列。
type Association struct {
	SessionType string
	AssocType   string
	Handle      string
	MACKey      []byte
	ExpiresAt   time.Time
}

// Provider は短縮名で参照できるOpenIDプロバイダーの定義。
type Provider struct {
	URL   string
	Alias string
}

// Metrics はRelyingPartyが記録するメトリクスのインターフェース。
type Metrics interface {
	ObserveOutbound(operation string, d time.Duration)
}

// Config はRelyingPartyの設定。
type Config struct {
	// ReturnTo は認証完了後にOPがリダイレクトする自サーバーのURL。
	// インバウンド検証ではopenid.return_toがこの値と完全一致する必要がある。
	ReturnTo string
	// Realm はOPの確認画面に表示される信頼ドメイン。空の場合は送信しない。
	Realm string
	// Providers は短縮名→プロバイダー定義のテーブル。
	// nilの場合はDefaultProviders()を使用する。起動時に1回ロードされ、以後不変。
	Providers map[string]Provider
}

// DefaultProviders は既定のプロバイダーテーブルを返す。
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		"google": {URL: "https://www.google.com/accounts/o8/id", Alias: "ext1"},
		"yahoo":  {URL: "https://me.yahoo.com", Alias: "ax"},
	}
}

// defaultAlias はURLを直接指定された場合に使用するAXエイリアス。
const defaultAlias = "ext1"

// RelyingParty はOpenID 2.0のRP実装。
// エンドポイントとアソシエーションのキャッシュは複数リクエスト間で共有され、
// 競合時に冗長なアウトバウンド呼び出しが発生しうるが結果の正しさには影響しない。
type RelyingParty struct {
	client       *http.Client
	config       Config
	providers    map[string]Provider
	endpoints    *cache.Cache[string, Endpoint]
	associations *cache.Cache[string, Association]
	metrics      Metrics
	// now は現在時刻の取得関数。テストで差し替える。
	now func() time.Time
}

// NewRelyingParty はRelyingPartyを生成する。
// clientにはタイムアウト付きのHTTPクライアントを渡すこと。metricsはnilでもよい。
func NewRelyingParty(client *http.Client, config Config, metrics Metrics) *RelyingParty {
	providers := config.Providers
	if providers == nil {
		providers = DefaultProviders()
	}
	return &RelyingParty{
		client:       client,
		config:       config,
		providers:    providers,
		endpoints:    cache.New[string, Endpoint](endpointCacheSize),
		associations: cache.New[string, Association](associationCacheSize),
		metrics:      metrics,
		now:          time.Now,
	}
}

// LookupEndpoint はプロバイダー名またはURLからOPエンドポイントを解決する。
// 引数がURLリテラルの場合はそのまま使用し、そうでなければ短縮名テーブルを引く。
// 未知の短縮名はプロトコルエラー。キャッシュヒット時（同一URL、TTL内）は
// アウトバウンド呼び出しを行わない。
func (rp *RelyingParty) LookupEndpoint(ctx context.Context, nameOrURL string) (Endpoint, error) {
	discoveryURL := nameOrURL
	alias := defaultAlias

	if !strings.HasPrefix(nameOrURL, "http://") && !strings.HasPrefix(nameOrURL, "https://") {
		provider, ok := rp.providers[nameOrURL]
		if !ok {
			return Endpoint{}, model.NewProtocolError(
				fmt.Sprintf("unknown openid provider %q", nameOrURL), nil)
		}
		discoveryURL = provider.URL
		alias = provider.Alias
	}

	return rp.endpoints.GetOrFetch(discoveryURL, func() (Endpoint, time.Duration, error) {
		return rp.discover(ctx, discoveryURL, alias)
	})
}

// discover はXRDSディスカバリドキュメントを取得し、最初の<URI>要素を抽出する。
func (rp *RelyingParty) discover(ctx context.Context, discoveryURL, alias string) (Endpoint, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return Endpoint{}, 0, model.NewProtocolError("failed to create discovery request", err)
	}
	req.Header.Set("Accept", "application/xrds+xml")
	req.Header.Set("Accept-Encoding", "gzip")

	start := rp.now()
	resp, err := rp.client.Do(req)
	if err != nil {
		return Endpoint{}, 0, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()
	if rp.metrics != nil {
		rp.metrics.ObserveOutbound("discovery", time.Since(start))
	}

	if resp.StatusCode != http.StatusOK {
		return Endpoint{}, 0, model.NewProtocolError(
			fmt.Sprintf("discovery returned status %d", resp.StatusCode), nil)
	}

	body, err := readBody(resp)
	if err != nil {
		return Endpoint{}, 0, model.NewProtocolError("failed to read discovery response", err)
	}

	endpointURL, err := extractFirstURI(string(body))
	if err != nil {
		return Endpoint{}, 0, err
	}

	ttl := cacheTTL(resp.Header.Get("Cache-Control"))

	endpoint := Endpoint{
		URL:       endpointURL,
		Alias:     alias,
		ExpiresAt: rp.now().Add(ttl),
	}
	return endpoint, ttl, nil
}

// LookupAssociation はエンドポイントとのアソシエーションを取得する。
// キャッシュはエンドポイントURLをキーとする。ミス時は固定のアソシエーション
// リクエストをPOSTし、コロン区切りのレスポンスをパースする。
func (rp *RelyingParty) LookupAssociation(ctx context.Context, endpoint Endpoint) (Association, error) {
	return rp.associations.GetOrFetch(endpoint.URL, func() (Association, time.Duration, error) {
		return rp.associate(ctx, endpoint)
	})
}

// associate はOPに対してアソシエーション要求を送信する。
func (rp *RelyingParty) associate(ctx context.Context, endpoint Endpoint) (Association, time.Duration, error) {
	body := "openid.ns=" + url.QueryEscape(openidNS) +
		"&openid.mode=associate" +
		"&openid.session_type=no-encryption" +
		"&openid.assoc_type=HMAC-SHA1"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, strings.NewReader(body))
	if err != nil {
		return Association{}, 0, model.NewProtocolError("failed to create association request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := rp.now()
	resp, err := rp.client.Do(req)
	if err != nil {
		return Association{}, 0, fmt.Errorf("association request failed: %w", err)
	}
	defer resp.Body.Close()
	if rp.metrics != nil {
		rp.metrics.ObserveOutbound("association", time.Since(start))
	}

	if resp.StatusCode != http.StatusOK {
		return Association{}, 0, model.NewProtocolError(
			fmt.Sprintf("association returned status %d", resp.StatusCode), nil)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Association{}, 0, model.NewProtocolError("failed to read association response", err)
	}

	assoc, maxAge, err := parseAssociation(string(respBody))
	if err != nil {
		return Association{}, 0, err
	}

	// 宣言された有効期間に安全係数を掛ける
	ttl := time.Duration(float64(maxAge) * associationExpiryFactor * float64(time.Second))
	assoc.ExpiresAt = rp.now().Add(ttl)

	return assoc, ttl, nil
}

// AuthenticationURL はOPへのリダイレクトURLを構築する。
// claimed_id/identity、checkid_setupモード、AX属性要求、return_to、
// assoc_handle、および設定されていればrealmを含む。
func (rp *RelyingParty) AuthenticationURL(endpoint Endpoint, assoc Association) string {
	alias := endpoint.Alias

	params := url.Values{}
	params.Set("openid.ns", openidNS)
	params.Set("openid.claimed_id", identifierSelect)
	params.Set("openid.identity", identifierSelect)
	params.Set("openid.mode", "checkid_setup")
	params.Set("openid.ns."+alias, axNS)
	params.Set("openid."+alias+".mode", "fetch_request")
	params.Set("openid."+alias+".type.email", "http://axschema.org/contact/email")
	params.Set("openid."+alias+".type.fullname", "http://axschema.org/namePerson")
	params.Set("openid."+alias+".type.firstname", "http://axschema.org/namePerson/first")
	params.Set("openid."+alias+".type.lastname", "http://axschema.org/namePerson/last")
	params.Set("openid."+alias+".type.language", "http://axschema.org/pref/language")
	params.Set("openid."+alias+".type.gender", "http://axschema.org/person/gender")
	params.Set("openid."+alias+".required", "email,fullname,firstname,lastname,language,gender")
	params.Set("openid.return_to", rp.config.ReturnTo)
	params.Set("openid.assoc_handle", assoc.Handle)
	if rp.config.Realm != "" {
		params.Set("openid.realm", rp.config.Realm)
	}

	return endpoint.URL + "?" + params.Encode()
}

// readBody はgzip圧縮を考慮してレスポンスボディを読み取る。
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// extractFirstURI はXRDSドキュメントから最初の<URI>要素のテキストを抽出する。
// 完全なXMLパースは意図的に行わない。契約は「最初のURI要素のテキストを返す」のみ。
func extractFirstURI(body string) (string, error) {
	const openTag = "<URI"
	const closeTag = "</URI>"

	start := strings.Index(body, openTag)
	if start < 0 {
		return "", model.NewProtocolError("no URI element in discovery document", nil)
	}
	// 属性付きの開始タグを許容する
	gt := strings.Index(body[start:], ">")
	if gt < 0 {
		return "", model.NewProtocolError("malformed URI element in discovery document", nil)
	}
	rest := body[start+gt+1:]

	end := strings.Index(rest, closeTag)
	if end < 0 {
		return "", model.NewProtocolError("unterminated URI element in discovery document", nil)
	}

	uri := strings.TrimSpace(rest[:end])
	if uri == "" {
		return "", model.NewProtocolError("empty URI element in discovery document", nil)
	}
	return uri, nil
}

// parseAssociation はコロン区切りのアソシエーションレスポンスをパースする。
// 戻り値のmaxAgeはOPが宣言したexpires_in（秒）。
func parseAssociation(body string) (Association, int, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return Association{}, 0, model.NewProtocolError(
				fmt.Sprintf("malformed association response line %q", line), nil)
		}
		fields[key] = value
	}

	for _, required := range []string{"assoc_handle", "session_type", "assoc_type", "mac_key", "expires_in"} {
		if fields[required] == "" {
			return Association{}, 0, model.NewProtocolError(
				fmt.Sprintf("association response missing %s", required), nil)
		}
	}

	macKey, err := base64Decode(fields["mac_key"])
	if err != nil {
		return Association{}, 0, model.NewProtocolError("invalid mac_key encoding", err)
	}

	maxAge, err := strconv.Atoi(fields["expires_in"])
	if err != nil || maxAge <= 0 {
		return Association{}, 0, model.NewProtocolError(
			fmt.Sprintf("invalid expires_in %q", fields["expires_in"]), err)
	}

	return Association{
		SessionType: fields["session_type"],
		AssocType:   fields["assoc_type"],
		Handle:      fields["assoc_handle"],
		MACKey:      macKey,
	}, maxAge, nil
}

// cacheTTL はCache-Controlヘッダーからmax-ageを取り出す。
// max-ageが無い場合はデフォルトTTLを返す。
func cacheTTL(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			seconds, err := strconv.Atoi(value)
			if err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return defaultEndpointTTL
}
