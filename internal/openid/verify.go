package openid

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/hitoshi/forgehub/internal/model"
)

// Authentication はOPが署名した認証アサーションから抽出したユーザー情報を表す。
type Authentication struct {
	Identity  string
	Email     string
	FullName  string
	FirstName string
	LastName  string
	Language  string
	Gender    string
}

// VerifyAuthentication はインバウンドのOpenID認証アサーションを検証する。
//
// 検証アルゴリズム:
//  1. openid.identity、openid.sig、openid.signedの存在を要求する。
//     openid.invalidate_handleが存在する場合は拒否する。
//  2. openid.return_toが設定済みのリターンURLと完全一致することを要求する
//     （別エンドポイントへのリプレイを拒否する）。
//  3. openid.signedのカンマ区切りトークン列をその順序で "token:value\n" に連結して
//     署名対象文字列を再構築する（対応パラメータが無い場合は空値）。
//  4. アソシエーションの生MAC鍵でHMAC-SHA1を計算し、base64エンコードして
//     openid.sigと全長の定数時間比較を行う。
//  5. 成功時にAX属性を抽出する。
//
// いずれかの段階で失敗した場合はプロトコルエラーを返し、部分的な信頼は一切与えない。
func (rp *RelyingParty) VerifyAuthentication(params url.Values, macKey []byte, alias string) (*Authentication, error) {
	identity := params.Get("openid.identity")
	sig := params.Get("openid.sig")
	signed := params.Get("openid.signed")

	if identity == "" || sig == "" || signed == "" {
		return nil, model.NewProtocolError("missing required openid parameters", nil)
	}
	if params.Get("openid.invalidate_handle") != "" {
		return nil, model.NewProtocolError("association handle invalidated by provider", nil)
	}

	if params.Get("openid.return_to") != rp.config.ReturnTo {
		return nil, model.NewProtocolError("openid.return_to does not match configured return URL", nil)
	}

	// 署名対象文字列の再構築
	var sb strings.Builder
	for _, token := range strings.Split(signed, ",") {
		sb.WriteString(token)
		sb.WriteString(":")
		sb.WriteString(params.Get("openid." + token))
		sb.WriteString("\n")
	}

	mac := hmac.New(sha1.New, macKey)
	mac.Write([]byte(sb.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// 全長の定数時間比較。先頭不一致で打ち切らない。
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, model.NewProtocolError("openid signature verification failed", nil)
	}

	return extractAttributes(params, identity, alias), nil
}

// extractAttributes は検証済みアサーションからAX属性を抽出する。
// firstname/lastnameを個別に提供しないプロバイダーに対しては、
// fullnameを最初/最後のスペースで分割した値にフォールバックする。
func extractAttributes(params url.Values, identity, alias string) *Authentication {
	prefix := "openid." + alias + ".value."

	auth := &Authentication{
		Identity: identity,
		Email:    params.Get(prefix + "email"),
		FullName: params.Get(prefix + "fullname"),
		Language: params.Get(prefix + "language"),
		Gender:   params.Get(prefix + "gender"),
	}

	auth.FirstName = params.Get(prefix + "firstname")
	auth.LastName = params.Get(prefix + "lastname")

	if auth.FirstName == "" && auth.FullName != "" {
		if i := strings.Index(auth.FullName, " "); i >= 0 {
			auth.FirstName = auth.FullName[:i]
		} else {
			auth.FirstName = auth.FullName
		}
	}
	if auth.LastName == "" && auth.FullName != "" {
		if i := strings.LastIndex(auth.FullName, " "); i >= 0 {
			auth.LastName = auth.FullName[i+1:]
		} else {
			auth.LastName = auth.FullName
		}
	}

	return auth
}

// base64Decode は標準base64をデコードする。
func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
