// Package sso はDiscourse形式のフォーラムへのシングルサインオン連携を提供する。
// ペイロードのHMAC-SHA256署名/検証と、応答ペイロードの構築を行う。
package sso

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/forgehub/internal/model"
)

// noncePrefix はインバウンドペイロードの先頭に要求されるリテラル。
const noncePrefix = "nonce="

// Signer はフォーラムと共有するシークレットでSSOペイロードを署名・検証する。
type Signer struct {
	key []byte
}

// NewSigner はSignerを生成する。
func NewSigner(secret string) *Signer {
	return &Signer{key: []byte(secret)}
}

// Sign はデータのHMAC-SHA256署名を小文字hexで返す。
func (s *Signer) Sign(data string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify は署名がデータに対して有効かを定数時間比較で検証する。
func (s *Signer) Verify(data, signature string) bool {
	expected := s.Sign(data)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ResponseUser は応答ペイロードに含めるユーザー情報。
type ResponseUser struct {
	Name              string
	Username          string
	Email             string
	ExternalID        int64
	RequireActivation bool
}

// CreateResponsePayload はインバウンドペイロードからnonceを取り出し、
// フォーラムへ返す応答ペイロードを構築する。
//
// インバウンドペイロードはbase64エンコードされており、デコード結果は
// リテラル "nonce=" で始まらなければならない。応答は固定フィールド集合
// （nonce, name, username, email, external_id, require_activation）を
// URLフォームエンコードした上でbase64エンコードしたもの。
// 応答ペイロード自体は署名フィールドを持たない。トランスポート層が
// エンコード済みペイロード全体をSignで別途署名する。
func (s *Signer) CreateResponsePayload(inboundPayload string, user ResponseUser) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(inboundPayload)
	if err != nil {
		return "", model.NewProtocolError("failed to decode sso payload", err)
	}

	if !strings.HasPrefix(string(decoded), noncePrefix) {
		return "", model.NewProtocolError("sso payload does not carry a nonce", nil)
	}
	nonce := string(decoded[len(noncePrefix):])

	fields := url.Values{}
	fields.Set("nonce", nonce)
	fields.Set("name", user.Name)
	fields.Set("username", user.Username)
	fields.Set("email", user.Email)
	fields.Set("external_id", strconv.FormatInt(user.ExternalID, 10))
	fields.Set("require_activation", strconv.FormatBool(user.RequireActivation))

	return base64.StdEncoding.EncodeToString([]byte(fields.Encode())), nil
}
