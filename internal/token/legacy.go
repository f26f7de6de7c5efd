package token

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/hitoshi/forgehub/internal/model"
)

// legacyTokenSecret は旧クライアント向け認証トークンの固定シークレット。
// ユーザーごとのランダム値ではなく全ユーザー共通であるため暗号学的には弱い。
// デプロイ済みクライアントが保持するトークンとのビット互換を保つために残している。
// 新規のトークン発行には使用しないこと。
const legacyTokenSecret = "f2Z2NGLbBzDRSLYJcL6wpnXqJhx8rTYk"

// LegacyAuthToken は旧クライアント互換の認証トークンを返す。
// 出力はhex(SHA-256(secret || email))で、同一ユーザーには常に同じ値を返す。
func LegacyAuthToken(user *model.User) string {
	h := sha256.New()
	h.Write([]byte(legacyTokenSecret))
	h.Write([]byte(user.Email))
	return hex.EncodeToString(h.Sum(nil))
}
