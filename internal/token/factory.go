// Package token はアクセストークンの発行、検証、ライフサイクル管理を提供する。
package token

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// defaultHashCost はbcryptのデフォルトコストパラメータ。
const defaultHashCost = bcrypt.DefaultCost

// Factory は不透明トークンの生成とハッシュ検証を提供する。
// 生成されるトークンはUUID相当のエントロピーを持つランダム文字列であり、
// 永続化されるのはソルト付きbcryptハッシュのみ。
type Factory struct {
	hashCost int
}

// NewFactory はデフォルトコストのFactoryを生成する。
func NewFactory() *Factory {
	return &Factory{hashCost: defaultHashCost}
}

// NewFactoryWithCost は指定コストのFactoryを生成する。
// コストが範囲外の場合はデフォルトコストを使用する。
func NewFactoryWithCost(cost int) *Factory {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultHashCost
	}
	return &Factory{hashCost: cost}
}

// Create は高エントロピーのランダムな不透明トークン文字列を生成する。
func (f *Factory) Create() string {
	return uuid.New().String()
}

// GenerateTokenHash はトークンの不可逆なソルト付きハッシュを生成する。
func (f *Factory) GenerateTokenHash(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), f.hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// ValidateToken はトークンがハッシュに一致するかを検証する。
// 比較はbcryptライブラリに委譲しており、失敗時のタイミングから
// トークンを推測できない。
func (f *Factory) ValidateToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
