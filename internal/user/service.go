// Package user はユーザーアカウントとパスワードのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/forgehub/internal/model"
	"github.com/hitoshi/forgehub/internal/repository"
)

// Service はユーザー管理のサービス層。
// パスワードのハッシュ化・照合と、外部ID初回ログイン時のアカウント作成を提供する。
type Service struct {
	userRepo repository.UserRepository
	hashCost int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		hashCost: bcrypt.DefaultCost,
	}
}

// NewServiceWithCost はbcryptコストを指定したServiceを生成する。
func NewServiceWithCost(userRepo repository.UserRepository, cost int) *Service {
	s := NewService(userRepo)
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.hashCost = cost
	}
	return s
}

// HashPassword はパスワードのbcryptハッシュを生成する。
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword はパスワードがユーザーのハッシュに一致するかを検証する。
// 比較はbcryptライブラリに委譲する。
func (s *Service) VerifyPassword(user *model.User, password string) bool {
	if user == nil || user.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// FindOrCreateByIdentity は外部IDのメールアドレスでユーザーを検索し、
// 未登録の場合は新規アカウントを作成する。
func (s *Service) FindOrCreateByIdentity(ctx context.Context, identity model.Identity) (*model.User, error) {
	email := strings.TrimSpace(strings.ToLower(identity.Email))
	if email == "" {
		return nil, model.NewProtocolError("external identity has no email", nil)
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	now := time.Now()
	user = &model.User{
		Email:     email,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Role:      model.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created from external identity",
		slog.Int64("user_id", user.ID),
		slog.String("email", email),
	)
	return user, nil
}

// ChangePassword はユーザーのパスワードを更新する。
func (s *Service) ChangePassword(ctx context.Context, userID int64, newPassword string) error {
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password changed", slog.Int64("user_id", userID))
	return nil
}
