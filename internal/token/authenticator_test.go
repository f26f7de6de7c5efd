package token

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/forgehub/internal/model"
	"github.com/hitoshi/forgehub/internal/repository"
)

// --- モック定義 ---

// mockTokenRepo はインメモリのTokenRepository実装。
type mockTokenRepo struct {
	tokens []*model.AccessToken

	storeFn  func(ctx context.Context, token *model.AccessToken) error
	deleteFn func(ctx context.Context, token *model.AccessToken) error
}

func (m *mockTokenRepo) Store(ctx context.Context, token *model.AccessToken) error {
	if m.storeFn != nil {
		return m.storeFn(ctx, token)
	}
	for i, t := range m.tokens {
		if t.UserID == token.UserID && t.TokenHash == token.TokenHash {
			m.tokens[i] = token
			return nil
		}
	}
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *mockTokenRepo) FindByUser(ctx context.Context, userID int64) ([]*model.AccessToken, error) {
	var found []*model.AccessToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			found = append(found, t)
		}
	}
	return found, nil
}

func (m *mockTokenRepo) Delete(ctx context.Context, token *model.AccessToken) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, token)
	}
	for i, t := range m.tokens {
		if t.UserID == token.UserID && t.TokenHash == token.TokenHash {
			m.tokens = append(m.tokens[:i], m.tokens[i+1:]...)
			return nil
		}
	}
	return nil
}

var _ repository.TokenRepository = (*mockTokenRepo)(nil)

func newTestAuthenticator(repo repository.TokenRepository) *Authenticator {
	return NewAuthenticator(NewFactoryWithCost(bcrypt.MinCost), repo, nil)
}

func testUser() *model.User {
	return &model.User{ID: 42, Email: "dev@example.com", Role: model.RoleUser}
}

// --- テスト ---

func TestAuthenticator_Authenticate_AcceptsFreshSessionToken(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()

	raw, err := auth.CreateSessionToken(ctx, user, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSessionToken() error = %v", err)
	}

	ok, err := auth.Authenticate(ctx, user, raw, "10.0.0.2")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Error("Authenticate() = false, want true for freshly minted token")
	}
}

func TestAuthenticator_Authenticate_SlidesSessionExpiry(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()

	raw, err := auth.CreateSessionToken(ctx, user, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSessionToken() error = %v", err)
	}

	// 発行時刻から12時間後に認証する
	later := time.Now().Add(12 * time.Hour)
	auth.now = func() time.Time { return later }

	ok, err := auth.Authenticate(ctx, user, raw, "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Fatal("Authenticate() = false, want true")
	}

	stored := repo.tokens[0]
	if stored.Expires == nil {
		t.Fatal("session token should retain an expiry")
	}
	// 有効期限がnow+24h付近にスライドしていること
	wantMin := later.Add(24*time.Hour - time.Minute)
	if stored.Expires.Before(wantMin) {
		t.Errorf("expires = %v, want at least %v", stored.Expires, wantMin)
	}
	if !stored.LastUsed.Equal(later) {
		t.Errorf("lastUsed = %v, want %v", stored.LastUsed, later)
	}
}

func TestAuthenticator_Authenticate_LifetimeTokenKeepsNilExpiry(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()

	raw, err := auth.CreateLifetimeToken(ctx, user, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateLifetimeToken() error = %v", err)
	}

	ok, err := auth.Authenticate(ctx, user, raw, "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Fatal("Authenticate() = false, want true")
	}
	if repo.tokens[0].Expires != nil {
		t.Error("lifetime token expires should stay nil after authentication")
	}
}

func TestAuthenticator_CreateLifetimeToken_EnforcesSingleLifetimeToken(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()

	if _, err := auth.CreateLifetimeToken(ctx, user, "10.0.0.1"); err != nil {
		t.Fatalf("CreateLifetimeToken() error = %v", err)
	}
	second, err := auth.CreateLifetimeToken(ctx, user, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateLifetimeToken() error = %v", err)
	}

	lifetime := 0
	for _, tok := range repo.tokens {
		if tok.IsLifetime() {
			lifetime++
		}
	}
	if lifetime != 1 {
		t.Errorf("lifetime token count = %d, want exactly 1", lifetime)
	}

	// 残っているのは2回目のトークン
	ok, err := auth.Authenticate(ctx, user, second, "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Error("second lifetime token should authenticate")
	}
}

func TestAuthenticator_Authenticate_RejectsTamperedTokenWithoutUpdate(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()

	raw, err := auth.CreateSessionToken(ctx, user, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSessionToken() error = %v", err)
	}
	lastUsedBefore := repo.tokens[0].LastUsed

	ok, err := auth.Authenticate(ctx, user, raw+"tampered", "10.0.0.9")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ok {
		t.Error("Authenticate() = true, want false for tampered token")
	}
	if !repo.tokens[0].LastUsed.Equal(lastUsedBefore) {
		t.Error("lastUsed should be unchanged after a failed authentication")
	}
}

func TestAuthenticator_Authenticate_PurgesExpiredTokensLazily(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()

	raw, err := auth.CreateSessionToken(ctx, user, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSessionToken() error = %v", err)
	}

	// 24時間の有効期限を超過させる
	auth.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	ok, err := auth.Authenticate(ctx, user, raw, "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ok {
		t.Error("Authenticate() = true, want false for expired token")
	}
	if len(repo.tokens) != 0 {
		t.Errorf("expired token should be purged, %d tokens remain", len(repo.tokens))
	}
}

func TestAuthenticator_Authenticate_PurgesExpiredEvenWhenAnotherTokenMatches(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()

	// 期限切れのセッショントークンとライフタイムトークンを用意する
	if _, err := auth.CreateSessionToken(ctx, user, "10.0.0.1"); err != nil {
		t.Fatalf("CreateSessionToken() error = %v", err)
	}
	lifetimeRaw, err := auth.CreateLifetimeToken(ctx, user, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateLifetimeToken() error = %v", err)
	}

	auth.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	ok, err := auth.Authenticate(ctx, user, lifetimeRaw, "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Fatal("lifetime token should still authenticate")
	}
	if len(repo.tokens) != 1 {
		t.Errorf("expired session token should be purged, %d tokens remain", len(repo.tokens))
	}
	if !repo.tokens[0].IsLifetime() {
		t.Error("the remaining token should be the lifetime token")
	}
}

func TestLegacyAuthToken_IsDeterministicPerUser(t *testing.T) {
	user := testUser()
	other := &model.User{ID: 7, Email: "other@example.com"}

	t1 := LegacyAuthToken(user)
	t2 := LegacyAuthToken(user)
	t3 := LegacyAuthToken(other)

	if t1 != t2 {
		t.Error("legacy token should be stable for the same user")
	}
	if t1 == t3 {
		t.Error("legacy token should differ between users")
	}
	if len(t1) != 64 {
		t.Errorf("legacy token length = %d, want 64 hex chars", len(t1))
	}
}

func TestAuthenticator_RevokeAll_DeletesEveryToken(t *testing.T) {
	ctx := context.Background()
	repo := &mockTokenRepo{}
	auth := newTestAuthenticator(repo)
	user := testUser()
	other := &model.User{ID: 7, Email: "other@example.com", Role: model.RoleUser}

	if _, err := auth.CreateSessionToken(ctx, user, "10.0.0.1"); err != nil {
		t.Fatalf("CreateSessionToken failed: %v", err)
	}
	if _, err := auth.CreateLifetimeToken(ctx, user, "10.0.0.1"); err != nil {
		t.Fatalf("CreateLifetimeToken failed: %v", err)
	}
	if _, err := auth.CreateSessionToken(ctx, other, "10.0.0.2"); err != nil {
		t.Fatalf("CreateSessionToken for other user failed: %v", err)
	}

	revoked, err := auth.RevokeAll(ctx, user)
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if revoked != 2 {
		t.Errorf("revoked count = %d, want 2", revoked)
	}

	remaining, _ := repo.FindByUser(ctx, user.ID)
	if len(remaining) != 0 {
		t.Errorf("user should have no tokens after RevokeAll, got %d", len(remaining))
	}

	// 他ユーザーのトークンには影響しない
	otherTokens, _ := repo.FindByUser(ctx, other.ID)
	if len(otherTokens) != 1 {
		t.Errorf("other user's tokens should be untouched, got %d", len(otherTokens))
	}
}

func TestAuthenticator_RevokeAll_EmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthenticator(&mockTokenRepo{})

	revoked, err := auth.RevokeAll(ctx, testUser())
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if revoked != 0 {
		t.Errorf("revoked count = %d, want 0", revoked)
	}
}
