package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/forgehub/internal/middleware"
	"github.com/hitoshi/forgehub/internal/model"
)

// --- モック定義 ---

type mockTokenLifecycle struct {
	createSessionTokenFn  func(ctx context.Context, user *model.User, ip string) (string, error)
	createLifetimeTokenFn func(ctx context.Context, user *model.User, ip string) (string, error)
	revokeAllFn           func(ctx context.Context, user *model.User) (int, error)
}

func (m *mockTokenLifecycle) CreateSessionToken(ctx context.Context, user *model.User, ip string) (string, error) {
	return m.createSessionTokenFn(ctx, user, ip)
}

func (m *mockTokenLifecycle) CreateLifetimeToken(ctx context.Context, user *model.User, ip string) (string, error) {
	return m.createLifetimeTokenFn(ctx, user, ip)
}

func (m *mockTokenLifecycle) RevokeAll(ctx context.Context, user *model.User) (int, error) {
	return m.revokeAllFn(ctx, user)
}

var _ TokenLifecycleService = (*mockTokenLifecycle)(nil)

// --- テストヘルパー ---

// asUser は認証済みプリンシパルをコンテキストに載せたリクエストを返す。
func asUser(req *http.Request, user *model.User) *http.Request {
	principal := &model.Principal{User: user, Role: user.Role}
	return req.WithContext(middleware.ContextWithPrincipal(req.Context(), principal))
}

func testUser() *model.User {
	return &model.User{ID: 7, Email: "dev@example.com", Role: model.RoleUser}
}

// --- テスト ---

func TestTokenCreate_SessionByDefault(t *testing.T) {
	var sessionCalls int
	h := NewTokenHandler(&mockTokenLifecycle{
		createSessionTokenFn: func(ctx context.Context, user *model.User, ip string) (string, error) {
			sessionCalls++
			return "raw-session", nil
		},
	})

	req := asUser(httptest.NewRequest(http.MethodPost, "/tokens", nil), testUser())
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status code: got %d, want %d (body: %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if sessionCalls != 1 {
		t.Errorf("session token creations: got %d, want 1", sessionCalls)
	}

	var resp struct {
		AuthToken string `json:"auth_token"`
		Lifetime  bool   `json:"lifetime"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AuthToken != "raw-session" {
		t.Errorf("auth_token: got %q", resp.AuthToken)
	}
	if resp.Lifetime {
		t.Error("lifetime should be false for session token")
	}
}

func TestTokenCreate_Lifetime(t *testing.T) {
	h := NewTokenHandler(&mockTokenLifecycle{
		createLifetimeTokenFn: func(ctx context.Context, user *model.User, ip string) (string, error) {
			return "raw-lifetime", nil
		},
	})

	body := strings.NewReader(`{"type":"lifetime"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/tokens", body), testUser())
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status code: got %d, want %d (body: %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp struct {
		AuthToken string `json:"auth_token"`
		Lifetime  bool   `json:"lifetime"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AuthToken != "raw-lifetime" || !resp.Lifetime {
		t.Errorf("response: got %+v", resp)
	}
}

func TestTokenCreate_InvalidType(t *testing.T) {
	h := NewTokenHandler(&mockTokenLifecycle{})

	body := strings.NewReader(`{"type":"forever"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/tokens", body), testUser())
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTokenCreate_WithoutPrincipal(t *testing.T) {
	h := NewTokenHandler(&mockTokenLifecycle{})

	req := httptest.NewRequest(http.MethodPost, "/tokens", nil)
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestTokenCreate_IssueFailure(t *testing.T) {
	h := NewTokenHandler(&mockTokenLifecycle{
		createSessionTokenFn: func(ctx context.Context, user *model.User, ip string) (string, error) {
			return "", errors.New("db down")
		},
	})

	req := asUser(httptest.NewRequest(http.MethodPost, "/tokens", nil), testUser())
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestTokenRevokeAll(t *testing.T) {
	var revokedUserID int64
	h := NewTokenHandler(&mockTokenLifecycle{
		revokeAllFn: func(ctx context.Context, user *model.User) (int, error) {
			revokedUserID = user.ID
			return 3, nil
		},
	})

	req := asUser(httptest.NewRequest(http.MethodDelete, "/tokens", nil), testUser())
	rec := httptest.NewRecorder()
	h.RevokeAll(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status code: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if revokedUserID != 7 {
		t.Errorf("revoked user id: got %d, want 7", revokedUserID)
	}
}

func TestTokenRevokeAll_Failure(t *testing.T) {
	h := NewTokenHandler(&mockTokenLifecycle{
		revokeAllFn: func(ctx context.Context, user *model.User) (int, error) {
			return 0, errors.New("db down")
		},
	})

	req := asUser(httptest.NewRequest(http.MethodDelete, "/tokens", nil), testUser())
	rec := httptest.NewRecorder()
	h.RevokeAll(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
