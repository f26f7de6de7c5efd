package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/forgehub/internal/model"
)

// --- モック定義 ---

type mockUserAccountService struct {
	changePasswordFn func(ctx context.Context, userID int64, newPassword string) error
}

func (m *mockUserAccountService) ChangePassword(ctx context.Context, userID int64, newPassword string) error {
	return m.changePasswordFn(ctx, userID, newPassword)
}

var _ UserAccountService = (*mockUserAccountService)(nil)

// --- テスト ---

func TestUserMe(t *testing.T) {
	h := NewUserHandler(&mockUserAccountService{})

	user := &model.User{
		ID:        7,
		Email:     "dev@example.com",
		FirstName: "Dev",
		LastName:  "Eloper",
		Role:      model.RoleUser,
		Memberships: []model.ProjectMembership{
			{ProjectID: 42, OwnerID: 7},
			{ProjectID: 43, OwnerID: 9},
		},
	}
	req := asUser(httptest.NewRequest(http.MethodGet, "/users/me", nil), user)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, want %d", rec.Code, http.StatusOK)
	}

	var resp userResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != 7 || resp.Email != "dev@example.com" || resp.Role != "user" {
		t.Errorf("response: got %+v", resp)
	}
	if len(resp.Projects) != 2 {
		t.Fatalf("projects: got %d, want 2", len(resp.Projects))
	}
	if resp.Projects[0].ProjectID != 42 || resp.Projects[0].OwnerID != 7 {
		t.Errorf("projects[0]: got %+v", resp.Projects[0])
	}
}

func TestUserMe_NoMemberships(t *testing.T) {
	h := NewUserHandler(&mockUserAccountService{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/users/me", nil), testUser())
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, want %d", rec.Code, http.StatusOK)
	}
	// メンバーシップなしでもprojectsはnullではなく空配列になる。
	if !strings.Contains(rec.Body.String(), `"projects":[]`) {
		t.Errorf("projects should be an empty array: %s", rec.Body.String())
	}
}

func TestUserMe_WithoutPrincipal(t *testing.T) {
	h := NewUserHandler(&mockUserAccountService{})

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestChangePassword(t *testing.T) {
	var gotUserID int64
	var gotPassword string
	h := NewUserHandler(&mockUserAccountService{
		changePasswordFn: func(ctx context.Context, userID int64, newPassword string) error {
			gotUserID = userID
			gotPassword = newPassword
			return nil
		},
	})

	body := strings.NewReader(`{"password":"correct horse battery"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/users/me/password", body), testUser())
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status code: got %d, want %d (body: %s)", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if gotUserID != 7 {
		t.Errorf("user id: got %d, want 7", gotUserID)
	}
	if gotPassword != "correct horse battery" {
		t.Errorf("password: got %q", gotPassword)
	}
}

func TestChangePassword_TooShort(t *testing.T) {
	called := false
	h := NewUserHandler(&mockUserAccountService{
		changePasswordFn: func(ctx context.Context, userID int64, newPassword string) error {
			called = true
			return nil
		},
	})

	body := strings.NewReader(`{"password":"short"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/users/me/password", body), testUser())
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("ChangePassword should not be called for a short password")
	}
}

func TestChangePassword_MalformedBody(t *testing.T) {
	h := NewUserHandler(&mockUserAccountService{})

	body := strings.NewReader(`{not json`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/users/me/password", body), testUser())
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChangePassword_ServiceFailure(t *testing.T) {
	h := NewUserHandler(&mockUserAccountService{
		changePasswordFn: func(ctx context.Context, userID int64, newPassword string) error {
			return errors.New("db down")
		},
	})

	body := strings.NewReader(`{"password":"correct horse battery"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/users/me/password", body), testUser())
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status code: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
