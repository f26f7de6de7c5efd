package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newUserInfoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// アクセストークンはクエリパラメータで渡される
		if got := r.URL.Query().Get("access_token"); got != "ext-access-token" {
			t.Errorf("access_token = %q, want ext-access-token", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "ext-user-123",
			"verified_email": true,
			"email":          "alice@example.com",
			"given_name":     "Alice",
			"family_name":    "Liddell",
			"picture":        "https://example.com/photo.jpg", // 未知フィールドは無視される
		})
	}))
}

func newTestExchange(serverURL string) *Exchange {
	return NewExchange(
		&http.Client{Timeout: 5 * time.Second},
		Config{UserInfoURL: serverURL, MaxActiveLogins: 8},
		nil,
	)
}

func TestNewLoginToken_GeneratesUniqueHexTokens(t *testing.T) {
	e := newTestExchange("http://unused.example.com")

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		token, err := e.NewLoginToken()
		if err != nil {
			t.Fatalf("NewLoginToken() error = %v", err)
		}
		if len(token) != loginTokenBytes*2 {
			t.Errorf("token length = %d, want %d hex chars", len(token), loginTokenBytes*2)
		}
		if seen[token] {
			t.Fatal("duplicate login token")
		}
		seen[token] = true
	}
}

func TestAuthenticateAndExchange_ReturnsIdentityExactlyOnce(t *testing.T) {
	server := newUserInfoServer(t)
	defer server.Close()

	e := newTestExchange(server.URL)
	ctx := context.Background()

	token, err := e.NewLoginToken()
	if err != nil {
		t.Fatalf("NewLoginToken() error = %v", err)
	}

	if err := e.Authenticate(ctx, token, "ext-access-token"); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	auth := e.ExchangeToken(token)
	if auth == nil {
		t.Fatal("ExchangeToken() = nil, want authentication")
	}
	if auth.Identity.ID != "ext-user-123" {
		t.Errorf("identity ID = %q, want ext-user-123", auth.Identity.ID)
	}
	if auth.Identity.Email != "alice@example.com" {
		t.Errorf("email = %q", auth.Identity.Email)
	}
	if !auth.Identity.VerifiedEmail {
		t.Error("verifiedEmail should be true")
	}
	if auth.AccessToken != "ext-access-token" {
		t.Errorf("accessToken = %q", auth.AccessToken)
	}

	// 2回目の交換はnil（1回限り）
	if second := e.ExchangeToken(token); second != nil {
		t.Error("second ExchangeToken() should return nil")
	}
}

func TestExchangeToken_UnknownTokenReturnsNil(t *testing.T) {
	e := newTestExchange("http://unused.example.com")

	if auth := e.ExchangeToken("no-such-token"); auth != nil {
		t.Error("ExchangeToken() should return nil for unknown token")
	}
}

func TestExchangeToken_ExpiredEntryReturnsNilAndRemoves(t *testing.T) {
	server := newUserInfoServer(t)
	defer server.Close()

	e := newTestExchange(server.URL)
	ctx := context.Background()

	token, _ := e.NewLoginToken()
	if err := e.Authenticate(ctx, token, "ext-access-token"); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	// 4分の期限を超過させる
	e.now = func() time.Time { return time.Now().Add(5 * time.Minute) }

	if auth := e.ExchangeToken(token); auth != nil {
		t.Error("expired entry should exchange to nil")
	}
	// 期限切れの読み取りでもエントリは削除済み
	if e.pending.Len() != 0 {
		t.Errorf("pending entries = %d, want 0", e.pending.Len())
	}
}

func TestExchangeToken_PlaceholderWithoutAuthenticateReturnsNil(t *testing.T) {
	e := newTestExchange("http://unused.example.com")

	token, _ := e.NewLoginToken()

	if auth := e.ExchangeToken(token); auth != nil {
		t.Error("unauthenticated placeholder should exchange to nil")
	}
}

func TestNewLoginToken_EvictsOldestWhenOverCapacity(t *testing.T) {
	server := newUserInfoServer(t)
	defer server.Close()

	e := NewExchange(
		&http.Client{Timeout: 5 * time.Second},
		Config{UserInfoURL: server.URL, MaxActiveLogins: 2},
		nil,
	)
	ctx := context.Background()

	first, _ := e.NewLoginToken()
	if err := e.Authenticate(ctx, first, "ext-access-token"); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	// 上限2を超えて発行すると最古のエントリが破棄される
	e.NewLoginToken()
	e.NewLoginToken()

	if auth := e.ExchangeToken(first); auth != nil {
		t.Error("evicted login token should exchange to nil")
	}
}

func TestAuthenticate_ProviderErrorFailsWithoutPopulating(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	e := newTestExchange(server.URL)
	ctx := context.Background()

	token, _ := e.NewLoginToken()
	if err := e.Authenticate(ctx, token, "ext-access-token"); err == nil {
		t.Fatal("expected error from provider failure")
	}

	if auth := e.ExchangeToken(token); auth != nil {
		t.Error("failed authenticate should leave no exchangeable entry")
	}
}

func TestAuthenticate_MissingIDIsProtocolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"email": "no-id@example.com"})
	}))
	defer server.Close()

	e := newTestExchange(server.URL)

	token, _ := e.NewLoginToken()
	if err := e.Authenticate(context.Background(), token, "ext-access-token"); err == nil {
		t.Fatal("expected protocol error for missing id")
	}
}
