package management

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret string, subject string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func Test_jwt_auth_provider_accepts_valid_token(t *testing.T) {
	provider, err := NewJWTAuthProvider("s3cret", "HS256")
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}

	token := signTestToken(t, "s3cret", "42", time.Hour)
	userID, err := provider.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if userID != 42 {
		t.Errorf("expected user id 42, got %d", userID)
	}
}

func Test_jwt_auth_provider_rejects_wrong_secret(t *testing.T) {
	provider, _ := NewJWTAuthProvider("s3cret", "HS256")
	token := signTestToken(t, "wrong-secret", "42", time.Hour)
	if _, err := provider.Authenticate(context.Background(), token); err == nil {
		t.Fatal("expected authentication to fail for wrong secret")
	}
}

func Test_jwt_auth_provider_rejects_expired_token(t *testing.T) {
	provider, _ := NewJWTAuthProvider("s3cret", "HS256")
	token := signTestToken(t, "s3cret", "42", -time.Hour)
	if _, err := provider.Authenticate(context.Background(), token); err == nil {
		t.Fatal("expected authentication to fail for expired token")
	}
}

func Test_new_jwt_auth_provider_rejects_unsupported_algorithm(t *testing.T) {
	if _, err := NewJWTAuthProvider("s3cret", "RS256"); err == nil {
		t.Fatal("expected rejection of unsupported algorithm")
	}
}

type nopProvider struct{}

func (nopProvider) Authenticate(ctx context.Context, bearerToken string) (int64, error) {
	return 0, nil
}

func Test_require_bearer_auth_rejects_missing_header(t *testing.T) {
	called := false
	handler := RequireBearerAuth(nopProvider{}, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tunnels", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if called {
		t.Error("expected next handler not to be called")
	}
}

func Test_require_bearer_auth_rejects_malformed_scheme(t *testing.T) {
	handler := RequireBearerAuth(nopProvider{}, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/api/tunnels", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func Test_require_bearer_auth_allows_valid_token(t *testing.T) {
	provider, _ := NewJWTAuthProvider("s3cret", "HS256")
	token := signTestToken(t, "s3cret", "7", time.Hour)

	var gotUserID int64
	handler := RequireBearerAuth(provider, func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = userIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tunnels", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUserID != 7 {
		t.Errorf("expected user id 7 in context, got %d", gotUserID)
	}
}
