package management

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthProvider verifies a management-API bearer token and resolves it to a
// user id. Token issuance, password hashing, and account management live
// outside this repo.
type AuthProvider interface {
	Authenticate(ctx context.Context, bearerToken string) (userID int64, err error)
}

// JWTAuthProvider verifies HS256-signed JWTs against a static secret and
// extracts the subject claim as the user id.
type JWTAuthProvider struct {
	secret []byte
}

// NewJWTAuthProvider creates a JWTAuthProvider. algorithm is validated
// against the only algorithm this provider supports today (HS256); a
// mismatched value is a configuration error surfaced at startup, not per
// request.
func NewJWTAuthProvider(secret, algorithm string) (*JWTAuthProvider, error) {
	if algorithm != "" && algorithm != "HS256" {
		return nil, fmt.Errorf("unsupported JWT_ALGORITHM %q: only HS256 is supported", algorithm)
	}
	return &JWTAuthProvider{secret: []byte(secret)}, nil
}

type subjectClaims struct {
	jwt.RegisteredClaims
}

// Authenticate parses and verifies bearerToken, returning the numeric
// subject claim as the user id. Expired or malformed tokens surface as a
// single error path; the caller maps any error to 401.
func (p *JWTAuthProvider) Authenticate(ctx context.Context, bearerToken string) (int64, error) {
	claims := &subjectClaims{}
	_, err := jwt.ParseWithClaims(bearerToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("verifying bearer token: %w", err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subject claim %q is not a numeric user id: %w", claims.Subject, err)
	}
	return userID, nil
}

type contextKey string

const userIDContextKey contextKey = "routetunnel_user_id"

// RequireBearerAuth wraps next with bearer-JWT authentication: a missing
// header, a malformed scheme, or a token that fails verification all fail
// with 401 before next runs or any registry/store call is made.
func RequireBearerAuth(provider AuthProvider, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(header, prefix)

		userID, err := provider.Authenticate(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next(w, r.WithContext(ctx))
	}
}

// userIDFromContext returns the authenticated user id stashed by
// RequireBearerAuth.
func userIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}
