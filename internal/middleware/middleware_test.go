package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/smartrecall/internal/identity"
)

var secret = []byte("test-secret")

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()

	valid := jwt.RegisteredClaims{
		Subject:   "user-42",
		Issuer:    "smartrecall",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantSub  string
		wantBody string
	}{
		{"valid", "Bearer " + sign(t, jwt.SigningMethodHS256, secret, valid), http.StatusOK, "user-42", ""},
		{"missing", "", http.StatusUnauthorized, "", "missing bearer token"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "", "missing bearer token"},
		{"expired", "Bearer " + sign(t, jwt.SigningMethodHS256, secret, expired), http.StatusUnauthorized, "", "token expired"},
		{"wrong key", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), valid), http.StatusUnauthorized, "", "invalid token"},
		{"wrong issuer", "Bearer " + sign(t, jwt.SigningMethodHS256, secret, wrongIssuer), http.StatusUnauthorized, "", "invalid token"},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, "", "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var gotSub string
			h := JWTAuth(JWTConfig{Secret: secret, Issuer: "smartrecall"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSub = identity.SubjectFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/chat/default", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantSub, gotSub)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestJWTAuthDisabledWithoutSecret(t *testing.T) {
	t.Parallel()

	called := false
	h := JWTAuth(JWTConfig{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestCORS(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"http://localhost:5173"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Session-ID")

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"*"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://any.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://any.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
