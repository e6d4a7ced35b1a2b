package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, r *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = SessionIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return got, w
}

func TestMiddlewarePrefersHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/chat/default?session_id=from-query", nil)
	r.Header.Set(SessionHeaderName, "from-header")
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-cookie"})

	got, w := serve(t, r)
	assert.Equal(t, "from-header", got)
	assert.Equal(t, "from-header", w.Header().Get(SessionHeaderName))
}

func TestMiddlewareFallsBackToCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-cookie"})

	got, _ := serve(t, r)
	assert.Equal(t, "from-cookie", got)
}

func TestMiddlewareIssuesSession(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(SessionHeaderName, "bad id with spaces")

	got, w := serve(t, r)
	require.True(t, strings.HasPrefix(got, "sess_"))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, got, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSanitizeSessionID(t *testing.T) {
	tests := map[string]string{
		"abc-123":                 "abc-123",
		"  padded  ":              "padded",
		"":                        "",
		"semi;colon":              "",
		strings.Repeat("a", 129):  "",
		"user:tab.1_x":            "user:tab.1_x",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeSessionID(in), in)
	}
}
