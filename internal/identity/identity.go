// Package identity resolves the anonymous session id of a request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SessionCookieName = "smartrecall_session"
	SessionHeaderName = "X-Session-ID"
	sessionCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	subjectKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext returns the session id resolved by Middleware, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID stores a session id on ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SubjectFromContext returns the authenticated subject set by the auth middleware.
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey).(string); ok {
		return v
	}
	return ""
}

// WithSubject stores an authenticated subject on ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SanitizeSessionID returns id when it is a well-formed session id, else "".
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// NewSessionID generates a fresh session id.
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// sessionIDFromRequest checks the header, then the query string, then the cookie.
func sessionIDFromRequest(r *http.Request) string {
	if sid := SanitizeSessionID(r.Header.Get(SessionHeaderName)); sid != "" {
		return sid
	}
	if sid := SanitizeSessionID(r.URL.Query().Get("session_id")); sid != "" {
		return sid
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return SanitizeSessionID(c.Value)
	}
	return ""
}

// Middleware resolves the session id of each request, issuing a new one
// in a cookie when the client sent none.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := sessionIDFromRequest(r)
			if sessionID == "" {
				sessionID = NewSessionID()
			}
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(sessionCookieAge.Seconds()),
				Expires:  time.Now().Add(sessionCookieAge),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   !isDev,
			})
			w.Header().Set(SessionHeaderName, sessionID)
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
