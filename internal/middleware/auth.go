package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/smartrecall/internal/identity"
)

const bearerPrefix = "Bearer "

// JWTConfig configures JWTAuth. An empty Secret disables authentication.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// JWTAuth validates an HS256 bearer token and stores its subject on the
// request context.
func JWTAuth(cfg JWTConfig) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		if len(cfg.Secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if header == "" || raw == header {
				unauthorized(w, "missing bearer token")
				return
			}

			claims := jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
				return cfg.Secret, nil
			})
			if err != nil || !token.Valid {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				slog.Debug("Rejected bearer token", "path", r.URL.Path, "error", err)
				unauthorized(w, msg)
				return
			}
			if claims.Subject == "" {
				unauthorized(w, "token has no subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithSubject(r.Context(), claims.Subject)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="smartrecall"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error": "` + msg + `"}`))
}
