package mcpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ExchangeMCP-Chain/pkg/logger"
)

// AuthConfig 控制 HTTP 传输的访问凭证。Tokens 与 JWTSecret 都为空时不校验。
type AuthConfig struct {
	Tokens    []string
	JWTSecret string
	Issuer    string
}

func (c AuthConfig) enabled() bool {
	return len(c.Tokens) > 0 || c.JWTSecret != ""
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
)

type callerKey struct{}

// CallerFromContext 返回通过认证的调用方标识，未认证时为空。
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

// authMiddleware 校验 Authorization: Bearer 头，并将每次访问写入审计日志。
func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	if !cfg.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		audit := logger.Audit()
		caller, err := cfg.authenticate(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			audit.Warn("access_denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.String("remote", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			return
		}

		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		audit.Info("mcp_request",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("caller", caller),
		)
	})
}

func (c AuthConfig) authenticate(header string) (string, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return "", errMissingToken
	}
	for _, token := range c.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(raw)) == 1 {
			return "static", nil
		}
	}
	if c.JWTSecret == "" {
		return "", errInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	parsed, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return []byte(c.JWTSecret), nil }, opts...)
	if err != nil {
		return "", errors.Join(errInvalidToken, err)
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errInvalidToken
	}
	return subject, nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
