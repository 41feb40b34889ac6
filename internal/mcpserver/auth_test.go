package mcpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	cfg := AuthConfig{Tokens: []string{"static-token"}, JWTSecret: "secret", Issuer: "ops"}
	valid := jwt.RegisteredClaims{Subject: "alice", Issuer: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := []struct {
		name    string
		header  string
		caller  string
		wantErr bool
	}{
		{name: "missing", header: "", wantErr: true},
		{name: "not bearer", header: "Basic abc", wantErr: true},
		{name: "static", header: "Bearer static-token", caller: "static"},
		{name: "jwt", header: "Bearer " + signed(t, "secret", valid), caller: "alice"},
		{name: "wrong secret", header: "Bearer " + signed(t, "other", valid), wantErr: true},
		{name: "wrong issuer", header: "Bearer " + signed(t, "secret", jwt.RegisteredClaims{Subject: "bob", Issuer: "x", ExpiresAt: valid.ExpiresAt}), wantErr: true},
		{name: "expired", header: "Bearer " + signed(t, "secret", jwt.RegisteredClaims{Subject: "bob", Issuer: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}), wantErr: true},
		{name: "no expiry", header: "Bearer " + signed(t, "secret", jwt.RegisteredClaims{Subject: "bob", Issuer: "ops"}), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			caller, err := cfg.authenticate(tc.header)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.caller, caller)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})

	open := authMiddleware(AuthConfig{}, next)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, seen)

	guarded := authMiddleware(AuthConfig{Tokens: []string{"t0k"}}, next)
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer t0k")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "static", seen)
}
