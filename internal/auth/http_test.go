// ABOUTME: Tests for the bearer token HTTP middleware
// ABOUTME: Covers header parsing, rejection responses and account propagation

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr string
	}{
		{"", "", "missing authorization header"},
		{"Basic abc", "", "invalid authorization header format"},
		{"Bearer ", "", "empty token"},
		{"Bearer abc.def.ghi", "abc.def.ghi", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.wantErr, errMsg)
		})
	}
}

func TestRequireAccount(t *testing.T) {
	verifier := newTestVerifier(t)
	valid, err := verifier.Generate("acct-42", time.Hour)
	require.NoError(t, err)
	expired, err := verifier.Generate("acct-42", -time.Hour)
	require.NoError(t, err)

	var gotAccount string
	handler := RequireAccount(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = MustAccountFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantError  string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, ""},
		{"no header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Token " + valid, http.StatusUnauthorized, "invalid authorization header format"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAccount = ""
			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError == "" {
				assert.Equal(t, "acct-42", gotAccount)
				return
			}
			assert.Empty(t, gotAccount, "handler must not run")
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestAccountContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, AccountFromContext(ctx))
	assert.Panics(t, func() { MustAccountFromContext(ctx) })

	ctx = WithAccount(ctx, "acct-7")
	assert.Equal(t, "acct-7", AccountFromContext(ctx))
	assert.Equal(t, "acct-7", MustAccountFromContext(ctx))
}
