// ABOUTME: Tests for the bearer auth middleware and API key verification
// ABOUTME: Covers open mode, JWT auth, API key fallback, and rejections

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callerEcho(t *testing.T, captured **Caller) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_OpenModePassesThrough(t *testing.T) {
	var caller *Caller
	handler := Middleware(nil, nil)(callerEcho(t, &caller))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, caller)
	assert.True(t, caller.Anonymous)
	assert.Equal(t, "192.0.2.7", caller.RateKey)
}

func TestMiddleware_ValidJWT(t *testing.T) {
	verifier := NewJWTVerifier([]byte("secret"))
	token, err := verifier.Generate("cli-user", time.Hour)
	require.NoError(t, err)

	var caller *Caller
	handler := Middleware(verifier, nil)(callerEcho(t, &caller))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, caller)
	assert.Equal(t, "cli-user", caller.Subject)
	assert.Equal(t, "jwt", caller.Method)
	assert.False(t, caller.Anonymous)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	verifier := NewJWTVerifier([]byte("secret"))
	handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_BadToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("secret"))
	handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_APIKeyFallback(t *testing.T) {
	hash, err := HashAPIKey("hunter2")
	require.NoError(t, err)

	jwtVerifier := NewJWTVerifier([]byte("secret"))
	keyVerifier := NewAPIKeyVerifier(hash)

	var caller *Caller
	handler := Middleware(jwtVerifier, keyVerifier)(callerEcho(t, &caller))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, caller)
	assert.Equal(t, "api_key", caller.Method)
}

func TestAPIKeyVerifier_WrongKey(t *testing.T) {
	hash, err := HashAPIKey("hunter2")
	require.NoError(t, err)

	verifier := NewAPIKeyVerifier(hash)
	assert.NoError(t, verifier.Verify("hunter2"))
	assert.ErrorIs(t, verifier.Verify("hunter3"), ErrInvalidAPIKey)
}

func TestAPIKeyVerifier_EmptyHashRejectsAll(t *testing.T) {
	verifier := NewAPIKeyVerifier("")
	assert.ErrorIs(t, verifier.Verify("anything"), ErrInvalidAPIKey)
}

func TestFromContext_Absent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, FromContext(req.Context()))
}
