// ABOUTME: HTTP middleware for bearer authentication on API endpoints
// ABOUTME: Accepts JWTs or the static API key and attaches a Caller to context

package auth

import (
	"net"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// remoteHost strips the port from an http.Request RemoteAddr.
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// Middleware creates an HTTP middleware that authenticates bearer credentials.
// A nil jwtVerifier and nil keyVerifier disables auth entirely: every request
// passes through as an anonymous Caller keyed by remote host, which keeps
// rate limiting functional on open deployments.
func Middleware(jwtVerifier TokenVerifier, keyVerifier *APIKeyVerifier) func(http.Handler) http.Handler {
	open := jwtVerifier == nil && keyVerifier == nil
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				caller := &Caller{
					Subject:   remoteHost(r.RemoteAddr),
					Method:    "anonymous",
					RateKey:   remoteHost(r.RemoteAddr),
					Anonymous: true,
				}
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			if jwtVerifier != nil {
				if subject, err := jwtVerifier.Verify(token); err == nil {
					caller := &Caller{Subject: subject, Method: "jwt", RateKey: subject}
					next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
					return
				}
			}

			if keyVerifier != nil {
				if err := keyVerifier.Verify(token); err == nil {
					caller := &Caller{Subject: "api-key", Method: "api_key", RateKey: "api-key"}
					next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
					return
				}
			}

			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		})
	}
}
