// ABOUTME: Caller identity for tracking authenticated requests through handlers
// ABOUTME: Provides WithCaller/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Caller holds the identity attached to an authenticated request. Subject is
// the JWT "sub" claim, "api-key" for key-based auth, or the remote host when
// auth is disabled. RateKey is the bucket identity used by the rate limiter.
type Caller struct {
	Subject   string
	Method    string // "jwt" | "api_key" | "anonymous"
	RateKey   string
	Anonymous bool
}

// callerKey is the key type for storing a Caller in context.Context.
type callerKey struct{}

// WithCaller returns a new context with the Caller attached.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext retrieves the Caller from the context, returning nil if not present.
func FromContext(ctx context.Context) *Caller {
	val := ctx.Value(callerKey{})
	if val == nil {
		return nil
	}
	c, ok := val.(*Caller)
	if !ok {
		return nil
	}
	return c
}
