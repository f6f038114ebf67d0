// Package auth provides request authentication for the gateway API.
//
// Two credential types are supported:
//
//   - JWT Tokens: API clients authenticate with HS256-signed JWTs carrying
//     the caller name in the "sub" claim. Tokens are minted with the
//     configured jwt_secret via the "token" CLI subcommand.
//
//   - API Keys: A single static key can be configured as a bcrypt hash.
//     Clients present it with "Bearer <key>" like a token; the middleware
//     falls back to the bcrypt comparison when JWT parsing fails.
//
// Authenticated requests carry a *Caller in their context, retrievable with
// FromContext. When no auth is configured the middleware passes every
// request through with a Caller keyed by remote address, so rate limiting
// still has a stable identity to bucket on.
package auth
