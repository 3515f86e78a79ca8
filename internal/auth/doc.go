// Package auth verifies the bearer tokens that guard the gateway's read API.
//
// Tokens are HS256 JWTs signed with auth.jwt_secret. The "sub" claim is the
// account id; every read endpoint is scoped to that account. The gateway does
// not issue tokens to end users, but JWTVerifier.Generate backs the CLI's
// token command for operators.
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	mux.Handle("GET /api/conversations", auth.RequireAccount(verifier, logger)(handler))
//
// Handlers behind RequireAccount read the caller with AccountFromContext.
//
// Webhook deliveries do not use this package: agents authenticate with their
// own secret, see package webhook.
package auth
