// ABOUTME: Request context carrying the authenticated account
// ABOUTME: Set by the bearer middleware and read by account-scoped handlers

package auth

import (
	"context"
)

// accountKey is the key type for storing the account id in context.Context.
type accountKey struct{}

// WithAccount returns a new context carrying accountID.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

// AccountFromContext returns the authenticated account id, or "" if there is none.
func AccountFromContext(ctx context.Context) string {
	id, _ := ctx.Value(accountKey{}).(string)
	return id
}

// MustAccountFromContext returns the authenticated account id, panicking if absent.
// Only for handlers mounted behind RequireAccount.
func MustAccountFromContext(ctx context.Context) string {
	id := AccountFromContext(ctx)
	if id == "" {
		panic("auth: account not found in context")
	}
	return id
}
