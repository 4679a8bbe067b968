package auth

import (
	"context"
)

type contextKey string

const userContextKey contextKey = "subhub-user"

// SetUserContext stores the claims admitted for this request, the
// identity that becomes a registry.Connection's User() once the
// websocket upgrade completes.
func SetUserContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// GetUserFromContext retrieves the claims set by SetUserContext.
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(userContextKey).(*Claims)
	return claims, ok
}

// SubscriberID resolves the identity a registry.Connection will
// report through User() for this request: the authenticated user id
// if claims were stored with SetUserContext, or "anonymous" otherwise.
func SubscriberID(ctx context.Context) string {
	claims, ok := GetUserFromContext(ctx)
	if !ok {
		return "anonymous"
	}
	return claims.UserID
}