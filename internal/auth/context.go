package auth

import "context"

type claimsContextKey struct{}
type tokenContextKey struct{}

// ContextWithClaims attaches the verified identity to the context.
func ContextWithClaims(ctx context.Context, claims IdentityClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, &claims)
}

// ClaimsFromContext extracts the verified identity from the context.
func ClaimsFromContext(ctx context.Context) (IdentityClaims, bool) {
	if ctx == nil {
		return IdentityClaims{}, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*IdentityClaims)
	if !ok || v == nil {
		return IdentityClaims{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
