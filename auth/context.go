package auth

import "context"

type resultKey struct{}

// WithResult attaches an authentication result to the context. The
// HTTP middleware sets it after resolution so downstream tool handlers
// can act on behalf of the caller.
func WithResult(ctx context.Context, res *Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// ResultFrom returns the authentication result attached to the context,
// if any.
func ResultFrom(ctx context.Context) (*Result, bool) {
	res, ok := ctx.Value(resultKey{}).(*Result)
	return res, ok
}

// AccessTokenFrom returns the caller's session access token, or the
// empty string when the context carries no authenticated session.
func AccessTokenFrom(ctx context.Context) string {
	res, ok := ResultFrom(ctx)
	if !ok || res.Session == nil {
		return ""
	}
	return res.Session.AccessToken
}
