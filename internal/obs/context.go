package obs

import "context"

// routePatternKey is the context key storing matched route pattern.
type routePatternKey struct{}

// WithRoutePattern stores the matched router pattern on the context.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext extracts the route pattern from context if present.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}

type adminKey struct{}

type requestInfoKey struct{}

// requestInfo is shared between RequestLogger and handlers further down the chain,
// which only ever see derived contexts.
type requestInfo struct {
	admin bool
}

func withRequestInfo(ctx context.Context) (context.Context, *requestInfo) {
	info := &requestInfo{}
	return context.WithValue(ctx, requestInfoKey{}, info), info
}

// WithAdmin marks the request context as authenticated for admin routes.
func WithAdmin(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.admin = true
	}
	return context.WithValue(ctx, adminKey{}, true)
}

// AdminFromContext reports whether the admin guard accepted the request.
func AdminFromContext(ctx context.Context) (bool, bool) {
	if ctx == nil {
		return false, false
	}
	if v, ok := ctx.Value(adminKey{}).(bool); ok {
		return v, true
	}
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok && info.admin {
		return true, true
	}
	return false, false
}
