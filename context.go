package authcore

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP to ctx. It keys the per-IP rate limits
// and appears in audit events. An empty IP disables per-IP throttling for the
// request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the IP set by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
