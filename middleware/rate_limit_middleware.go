package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"connect-server/protocol"
)

var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimitMiddleware creates a token-bucket limiter shared by every connection of the server.
// Requests over the limit get no reply.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
