package middleware

import (
	"context"
	"errors"
	"time"

	"connect-server/protocol"
)

var ErrHandlerTimeout = errors.New("middleware: request timed out")

func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				reply *protocol.Packet
				err   error
			}
			done := make(chan result, 1)
			go func() {
				reply, err := next(ctx, req)
				done <- result{reply, err}
			}()

			select {
			case r := <-done:
				return r.reply, r.err
			case <-ctx.Done():
				return nil, ErrHandlerTimeout
			}
		}
	}
}
