// Package middleware wraps the server's packet handler in the onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"connect-server/protocol"
)

// HandlerFunc answers one request packet. A nil reply with a nil error means no reply is sent.
type HandlerFunc func(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one. The first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
