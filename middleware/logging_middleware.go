package middleware

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"connect-server/protocol"
)

// LoggingMiddleware logs every handled request with its duration.
// Raw request and reply bytes are dumped at debug level.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			duration := time.Since(start)

			ev := logger.Info()
			if err != nil {
				ev = logger.Warn().Err(err)
			}
			ev.Hex("type", []byte{req.Type}).
				Hex("subtype", []byte{req.Subtype}).
				Dur("duration", duration).
				Bool("replied", reply != nil).
				Msg("request handled")

			if e := logger.Debug(); e.Enabled() {
				if b, merr := req.Marshal(); merr == nil {
					e = e.Str("request", hex.EncodeToString(b))
				}
				if reply != nil {
					if b, merr := reply.Marshal(); merr == nil {
						e = e.Str("reply", hex.EncodeToString(b))
					}
				}
				e.Msg("packet dump")
			}
			return reply, err
		}
	}
}
