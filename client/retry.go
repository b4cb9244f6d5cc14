package client

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy is opt-in: the zero value makes exactly one attempt.
// Only ConnectRefused and Timeout are retried, with exponential backoff starting at BaseDelay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Retryable reports whether err is worth another attempt on a fresh connection.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConnectRefused, KindTimeout:
		return true
	}
	return false
}

// Do runs fn, retrying per the policy. The last error is returned when attempts run out
// or ctx ends during a backoff.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	for i := 0; i < p.MaxRetries; i++ {
		if err == nil || !Retryable(err) {
			return err
		}
		delay := p.BaseDelay * time.Duration(1<<i)
		log.Debug().Str("op", op).Int("attempt", i+1).Dur("backoff", delay).Err(err).Msg("retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
		err = fn(ctx)
	}
	return err
}
