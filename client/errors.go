package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"connect-server/protocol"
)

// Kind classifies why an exchange failed. The set is closed: every error returned by this
// package is an *Error carrying one of these.
type Kind int

const (
	KindConnectRefused   Kind = iota + 1 // peer not listening
	KindDialFailed                       // any other dial failure (DNS, unreachable, ...)
	KindWriteFailed                      // request could not be written completely
	KindTimeout                          // a deadline elapsed first
	KindCancelled                        // ctx cancelled or connection closed locally
	KindConnectionClosed                 // peer closed before a whole reply arrived
	KindTruncated                        // frame shorter than the minimum header
	KindUnknownHead                      // frame head is not a short-frame marker
	KindLengthMismatch                   // declared length disagrees with the bytes
	KindUnexpectedPacket                 // well-formed reply of the wrong type/subtype
	KindValueTooLarge                    // request does not fit a short frame
)

var kindNames = map[Kind]string{
	KindConnectRefused:   "connect refused",
	KindDialFailed:       "dial failed",
	KindWriteFailed:      "write failed",
	KindTimeout:          "timeout",
	KindCancelled:        "cancelled",
	KindConnectionClosed: "connection closed",
	KindTruncated:        "truncated",
	KindUnknownHead:      "unknown head",
	KindLengthMismatch:   "length mismatch",
	KindUnexpectedPacket: "unexpected packet",
	KindValueTooLarge:    "value too large",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Malformed reports whether k describes a broken frame. Those are never worth retrying
// against the same bytes.
func (k Kind) Malformed() bool {
	return k == KindTruncated || k == KindUnknownHead || k == KindLengthMismatch
}

// Error is returned by every operation in this package.
type Error struct {
	Kind  Kind
	State State // where the exchange was when it failed

	// Set for KindUnexpectedPacket.
	GotType    byte
	GotSubtype byte

	Err error // underlying cause, may be nil
}

// Kind sentinels for errors.Is. Only Kind is compared.
var (
	ErrConnectRefused   = &Error{Kind: KindConnectRefused}
	ErrDialFailed       = &Error{Kind: KindDialFailed}
	ErrWriteFailed      = &Error{Kind: KindWriteFailed}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrConnectionClosed = &Error{Kind: KindConnectionClosed}
	ErrTruncated        = &Error{Kind: KindTruncated}
	ErrUnknownHead      = &Error{Kind: KindUnknownHead}
	ErrLengthMismatch   = &Error{Kind: KindLengthMismatch}
	ErrUnexpectedPacket = &Error{Kind: KindUnexpectedPacket}
	ErrValueTooLarge    = &Error{Kind: KindValueTooLarge}
)

func (e *Error) Error() string {
	msg := "client: " + e.Kind.String()
	if e.Kind == KindUnexpectedPacket && (e.GotType != 0 || e.GotSubtype != 0) {
		msg += fmt.Sprintf(" %02X %02X", e.GotType, e.GotSubtype)
	}
	if e.State != StateIdle {
		msg += " in " + e.State.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 if err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ctxKind maps a finished context to Timeout or Cancelled.
func ctxKind(ctx context.Context) (Kind, bool) {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return KindTimeout, true
	case context.Canceled:
		return KindCancelled, true
	}
	return 0, false
}

// ioKind classifies an I/O error. fallback is used when nothing more specific matches.
func ioKind(ctx context.Context, err error, fallback Kind) Kind {
	if k, ok := ctxKind(ctx); ok {
		return k
	}
	switch {
	case errors.Is(err, protocol.ErrTruncated):
		return KindTruncated
	case errors.Is(err, protocol.ErrUnknownHead):
		return KindUnknownHead
	case errors.Is(err, protocol.ErrLengthMismatch):
		return KindLengthMismatch
	case errors.Is(err, protocol.ErrValueTooLarge):
		return KindValueTooLarge
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return KindCancelled
	case errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if fallback == KindWriteFailed {
		return fallback
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return KindConnectionClosed
	}
	return fallback
}

func dialKind(ctx context.Context, err error) Kind {
	if k, ok := ctxKind(ctx); ok {
		return k
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectRefused
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindDialFailed
}
