package client

import (
	"context"
	"net"
)

// Dial opens a TCP connection to addr. Failures are classified as ConnectRefused when
// nothing listens there, Timeout/Cancelled when ctx ends first, DialFailed otherwise.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Kind: dialKind(ctx, err), Err: err}
	}
	return conn, nil
}
