package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"connect-server/client"
	"connect-server/message"
)

// tapConn echoes what goes over the wire to the probe's output.
type tapConn struct {
	net.Conn
	out io.Writer

	mu       sync.Mutex
	received bytes.Buffer
}

func (c *tapConn) Write(b []byte) (int, error) {
	fmt.Fprintf(c.out, "Sending: %s\n", hex.EncodeToString(b))
	n, err := c.Conn.Write(b)
	if err == nil {
		fmt.Fprintln(c.out, "Waiting for response...")
	}
	return n, err
}

func (c *tapConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.mu.Lock()
	c.received.Write(b[:n])
	c.mu.Unlock()
	return n, err
}

func (c *tapConn) Received() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.received.Bytes())
}

// exchangeFunc runs one request on an open connection. The returned lines are printed
// after the raw reply.
type exchangeFunc func(ctx context.Context, conn net.Conn) ([]string, error)

// probe connects to addr, runs one exchange, and narrates it on out. Failures are printed,
// never returned.
func probe(out io.Writer, addr string, timeout time.Duration, run exchangeFunc) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fmt.Fprintf(out, "Connecting to %s...\n", addr)
	conn, err := client.Dial(ctx, addr)
	if err != nil {
		printError(out, err)
		return
	}
	defer conn.Close()
	fmt.Fprintln(out, "Connected!")

	tap := &tapConn{Conn: conn, out: out}
	lines, err := run(ctx, tap)

	received := tap.Received()
	if len(received) > 0 {
		fmt.Fprintf(out, "Received: %s\n", hex.EncodeToString(received))
	}
	if err == nil {
		for _, l := range lines {
			fmt.Fprintln(out, l)
		}
		return
	}
	if len(received) == 0 && errors.Is(err, client.ErrConnectionClosed) {
		fmt.Fprintln(out, "Server closed connection without data.")
		return
	}
	printError(out, err)
}

func printError(out io.Writer, err error) {
	if errors.Is(err, client.ErrConnectRefused) {
		fmt.Fprintln(out, "Error: Server is offline!")
		return
	}
	fmt.Fprintf(out, "Error: %v\n", err)
}

func serverListExchange(showEntries bool) exchangeFunc {
	return func(ctx context.Context, conn net.Conn) ([]string, error) {
		reply, err := client.RequestServerList(ctx, conn)
		if err != nil || !showEntries {
			return nil, err
		}
		entries, err := reply.Entries()
		if err != nil {
			return nil, err
		}
		return formatEntries(entries), nil
	}
}

func formatEntries(entries []message.ServerEntry) []string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		state := "visible"
		if !e.Visible {
			state = "hidden"
		}
		lines[i] = fmt.Sprintf("  server %d: %d%% %s", e.Code, e.Percent, state)
	}
	return lines
}

func serverInfoExchange(code uint16) exchangeFunc {
	return func(ctx context.Context, conn net.Conn) ([]string, error) {
		info, err := client.RequestServerInfo(ctx, conn, code)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("  server %d is at %s", code, info.Addr())}, nil
	}
}
