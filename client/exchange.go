// Package client performs request/reply exchanges against a ConnectServer.
//
// One exchange owns one connection for its duration:
//
//	Idle → RequestSent → AwaitingHeader → AwaitingBody → Decoded → Success
//	                                                              ↘ Failed(kind)
//
// The reply is read in two phases (2-byte header, then the rest of the declared length)
// because TCP may split one frame across reads or merge several frames into one read.
package client

import (
	"context"
	"io"
	"net"
	"time"

	"connect-server/message"
	"connect-server/protocol"
)

// State is the position of an exchange in its state machine.
type State int

const (
	StateIdle State = iota
	StateRequestSent
	StateAwaitingHeader
	StateAwaitingBody
	StateDecoded
	StateSuccess
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateRequestSent:    "request sent",
	StateAwaitingHeader: "awaiting header",
	StateAwaitingBody:   "awaiting body",
	StateDecoded:        "decoded",
	StateSuccess:        "success",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// aLongTimeAgo is a deadline in the past, used to interrupt blocked I/O on cancel.
var aLongTimeAgo = time.Unix(1, 0)

// RequestServerList sends an F4 06 request on conn and returns the opaque server-list payload.
//
// conn must already be connected; it is not closed here. I/O is bounded by ctx: its deadline
// becomes the connection deadline, and cancelling ctx unblocks any pending read or write.
func RequestServerList(ctx context.Context, conn net.Conn) (*message.ServerListReply, error) {
	req := &protocol.Packet{Head: protocol.HeadC1, Type: protocol.TypeConnectServer, Subtype: protocol.SubtypeServerList}
	reply, err := exchange(ctx, conn, req)
	if err != nil {
		return nil, err
	}
	return &message.ServerListReply{Payload: reply.Payload}, nil
}

// RequestServerInfo sends an F4 03 request for the given server code and returns its address.
func RequestServerInfo(ctx context.Context, conn net.Conn, code uint16) (*message.ServerInfo, error) {
	req := &protocol.Packet{
		Head:    protocol.HeadC1,
		Type:    protocol.TypeConnectServer,
		Subtype: protocol.SubtypeServerInfo,
		Payload: message.EncodeServerInfoRequest(code),
	}
	reply, err := exchange(ctx, conn, req)
	if err != nil {
		return nil, err
	}
	info, err := message.DecodeServerInfo(reply.Payload)
	if err != nil {
		return nil, &Error{Kind: KindUnexpectedPacket, State: StateDecoded, GotType: reply.Type, GotSubtype: reply.Subtype, Err: err}
	}
	return info, nil
}

// exchange writes req and reads back one reply that must carry req's type and subtype.
func exchange(ctx context.Context, conn net.Conn, req *protocol.Packet) (*protocol.Packet, error) {
	state := StateIdle
	fail := func(kind Kind, err error) (*protocol.Packet, error) {
		return nil, &Error{Kind: kind, State: state, Err: err}
	}

	if k, done := ctxKind(ctx); done {
		return fail(k, ctx.Err())
	}

	buf, err := req.Marshal()
	if err != nil {
		return fail(ioKind(ctx, err, KindValueTooLarge), err)
	}

	// A zero deadline clears whatever a previous exchange on this conn left behind.
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return fail(ioKind(ctx, err, KindCancelled), err)
	}
	// The cancel callback must not outlive the exchange: a late one would poison the
	// deadline of whoever uses conn next.
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(aLongTimeAgo)
		close(interrupted)
	})
	detached := false
	detach := func() (fired bool) {
		detached = true
		if stop() {
			return false
		}
		<-interrupted
		return true
	}
	defer func() {
		if !detached {
			detach()
		}
	}()

	if _, err := conn.Write(buf); err != nil {
		return fail(ioKind(ctx, err, KindWriteFailed), err)
	}
	state = StateRequestSent
	if k, done := ctxKind(ctx); done {
		return fail(k, ctx.Err())
	}

	state = StateAwaitingHeader
	head, length, err := protocol.ReadHeader(conn)
	if err != nil {
		return fail(ioKind(ctx, err, KindConnectionClosed), err)
	}

	state = StateAwaitingBody
	frame := make([]byte, length)
	frame[0] = head
	frame[1] = byte(length)
	if _, err := io.ReadFull(conn, frame[protocol.HeaderSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fail(ioKind(ctx, err, KindConnectionClosed), err)
	}

	reply, err := protocol.Decode(frame)
	if err != nil {
		return fail(ioKind(ctx, err, KindLengthMismatch), err)
	}
	state = StateDecoded

	if detach() {
		// ctx ended as the reply arrived; conn now carries a past deadline.
		k, _ := ctxKind(ctx)
		return fail(k, ctx.Err())
	}

	if !reply.Is(req.Type, req.Subtype) {
		return nil, &Error{Kind: KindUnexpectedPacket, State: state, GotType: reply.Type, GotSubtype: reply.Subtype}
	}
	return reply, nil
}
