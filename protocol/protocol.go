// Package protocol implements the short-frame packet format spoken by the ConnectServer.
//
// Every packet starts with a one-byte head and a one-byte total length. The length counts
// the whole packet, head and length byte included, so the receiver reads the 2-byte header
// first, learns how many bytes follow, then reads exactly that many.
//
// Frame format:
//
//	0    1    2    3    4
//	┌────┬────┬────┬────┬────────────────┐
//	│head│len │type│sub │ payload ...     │
//	│ C1 │    │ F4 │ 06 │ len-4 bytes     │
//	└────┴────┴────┴────┴────────────────┘
package protocol

import (
	"errors"
	"fmt"
)

// Head markers. C1 and C2 carry a 1-byte length and are the only ones this package frames.
// C3 and C4 belong to the extended-length family and are rejected as unknown.
const (
	HeadC1 byte = 0xC1
	HeadC2 byte = 0xC2
	HeadC3 byte = 0xC3
	HeadC4 byte = 0xC4
)

const (
	HeaderSize    = 2   // head + length
	MinPacketSize = 4   // head + length + type + subtype
	MaxPacketSize = 255 // largest value a 1-byte length can declare
	MaxPayload    = MaxPacketSize - MinPacketSize
)

// Packet types and subtypes used by the connect-server exchange.
const (
	TypeConnectServer byte = 0xF4

	SubtypeServerInfo byte = 0x03 // F4 03: resolve one game server to ip:port
	SubtypeServerList byte = 0x06 // F4 06: list all game servers
)

var (
	ErrTruncated      = errors.New("protocol: packet shorter than minimum header")
	ErrUnknownHead    = errors.New("protocol: unknown packet head")
	ErrLengthMismatch = errors.New("protocol: declared length does not match packet size")
	ErrValueTooLarge  = errors.New("protocol: packet exceeds short frame limit")
)

// Packet is one decoded frame.
type Packet struct {
	Head    byte
	Length  byte
	Type    byte
	Subtype byte
	Payload []byte
}

// IsShortHead reports whether head is framed with a 1-byte length.
func IsShortHead(head byte) bool {
	return head == HeadC1 || head == HeadC2
}

// Encode builds a C1 packet. It fails with ErrValueTooLarge if the packet would not fit
// a 1-byte length.
func Encode(typ, subtype byte, payload []byte) ([]byte, error) {
	return EncodeHead(HeadC1, typ, subtype, payload)
}

// EncodeHead is Encode with an explicit short head (C1 or C2).
func EncodeHead(head, typ, subtype byte, payload []byte) ([]byte, error) {
	if !IsShortHead(head) {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownHead, head)
	}
	length := MinPacketSize + len(payload)
	if length > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, length)
	}

	buf := make([]byte, length)
	buf[0] = head
	buf[1] = byte(length)
	buf[2] = typ
	buf[3] = subtype
	copy(buf[MinPacketSize:], payload)
	return buf, nil
}

// Decode parses exactly one packet from b. b must hold the whole packet and nothing else.
func Decode(b []byte) (*Packet, error) {
	if len(b) < MinPacketSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrTruncated, len(b))
	}
	if !IsShortHead(b[0]) {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownHead, b[0])
	}
	if int(b[1]) != len(b) {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, b[1], len(b))
	}

	payload := make([]byte, len(b)-MinPacketSize)
	copy(payload, b[MinPacketSize:])

	return &Packet{
		Head:    b[0],
		Length:  b[1],
		Type:    b[2],
		Subtype: b[3],
		Payload: payload,
	}, nil
}

// Marshal encodes p using its own head. The Length field is recomputed.
func (p *Packet) Marshal() ([]byte, error) {
	return EncodeHead(p.Head, p.Type, p.Subtype, p.Payload)
}

// Is reports whether p carries the given type and subtype.
func (p *Packet) Is(typ, subtype byte) bool {
	return p.Type == typ && p.Subtype == subtype
}

func (p *Packet) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X (%d payload bytes)", p.Head, p.Length, p.Type, p.Subtype, len(p.Payload))
}
