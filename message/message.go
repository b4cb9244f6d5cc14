// Package message defines the payloads carried inside connect-server packets.
//
// The protocol package only knows about frames. This package gives the payload bytes of the
// F4 06 (server list) and F4 03 (server info) exchanges their typed shape.
package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	ServerEntrySize       = 4  // code u16 LE + percent + visible
	ServerInfoRequestSize = 2  // code u16 LE
	ServerInfoIPSize      = 16 // NUL-padded dotted quad
	ServerInfoSize        = ServerInfoIPSize + 2
)

var (
	ErrMalformedServerList = errors.New("message: server list payload is not a whole number of entries")
	ErrMalformedServerInfo = errors.New("message: malformed server info payload")
)

// ServerListReply is the payload of an F4 06 reply, kept as the bytes that arrived.
type ServerListReply struct {
	Payload []byte
}

// ServerEntry is one row of the server list as it appears on the wire.
type ServerEntry struct {
	Code    uint16
	Percent uint8 // population shown to the client
	Visible bool
}

// Entries parses the reply payload as a sequence of 4-byte server entries.
func (r *ServerListReply) Entries() ([]ServerEntry, error) {
	return DecodeServerList(r.Payload)
}

// EncodeServerList serializes entries into an F4 06 reply payload.
func EncodeServerList(entries []ServerEntry) []byte {
	buf := make([]byte, len(entries)*ServerEntrySize)
	for i, e := range entries {
		off := i * ServerEntrySize
		binary.LittleEndian.PutUint16(buf[off:off+2], e.Code)
		buf[off+2] = e.Percent
		if e.Visible {
			buf[off+3] = 1
		}
	}
	return buf
}

// DecodeServerList parses an F4 06 reply payload.
func DecodeServerList(payload []byte) ([]ServerEntry, error) {
	if len(payload)%ServerEntrySize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedServerList, len(payload))
	}
	entries := make([]ServerEntry, 0, len(payload)/ServerEntrySize)
	for off := 0; off < len(payload); off += ServerEntrySize {
		entries = append(entries, ServerEntry{
			Code:    binary.LittleEndian.Uint16(payload[off : off+2]),
			Percent: payload[off+2],
			Visible: payload[off+3] != 0,
		})
	}
	return entries, nil
}

// EncodeServerInfoRequest builds the payload of an F4 03 request.
func EncodeServerInfoRequest(code uint16) []byte {
	buf := make([]byte, ServerInfoRequestSize)
	binary.LittleEndian.PutUint16(buf, code)
	return buf
}

// DecodeServerInfoRequest extracts the server code from an F4 03 request payload.
// Trailing bytes are ignored.
func DecodeServerInfoRequest(payload []byte) (uint16, error) {
	if len(payload) < ServerInfoRequestSize {
		return 0, fmt.Errorf("%w: request has %d bytes", ErrMalformedServerInfo, len(payload))
	}
	return binary.LittleEndian.Uint16(payload[:2]), nil
}

// ServerInfo is the address of one game server, as returned by F4 03.
type ServerInfo struct {
	IP   string
	Port uint16
}

func (i ServerInfo) Addr() string {
	return net.JoinHostPort(i.IP, fmt.Sprint(i.Port))
}

// Encode serializes i into an F4 03 reply payload. IPs longer than 15 bytes are cut so the
// field stays NUL-terminated.
func (i ServerInfo) Encode() []byte {
	buf := make([]byte, ServerInfoSize)
	copy(buf[:ServerInfoIPSize-1], i.IP)
	binary.LittleEndian.PutUint16(buf[ServerInfoIPSize:], i.Port)
	return buf
}

// DecodeServerInfo parses an F4 03 reply payload.
func DecodeServerInfo(payload []byte) (*ServerInfo, error) {
	if len(payload) != ServerInfoSize {
		return nil, fmt.Errorf("%w: reply has %d bytes, want %d", ErrMalformedServerInfo, len(payload), ServerInfoSize)
	}
	ip := payload[:ServerInfoIPSize]
	if n := bytes.IndexByte(ip, 0); n >= 0 {
		ip = ip[:n]
	}
	return &ServerInfo{
		IP:   string(ip),
		Port: binary.LittleEndian.Uint16(payload[ServerInfoIPSize:]),
	}, nil
}
