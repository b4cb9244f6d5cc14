package protocol

import (
	"fmt"
	"io"
)

// ReadHeader reads the 2-byte frame header from r.
// It validates the head so a stream of garbage is rejected before any body is awaited.
// io.EOF is returned unwrapped when r ends before the first byte.
func ReadHeader(r io.Reader) (head byte, length int, err error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, err
	}
	if !IsShortHead(buf[0]) {
		return 0, 0, fmt.Errorf("%w: 0x%02X", ErrUnknownHead, buf[0])
	}
	if buf[1] < MinPacketSize {
		return 0, 0, fmt.Errorf("%w: declared %d, minimum is %d", ErrLengthMismatch, buf[1], MinPacketSize)
	}
	return buf[0], int(buf[1]), nil
}

// ReadFrame reads one complete frame from r: the header first, then exactly length-2 more
// bytes. A single Read on a TCP stream may return part of a frame or several frames, so the
// header always drives how much is read.
//
// The returned slice holds the whole frame and can be passed to Decode.
func ReadFrame(r io.Reader) ([]byte, error) {
	head, length, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	buf[0] = head
	buf[1] = byte(length)
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ReadPacket reads and decodes one frame from r.
func ReadPacket(r io.Reader) (*Packet, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(frame)
}

// WritePacket encodes p and writes it to w in a single Write.
// The caller must serialize writers sharing w, otherwise frames interleave.
func WritePacket(w io.Writer, p *Packet) error {
	buf, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
