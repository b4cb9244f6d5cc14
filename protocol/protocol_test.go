package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestEncodeDecode(t *testing.T) {
	kinds := [][2]byte{{0xF4, 0x06}, {0xF4, 0x03}, {0x00, 0x00}, {0xFF, 0xFF}, {0xC1, 0xC2}, {0x01, 0xFE}}
	for _, kind := range kinds {
		typ, subtype := kind[0], kind[1]
		for _, size := range []int{0, 1, 4, 100, MaxPayload} {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 256)
			}

			buf, err := Encode(typ, subtype, payload)
			if err != nil {
				t.Fatalf("Encode(%02X %02X, %d) failed: %v", typ, subtype, size, err)
			}

			p, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode(%02X %02X, %d) failed: %v", typ, subtype, size, err)
			}

			if p.Head != HeadC1 {
				t.Errorf("Head mismatch: got %02X, want %02X", p.Head, HeadC1)
			}
			if int(p.Length) != MinPacketSize+size {
				t.Errorf("Length mismatch: got %d, want %d", p.Length, MinPacketSize+size)
			}
			if p.Type != typ || p.Subtype != subtype {
				t.Errorf("Type/Subtype mismatch: got %02X %02X, want %02X %02X", p.Type, p.Subtype, typ, subtype)
			}
			if !bytes.Equal(p.Payload, payload) {
				t.Errorf("Payload mismatch for %02X %02X size %d", typ, subtype, size)
			}
		}
	}
}

func TestEncodeServerListRequest(t *testing.T) {
	buf, err := Encode(TypeConnectServer, SubtypeServerList, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0xC1, 0x04, 0xF4, 0x06}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % X, want % X", buf, want)
	}
}

func TestEncodeValueTooLarge(t *testing.T) {
	_, err := Encode(0xF4, 0x06, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
}

func TestEncodeHeadRejectsExtendedHeads(t *testing.T) {
	for _, head := range []byte{HeadC3, HeadC4, 0x00} {
		_, err := EncodeHead(head, 0xF4, 0x06, nil)
		if !errors.Is(err, ErrUnknownHead) {
			t.Errorf("head %02X: expected ErrUnknownHead, got %v", head, err)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	for _, b := range [][]byte{nil, {0xC1}, {0xC1, 0x04}, {0xC1, 0x04, 0xF4}} {
		_, err := Decode(b)
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("% X: expected ErrTruncated, got %v", b, err)
		}
	}
}

func TestDecodeUnknownHead(t *testing.T) {
	_, err := Decode([]byte{0xC3, 0x04, 0xF4, 0x06})
	if !errors.Is(err, ErrUnknownHead) {
		t.Fatalf("expected ErrUnknownHead, got %v", err)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	cases := [][]byte{
		{0xC1, 0x05, 0xF4, 0x06},             // declares more than supplied
		{0xC1, 0x04, 0xF4, 0x06, 0xAA},       // declares less than supplied
		{0xC2, 0x08, 0xF4, 0x06, 0xAA, 0xBB}, // body cut short
	}
	for _, b := range cases {
		_, err := Decode(b)
		if !errors.Is(err, ErrLengthMismatch) {
			t.Errorf("% X: expected ErrLengthMismatch, got %v", b, err)
		}
	}
}

func TestDecodeCopiesPayload(t *testing.T) {
	b := []byte{0xC2, 0x06, 0xF4, 0x06, 0x01, 0x02}
	p, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	b[4] = 0xFF
	if p.Payload[0] != 0x01 {
		t.Fatalf("payload aliases input buffer")
	}
}

func TestReadFrameOneByteAtATime(t *testing.T) {
	wire := []byte{0xC2, 0x08, 0xF4, 0x06, 0xAA, 0xBB, 0xCC, 0xDD}
	frame, err := ReadFrame(iotest.OneByteReader(bytes.NewReader(wire)))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(frame, wire) {
		t.Fatalf("got % X, want % X", frame, wire)
	}
}

func TestReadFrameCoalesced(t *testing.T) {
	first, _ := Encode(0xF4, 0x06, nil)
	second, _ := EncodeHead(HeadC2, 0xF4, 0x06, []byte{1, 2, 3})
	r := bytes.NewReader(append(append([]byte{}, first...), second...))

	p1, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("first ReadPacket failed: %v", err)
	}
	p2, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("second ReadPacket failed: %v", err)
	}
	if len(p1.Payload) != 0 || !bytes.Equal(p2.Payload, []byte{1, 2, 3}) {
		t.Fatalf("frames bled into each other: %v / %v", p1, p2)
	}
	if _, err := ReadPacket(r); err != io.EOF {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestReadFrameHeaderOnlyThenClose(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0xC2, 0x08}))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	_, _, err := ReadHeader(bytes.NewReader([]byte("GET / HTTP/1.1\r\n")))
	if !errors.Is(err, ErrUnknownHead) {
		t.Fatalf("expected ErrUnknownHead, got %v", err)
	}

	_, _, err = ReadHeader(bytes.NewReader([]byte{0xC1, 0x03, 0xF4}))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch for declared length 3, got %v", err)
	}
}

func TestWritePacket(t *testing.T) {
	var buf bytes.Buffer
	p := &Packet{Head: HeadC2, Type: 0xF4, Subtype: 0x06, Payload: []byte{0xAA, 0xBB, 0xCC, 0xDD}}
	if err := WritePacket(&buf, p); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}
	want := []byte{0xC2, 0x08, 0xF4, 0x06, 0xAA, 0xBB, 0xCC, 0xDD}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % X, want % X", buf.Bytes(), want)
	}
}

func BenchmarkEncodeDecode(b *testing.B) {
	payload := bytes.Repeat([]byte{0x01, 0x00, 0x00, 0x01}, 16)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, _ := Encode(TypeConnectServer, SubtypeServerList, payload)
		Decode(buf)
	}
}
