package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestGetEncoding(t *testing.T) {
	pkt, err := Get([]byte("Hello"))
	if err != nil {
		t.Fatal(err)
	}

	expect := []byte{
		0x80, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x48, 0x65, 0x6c, 0x6c, 0x6f,
	}
	if !bytes.Equal(expect, pkt.Encode()) {
		t.Errorf("get encoding mismatch:\n got %x\nwant %x", pkt.Encode(), expect)
	}
}

func TestSetEncoding(t *testing.T) {
	pkt, err := Set([]byte("Hello"), []byte("World"), 0xdeadbeef, 0x1c20)
	if err != nil {
		t.Fatal(err)
	}

	expect := []byte{
		0x80, 0x01, 0x00, 0x05, 0x08, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x12, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xde, 0xad, 0xbe, 0xef, 0x00, 0x00, 0x1c, 0x20,
		0x48, 0x65, 0x6c, 0x6c, 0x6f, 0x57, 0x6f, 0x72, 0x6c, 0x64,
	}
	if !bytes.Equal(expect, pkt.Encode()) {
		t.Errorf("set encoding mismatch:\n got %x\nwant %x", pkt.Encode(), expect)
	}
}

func TestSetExtras(t *testing.T) {
	pkt, err := Set([]byte("key"), []byte("value"), 0x00000000, 0xABCD0000)
	if err != nil {
		t.Fatal(err)
	}
	expect := []byte{0, 0, 0, 0, 0xAB, 0xCD, 0x00, 0x00}
	if !bytes.Equal(expect, pkt.Extras) {
		t.Errorf("extras mismatch: got %x want %x", pkt.Extras, expect)
	}
	if pkt.Flags() != 0 {
		t.Errorf("flags = %#x, want 0", pkt.Flags())
	}
}

func TestOpcodes(t *testing.T) {
	key := []byte("k")
	cases := []struct {
		name   string
		opcode Opcode
		build  func() (*Packet, error)
	}{
		{"get", OpGet, func() (*Packet, error) { return Get(key) }},
		{"getk", OpGetK, func() (*Packet, error) { return GetK(key) }},
		{"getq", OpGetQ, func() (*Packet, error) { return GetQ(key) }},
		{"getkq", OpGetKQ, func() (*Packet, error) { return GetKQ(key) }},
		{"set", OpSet, func() (*Packet, error) { return Set(key, nil, 0, 0) }},
		{"setq", OpSetQ, func() (*Packet, error) { return SetQ(key, nil, 0, 0) }},
		{"delete", OpDelete, func() (*Packet, error) { return Delete(key) }},
		{"noop", OpNoop, func() (*Packet, error) { return Noop(), nil }},
	}
	for _, tc := range cases {
		pkt, err := tc.build()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if pkt.Header.Opcode != tc.opcode {
			t.Errorf("%s: opcode = 0x%02x, want 0x%02x", tc.name, pkt.Header.Opcode, tc.opcode)
		}
		if pkt.Header.Magic != MagicRequest {
			t.Errorf("%s: magic = 0x%02x, want 0x%02x", tc.name, pkt.Header.Magic, MagicRequest)
		}
	}
}

func TestKeyValidation(t *testing.T) {
	var lengthErr *KeyLengthError

	if _, err := Get(nil); !errors.As(err, &lengthErr) {
		t.Errorf("empty key: got %v, want KeyLengthError", err)
	}
	long := []byte(strings.Repeat("x", MaxKeyLength+1))
	if _, err := Set(long, nil, 0, 0); !errors.As(err, &lengthErr) {
		t.Errorf("oversized key: got %v, want KeyLengthError", err)
	}
	if _, err := Delete([]byte(strings.Repeat("x", MaxKeyLength))); err != nil {
		t.Errorf("max-length key should be valid: %v", err)
	}
}

func TestReadResponseRoundTrip(t *testing.T) {
	req, err := Set([]byte("Hello"), []byte("World"), 0xdeadbeef, 0x1c20)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Opaque = 42

	resp := Response(req, StatusNoError, req.Extras, req.Key, req.Value)
	got, err := ReadResponse(bytes.NewReader(resp.Encode()))
	if err != nil {
		t.Fatal(err)
	}

	if got.Header.Opaque != 42 {
		t.Errorf("opaque = %d, want 42", got.Header.Opaque)
	}
	if !bytes.Equal(got.Key, []byte("Hello")) || !bytes.Equal(got.Value, []byte("World")) {
		t.Errorf("round trip lost body: key=%q value=%q", got.Key, got.Value)
	}
	if got.Flags() != 0xdeadbeef {
		t.Errorf("flags = %#x, want 0xdeadbeef", got.Flags())
	}
	if err := got.ErrorForStatus(); err != nil {
		t.Errorf("unexpected status error: %v", err)
	}
}

func TestReadResponseBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0x08

	_, err := ReadResponse(bytes.NewReader(buf))
	var magicErr *BadMagicError
	if !errors.As(err, &magicErr) {
		t.Fatalf("got %v, want BadMagicError", err)
	}
	if magicErr.Magic != 0x08 {
		t.Errorf("magic = 0x%02x, want 0x08", magicErr.Magic)
	}
}

func TestReadResponseBodyTooLarge(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = MagicResponse
	binary.BigEndian.PutUint32(buf[8:12], MaxBodyLength+1)

	if _, err := ReadResponse(bytes.NewReader(buf)); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("got %v, want ErrBodyTooLarge", err)
	}
}

func TestReadResponseSectionMismatch(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = MagicResponse
	binary.BigEndian.PutUint16(buf[2:4], 10) // key longer than the whole body
	binary.BigEndian.PutUint32(buf[8:12], 4)
	buf = append(buf, 0, 0, 0, 0)

	if _, err := ReadResponse(bytes.NewReader(buf)); !errors.Is(err, ErrBodySizeMismatch) {
		t.Errorf("got %v, want ErrBodySizeMismatch", err)
	}
}

func TestReadResponseTruncatedBody(t *testing.T) {
	req, _ := Get([]byte("Hello"))
	resp := Response(req, StatusNoError, nil, nil, []byte("World"))
	wire := resp.Encode()

	// Drop the tail of the value; the declared body length no longer
	// matches the bytes available.
	_, err := ReadResponse(bytes.NewReader(wire[:len(wire)-3]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestStatusErrors(t *testing.T) {
	req, _ := Get([]byte("k"))
	resp := Response(req, StatusKeyNotFound, nil, nil, nil)

	err := resp.ErrorForStatus()
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("got %v, want StatusError", err)
	}
	if statusErr.Status != StatusKeyNotFound {
		t.Errorf("status = %#x, want key not found", uint16(statusErr.Status))
	}
	if statusErr.Status.String() != "key not found" {
		t.Errorf("status name = %q", statusErr.Status.String())
	}
	if Status(0x7777).String() != "unknown status" {
		t.Errorf("unexpected name for undefined status")
	}
}
