// Package protocol implements the memcached binary wire protocol.
//
// Every message is a fixed 24-byte header followed by optional extras,
// key, and value sections. All header integers are big-endian. The
// package translates logical operations (get, set, delete and their
// quiet/batched variants) into wire packets and parses server responses
// back into typed packets.
//
// Packet layout:
//
//	magic (1) | opcode (1) | key length (2) | extras length (1)
//	data type (1) | vbucket id / status (2) | total body length (4)
//	opaque (4) | cas (8)
//	extras | key | value
//
// Example usage:
//
//	pkt, err := protocol.Set([]byte("greeting"), []byte("hello"), 0, 300)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := protocol.Write(conn, pkt); err != nil {
//		log.Fatal(err)
//	}
//
//	resp, err := protocol.ReadResponse(conn)
//	if err != nil {
//		// The connection is no longer usable and must be discarded.
//		log.Fatal(err)
//	}
//	if err := resp.ErrorForStatus(); err != nil {
//		log.Printf("server rejected set: %v", err)
//	}
//
// Only get, set, delete, noop and their quiet/key-echoing variants are
// constructible. add, replace, increment and decrement are not part of
// the supported operation set and have no builders.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire constants for the binary protocol.
const (
	// MagicRequest is the first byte of every request packet.
	MagicRequest byte = 0x80
	// MagicResponse is the first byte of every response packet.
	MagicResponse byte = 0x81

	// HeaderSize is the fixed size of a packet header in bytes.
	HeaderSize = 24

	// MaxKeyLength is the longest key the protocol can carry.
	MaxKeyLength = 250

	// MaxBodyLength caps the total body a response may declare. A
	// header announcing more than this is treated as a framing error
	// rather than an allocation request.
	MaxBodyLength = 16 << 20

	// setExtrasLength is the size of the flags+expiration extras block
	// carried by set requests.
	setExtrasLength = 8
)

// Opcode identifies the operation a packet performs.
type Opcode byte

// Supported opcodes. The quiet (Q) variants suppress the server
// response for misses (gets) or successes (sets), which is what makes
// pipelined multi-key operations cheap; the K variants echo the key in
// the response so pipelined replies can be matched to requests.
const (
	OpGet    Opcode = 0x00
	OpSet    Opcode = 0x01
	OpDelete Opcode = 0x04
	OpGetQ   Opcode = 0x09
	OpNoop   Opcode = 0x0a
	OpGetK   Opcode = 0x0c
	OpGetKQ  Opcode = 0x0d
	OpSetQ   Opcode = 0x11
)

// Status is the 16-bit response status from the server. On request
// packets the same header field carries the vbucket id instead.
type Status uint16

// Response status codes defined by the protocol.
const (
	StatusNoError           Status = 0x0000
	StatusKeyNotFound       Status = 0x0001
	StatusKeyExists         Status = 0x0002
	StatusValueTooLarge     Status = 0x0003
	StatusInvalidArguments  Status = 0x0004
	StatusItemNotStored     Status = 0x0005
	StatusNonNumericValue   Status = 0x0006
	StatusWrongVbucket      Status = 0x0007
	StatusAuthError         Status = 0x0008
	StatusAuthContinue      Status = 0x0009
	StatusUnknownCommand    Status = 0x0081
	StatusOutOfMemory       Status = 0x0082
	StatusNotSupported      Status = 0x0083
	StatusInternalError     Status = 0x0084
	StatusBusy              Status = 0x0085
	StatusTemporaryFailure  Status = 0x0086
)

var statusNames = map[Status]string{
	StatusNoError:          "no error",
	StatusKeyNotFound:      "key not found",
	StatusKeyExists:        "key exists",
	StatusValueTooLarge:    "value too large",
	StatusInvalidArguments: "invalid arguments",
	StatusItemNotStored:    "item not stored",
	StatusNonNumericValue:  "incr/decr on non-numeric value",
	StatusWrongVbucket:     "vbucket belongs to another server",
	StatusAuthError:        "authentication error",
	StatusAuthContinue:     "authentication continue",
	StatusUnknownCommand:   "unknown command",
	StatusOutOfMemory:      "out of memory",
	StatusNotSupported:     "not supported",
	StatusInternalError:    "internal error",
	StatusBusy:             "busy",
	StatusTemporaryFailure: "temporary failure",
}

// String returns the protocol's name for the status, or "unknown
// status" for codes outside the defined table.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown status"
}

// Framing errors. A connection that produced any of these carries an
// undefined stream state and must be discarded, never reused.
var (
	// ErrBodySizeMismatch reports a header whose section lengths are
	// inconsistent with the declared total body length.
	ErrBodySizeMismatch = errors.New("protocol: section lengths exceed total body length")

	// ErrBodyTooLarge reports a response declaring a body beyond
	// MaxBodyLength.
	ErrBodyTooLarge = errors.New("protocol: response body exceeds maximum size")
)

// BadMagicError reports a response whose first byte is not the response
// magic value.
type BadMagicError struct {
	Magic byte
}

func (e *BadMagicError) Error() string {
	return fmt.Sprintf("protocol: invalid magic byte: 0x%02x", e.Magic)
}

// StatusError reports a non-zero response status. The numeric code is
// preserved so callers can distinguish, for example, a miss from a
// server-side failure.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protocol: server status 0x%04x: %s", uint16(e.Status), e.Status)
}

// KeyLengthError reports a key outside the 1..MaxKeyLength range the
// wire format can express. It is a validation error raised before
// anything touches the network.
type KeyLengthError struct {
	Length int
}

func (e *KeyLengthError) Error() string {
	return fmt.Sprintf("protocol: key length %d outside 1..%d", e.Length, MaxKeyLength)
}

// Header is the fixed 24-byte packet header.
type Header struct {
	Magic        byte
	Opcode       Opcode
	KeyLength    uint16
	ExtrasLength uint8
	DataType     byte
	Status       Status // vbucket id on requests
	BodyLength   uint32 // extras + key + value
	Opaque       uint32 // echoed verbatim by the server
	CAS          uint64
}

// Packet is one request or response frame: a header plus its extras,
// key and value sections.
type Packet struct {
	Header Header
	Extras []byte
	Key    []byte
	Value  []byte
}

func validKey(key []byte) error {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return &KeyLengthError{Length: len(key)}
	}
	return nil
}

func newRequest(op Opcode, key, extras, value []byte) *Packet {
	return &Packet{
		Header: Header{
			Magic:        MagicRequest,
			Opcode:       op,
			KeyLength:    uint16(len(key)),
			ExtrasLength: uint8(len(extras)),
			BodyLength:   uint32(len(extras) + len(key) + len(value)),
		},
		Extras: extras,
		Key:    key,
		Value:  value,
	}
}

// Get builds a GET request for the given key.
func Get(key []byte) (*Packet, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return newRequest(OpGet, key, nil, nil), nil
}

// GetK builds a GETK request: like GET, but the response echoes the key.
func GetK(key []byte) (*Packet, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return newRequest(OpGetK, key, nil, nil), nil
}

// GetQ builds a quiet GET request. The server stays silent on a miss.
func GetQ(key []byte) (*Packet, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return newRequest(OpGetQ, key, nil, nil), nil
}

// GetKQ builds a quiet, key-echoing GET request. This is the workhorse
// of pipelined multi-key reads: misses produce no response and hits can
// be matched by the echoed key.
func GetKQ(key []byte) (*Packet, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return newRequest(OpGetKQ, key, nil, nil), nil
}

// Set builds a SET request carrying the value, its client flags and an
// expiration in seconds (0 means never expire, subject to server
// eviction). Flags and expiration travel in the 8-byte extras block.
func Set(key, value []byte, flags, expire uint32) (*Packet, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return newRequest(OpSet, key, setExtras(flags, expire), value), nil
}

// SetQ builds a quiet SET request. The server stays silent on success.
func SetQ(key, value []byte, flags, expire uint32) (*Packet, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return newRequest(OpSetQ, key, setExtras(flags, expire), value), nil
}

// Delete builds a DELETE request for the given key.
func Delete(key []byte) (*Packet, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return newRequest(OpDelete, key, nil, nil), nil
}

// Noop builds a NOOP request, used for connection liveness checks and
// as a pipeline barrier.
func Noop() *Packet {
	return newRequest(OpNoop, nil, nil, nil)
}

func setExtras(flags, expire uint32) []byte {
	extras := make([]byte, setExtrasLength)
	binary.BigEndian.PutUint32(extras[0:4], flags)
	binary.BigEndian.PutUint32(extras[4:8], expire)
	return extras
}

// Flags returns the client flags carried in the packet extras, or 0
// when the packet has no flags block. GET responses carry a 4-byte
// flags block; SET requests carry flags followed by expiration.
func (p *Packet) Flags() uint32 {
	if len(p.Extras) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(p.Extras[0:4])
}

// ErrorForStatus returns nil when the packet's status is NoError and a
// *StatusError preserving the code otherwise.
func (p *Packet) ErrorForStatus() error {
	if p.Header.Status == StatusNoError {
		return nil
	}
	return &StatusError{Status: p.Header.Status}
}

// Encode serializes the packet into its wire representation. The body
// length field is recomputed from the section lengths so a packet whose
// value was swapped (for example by compression) still frames correctly.
func (p *Packet) Encode() []byte {
	bodyLen := len(p.Extras) + len(p.Key) + len(p.Value)
	buf := make([]byte, HeaderSize+bodyLen)

	buf[0] = p.Header.Magic
	buf[1] = byte(p.Header.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Key)))
	buf[4] = uint8(len(p.Extras))
	buf[5] = p.Header.DataType
	binary.BigEndian.PutUint16(buf[6:8], uint16(p.Header.Status))
	binary.BigEndian.PutUint32(buf[8:12], uint32(bodyLen))
	binary.BigEndian.PutUint32(buf[12:16], p.Header.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], p.Header.CAS)

	n := HeaderSize
	n += copy(buf[n:], p.Extras)
	n += copy(buf[n:], p.Key)
	copy(buf[n:], p.Value)

	return buf
}

// Write encodes the packet and writes it to w in one call.
func Write(w io.Writer, p *Packet) error {
	_, err := w.Write(p.Encode())
	return err
}

// ParseResponseHeader decodes a 24-byte response header. The magic byte
// is validated; any value other than MagicResponse means the stream is
// not positioned at a response boundary and the connection is unusable.
func ParseResponseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("protocol: header requires %d bytes, have %d", HeaderSize, len(buf))
	}
	if buf[0] != MagicResponse {
		return Header{}, &BadMagicError{Magic: buf[0]}
	}
	return Header{
		Magic:        buf[0],
		Opcode:       Opcode(buf[1]),
		KeyLength:    binary.BigEndian.Uint16(buf[2:4]),
		ExtrasLength: buf[4],
		DataType:     buf[5],
		Status:       Status(binary.BigEndian.Uint16(buf[6:8])),
		BodyLength:   binary.BigEndian.Uint32(buf[8:12]),
		Opaque:       binary.BigEndian.Uint32(buf[12:16]),
		CAS:          binary.BigEndian.Uint64(buf[16:24]),
	}, nil
}

// ReadResponse reads one complete response packet from r. It reads the
// fixed header, validates the magic byte and the declared lengths, then
// reads exactly the announced body and splits it into extras, key and
// value sections.
//
// Any error leaves the stream in an undefined position: the caller must
// drop the connection rather than attempt another read.
func ReadResponse(r io.Reader) (*Packet, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}

	header, err := ParseResponseHeader(hdr)
	if err != nil {
		return nil, err
	}
	if header.BodyLength > MaxBodyLength {
		return nil, ErrBodyTooLarge
	}
	if uint32(header.ExtrasLength)+uint32(header.KeyLength) > header.BodyLength {
		return nil, ErrBodySizeMismatch
	}

	body := make([]byte, header.BodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	extrasEnd := int(header.ExtrasLength)
	keyEnd := extrasEnd + int(header.KeyLength)
	return &Packet{
		Header: header,
		Extras: body[:extrasEnd],
		Key:    body[extrasEnd:keyEnd],
		Value:  body[keyEnd:],
	}, nil
}

// ReadRequest reads one complete request packet from r. It mirrors
// ReadResponse but expects the request magic; it is used by servers.
func ReadRequest(r io.Reader) (*Packet, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if hdr[0] != MagicRequest {
		return nil, &BadMagicError{Magic: hdr[0]}
	}

	header := Header{
		Magic:        hdr[0],
		Opcode:       Opcode(hdr[1]),
		KeyLength:    binary.BigEndian.Uint16(hdr[2:4]),
		ExtrasLength: hdr[4],
		DataType:     hdr[5],
		Status:       Status(binary.BigEndian.Uint16(hdr[6:8])),
		BodyLength:   binary.BigEndian.Uint32(hdr[8:12]),
		Opaque:       binary.BigEndian.Uint32(hdr[12:16]),
		CAS:          binary.BigEndian.Uint64(hdr[16:24]),
	}
	if header.BodyLength > MaxBodyLength {
		return nil, ErrBodyTooLarge
	}
	if uint32(header.ExtrasLength)+uint32(header.KeyLength) > header.BodyLength {
		return nil, ErrBodySizeMismatch
	}

	body := make([]byte, header.BodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	extrasEnd := int(header.ExtrasLength)
	keyEnd := extrasEnd + int(header.KeyLength)
	return &Packet{
		Header: header,
		Extras: body[:extrasEnd],
		Key:    body[extrasEnd:keyEnd],
		Value:  body[keyEnd:],
	}, nil
}

// Response builds a response packet answering the given request,
// echoing its opcode and opaque token.
func Response(req *Packet, status Status, extras, key, value []byte) *Packet {
	return &Packet{
		Header: Header{
			Magic:        MagicResponse,
			Opcode:       req.Header.Opcode,
			KeyLength:    uint16(len(key)),
			ExtrasLength: uint8(len(extras)),
			Status:       status,
			BodyLength:   uint32(len(extras) + len(key) + len(value)),
			Opaque:       req.Header.Opaque,
		},
		Extras: extras,
		Key:    key,
		Value:  value,
	}
}
