package l1packets

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header sizes and wire constants.
const (
	HeaderSize = 16
	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
)

// Magic prefixes every datagram.
var Magic = [4]byte{'S', 'V', 'M', '1'}

// ErrBadPacket is returned for datagrams that cannot be parsed.
var ErrBadPacket = errors.New("malformed svm packet")

// Kind identifies the message a datagram belongs to.
type Kind uint8

const (
	KindMetadata Kind = 1
	KindFrame    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "metadata"
	case KindFrame:
		return "frame"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Header is the fixed prefix of each datagram.
type Header struct {
	Kind       Kind
	Flags      uint8
	Seq        uint32
	ChunkIndex uint16
	ChunkCount uint16
}

// MarshalTo writes h into the first HeaderSize bytes of b.
func (h Header) MarshalTo(b []byte) {
	_ = b[HeaderSize-1]
	copy(b[0:4], Magic[:])
	b[4] = uint8(h.Kind)
	b[5] = h.Flags
	binary.BigEndian.PutUint16(b[6:8], 0)
	binary.BigEndian.PutUint32(b[8:12], h.Seq)
	binary.BigEndian.PutUint16(b[12:14], h.ChunkIndex)
	binary.BigEndian.PutUint16(b[14:16], h.ChunkCount)
}

// ParseHeader splits a datagram into its header and payload. The payload
// aliases b.
func ParseHeader(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes, need %d", ErrBadPacket, len(b), HeaderSize)
	}
	if [4]byte(b[0:4]) != Magic {
		return Header{}, nil, fmt.Errorf("%w: bad magic %q", ErrBadPacket, b[0:4])
	}
	h := Header{
		Kind:       Kind(b[4]),
		Flags:      b[5],
		Seq:        binary.BigEndian.Uint32(b[8:12]),
		ChunkIndex: binary.BigEndian.Uint16(b[12:14]),
		ChunkCount: binary.BigEndian.Uint16(b[14:16]),
	}
	if h.Kind != KindMetadata && h.Kind != KindFrame {
		return Header{}, nil, fmt.Errorf("%w: unknown %s", ErrBadPacket, h.Kind)
	}
	if h.ChunkCount == 0 || h.ChunkIndex >= h.ChunkCount {
		return Header{}, nil, fmt.Errorf("%w: chunk %d of %d", ErrBadPacket, h.ChunkIndex, h.ChunkCount)
	}
	return h, b[HeaderSize:], nil
}

// Chunk splits a message body into datagrams of at most maxDatagram bytes.
// An empty body still produces one datagram.
func Chunk(kind Kind, seq uint32, body []byte, maxDatagram int) ([][]byte, error) {
	if maxDatagram <= HeaderSize || maxDatagram > MaxDatagramSize {
		return nil, fmt.Errorf("datagram size %d outside (%d, %d]", maxDatagram, HeaderSize, MaxDatagramSize)
	}
	per := maxDatagram - HeaderSize
	count := (len(body) + per - 1) / per
	if count == 0 {
		count = 1
	}
	if count > 0xFFFF {
		return nil, fmt.Errorf("message of %d bytes needs %d chunks", len(body), count)
	}

	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		lo := i * per
		hi := min(lo+per, len(body))
		d := make([]byte, HeaderSize+hi-lo)
		Header{Kind: kind, Seq: seq, ChunkIndex: uint16(i), ChunkCount: uint16(count)}.MarshalTo(d)
		copy(d[HeaderSize:], body[lo:hi])
		out = append(out, d)
	}
	return out, nil
}
