package l1packets

import (
	"fmt"
	"time"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// DecoderStats counts decoded messages.
type DecoderStats struct {
	Datagrams    uint64
	BadDatagrams uint64
	MetadataMsgs uint64
	Frames       uint64
	BadMessages  uint64
	Reassembly   ReassemblyStats
	HaveMetadata bool
}

// Decoder turns datagrams into sensor frames. The latest metadata message is
// attached to every frame decoded after it. Not safe for concurrent use.
type Decoder struct {
	reasm *Reassembler
	meta  *l2frames.Metadata
	now   func() time.Time
	stats DecoderStats
}

// NewDecoder returns a decoder with the given reassembly window.
func NewDecoder(window int) *Decoder {
	return &Decoder{reasm: NewReassembler(window), now: time.Now}
}

// Feed consumes one datagram. It returns a frame when the datagram completes
// one, and nil otherwise.
func (d *Decoder) Feed(datagram []byte) (*l2frames.SensorFrame, error) {
	d.stats.Datagrams++
	h, payload, err := ParseHeader(datagram)
	if err != nil {
		d.stats.BadDatagrams++
		return nil, err
	}
	body, done, err := d.reasm.Add(h, payload)
	if !done {
		return nil, err
	}

	switch h.Kind {
	case KindMetadata:
		meta, err := DecodeMetadata(body)
		if err != nil {
			d.stats.BadMessages++
			return nil, err
		}
		d.meta = meta
		d.stats.MetadataMsgs++
		return nil, nil
	case KindFrame:
		f, err := DecodeFrame(body)
		if err != nil {
			d.stats.BadMessages++
			return nil, fmt.Errorf("frame %d: %w", h.Seq, err)
		}
		f.Seq = uint64(h.Seq)
		f.ReceivedAt = d.now()
		f.Metadata = d.meta
		d.stats.Frames++
		return f, nil
	}
	return nil, nil
}

// Metadata returns the latest decoded metadata, or nil.
func (d *Decoder) Metadata() *l2frames.Metadata { return d.meta }

// Stats returns the counters.
func (d *Decoder) Stats() DecoderStats {
	s := d.stats
	s.Reassembly = d.reasm.Stats()
	s.HaveMetadata = d.meta != nil
	return s
}

// Encoder produces datagrams for metadata and frames with a running
// sequence number.
type Encoder struct {
	MaxDatagram int
	seq         uint32
}

// NewEncoder returns an encoder that splits messages at maxDatagram bytes.
func NewEncoder(maxDatagram int) *Encoder {
	if maxDatagram <= 0 {
		maxDatagram = MaxDatagramSize
	}
	return &Encoder{MaxDatagram: maxDatagram}
}

// Metadata encodes meta into datagrams.
func (e *Encoder) Metadata(meta *l2frames.Metadata) ([][]byte, error) {
	body, err := EncodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	e.seq++
	return Chunk(KindMetadata, e.seq, body, e.MaxDatagram)
}

// Frame encodes f into datagrams.
func (e *Encoder) Frame(f *l2frames.SensorFrame) ([][]byte, error) {
	body, err := EncodeFrame(f)
	if err != nil {
		return nil, err
	}
	e.seq++
	return Chunk(KindFrame, e.seq, body, e.MaxDatagram)
}
