package l1packets

import "fmt"

type messageKey struct {
	kind Kind
	seq  uint32
}

type partial struct {
	chunks   [][]byte
	received int
	size     int
	order    uint64
}

// ReassemblyStats counts reassembly outcomes.
type ReassemblyStats struct {
	Completed  uint64
	Evicted    uint64
	Duplicates uint64
	Conflicts  uint64
}

// Reassembler joins chunked messages. At most window incomplete messages are
// kept; the oldest is evicted when a new one would exceed that. Not safe for
// concurrent use.
type Reassembler struct {
	window  int
	pending map[messageKey]*partial
	next    uint64
	stats   ReassemblyStats
}

// NewReassembler returns a reassembler keeping up to window partial messages.
func NewReassembler(window int) *Reassembler {
	if window <= 0 {
		window = 8
	}
	return &Reassembler{window: window, pending: make(map[messageKey]*partial)}
}

// Add records one chunk. When it completes a message the joined body is
// returned with done set. payload is copied.
func (r *Reassembler) Add(h Header, payload []byte) (body []byte, done bool, err error) {
	if h.ChunkCount == 1 {
		r.stats.Completed++
		return append([]byte(nil), payload...), true, nil
	}

	key := messageKey{kind: h.Kind, seq: h.Seq}
	p, ok := r.pending[key]
	if ok && len(p.chunks) != int(h.ChunkCount) {
		r.stats.Conflicts++
		delete(r.pending, key)
		ok = false
		err = fmt.Errorf("%w: %s %d changed chunk count", ErrBadPacket, h.Kind, h.Seq)
	}
	if !ok {
		if len(r.pending) >= r.window {
			r.evictOldest()
		}
		r.next++
		p = &partial{chunks: make([][]byte, h.ChunkCount), order: r.next}
		r.pending[key] = p
	}
	if p.chunks[h.ChunkIndex] != nil {
		r.stats.Duplicates++
		return nil, false, err
	}
	p.chunks[h.ChunkIndex] = append([]byte(nil), payload...)
	p.received++
	p.size += len(payload)
	if p.received < len(p.chunks) {
		return nil, false, err
	}

	delete(r.pending, key)
	body = make([]byte, 0, p.size)
	for _, c := range p.chunks {
		body = append(body, c...)
	}
	r.stats.Completed++
	return body, true, err
}

func (r *Reassembler) evictOldest() {
	var oldest messageKey
	var order uint64
	first := true
	for k, p := range r.pending {
		if first || p.order < order {
			oldest, order, first = k, p.order, false
		}
	}
	if !first {
		delete(r.pending, oldest)
		r.stats.Evicted++
	}
}

// Pending is the number of incomplete messages held.
func (r *Reassembler) Pending() int { return len(r.pending) }

// Stats returns the counters.
func (r *Reassembler) Stats() ReassemblyStats { return r.stats }
