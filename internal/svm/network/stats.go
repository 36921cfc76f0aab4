package network

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/surroundview/internal/monitoring"
)

// PacketStatsInterface collects ingestion counters.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddFrame()
	LogStats()
}

type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddDropped()   {}
func (noopStats) AddFrame()     {}
func (noopStats) LogStats()     {}

// PacketStats counts datagrams, bytes, dropped datagrams and completed
// frames. LogStats reports rates since the previous call.
type PacketStats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	dropped atomic.Uint64
	frames  atomic.Uint64

	mu       sync.Mutex
	last     time.Time
	lastSnap StatsSnapshot
}

// StatsSnapshot is a copy of the counters.
type StatsSnapshot struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Dropped uint64 `json:"dropped"`
	Frames  uint64 `json:"frames"`
}

// NewPacketStats returns zeroed counters.
func NewPacketStats() *PacketStats {
	return &PacketStats{last: time.Now()}
}

func (s *PacketStats) AddPacket(bytes int) {
	s.packets.Add(1)
	s.bytes.Add(uint64(bytes))
}

func (s *PacketStats) AddDropped() { s.dropped.Add(1) }
func (s *PacketStats) AddFrame()   { s.frames.Add(1) }

// Snapshot returns the current totals.
func (s *PacketStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Dropped: s.dropped.Load(),
		Frames:  s.frames.Load(),
	}
}

func (s *PacketStats) LogStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cur := s.Snapshot()
	secs := now.Sub(s.last).Seconds()
	if secs <= 0 {
		secs = 1
	}
	logf("%.1f pkt/s, %.2f MB/s, %.2f frames/s, %d dropped (total %d frames)",
		float64(cur.Packets-s.lastSnap.Packets)/secs,
		float64(cur.Bytes-s.lastSnap.Bytes)/secs/1e6,
		float64(cur.Frames-s.lastSnap.Frames)/secs,
		cur.Dropped-s.lastSnap.Dropped,
		cur.Frames)
	s.last = now
	s.lastSnap = cur
}

var logf = monitoring.Prefixed("feed")
