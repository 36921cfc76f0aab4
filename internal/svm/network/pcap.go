package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPPacket is one captured link-layer packet.
type PCAPPacket struct {
	Data      []byte
	Timestamp time.Time
}

// PCAPReader yields captured packets in file order. NextPacket returns
// io.EOF at the end of the capture.
type PCAPReader interface {
	NextPacket() (*PCAPPacket, error)
	LinkType() layers.LinkType
	Close() error
}

// FileReader reads classic pcap files with the pure-Go pcapgo reader.
type FileReader struct {
	f *os.File
	r *pcapgo.Reader
}

// OpenPCAP opens a capture file.
func OpenPCAP(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP header in %s: %w", path, err)
	}
	return &FileReader{f: f, r: r}, nil
}

func (fr *FileReader) NextPacket() (*PCAPPacket, error) {
	data, ci, err := fr.r.ReadPacketData()
	if err != nil {
		return nil, err
	}
	return &PCAPPacket{Data: data, Timestamp: ci.Timestamp}, nil
}

func (fr *FileReader) LinkType() layers.LinkType { return fr.r.LinkType() }

func (fr *FileReader) Close() error { return fr.f.Close() }

// MockPCAPReader replays packets from memory.
type MockPCAPReader struct {
	Packets []PCAPPacket
	Link    layers.LinkType
	Closed  bool
	next    int
}

func (m *MockPCAPReader) NextPacket() (*PCAPPacket, error) {
	if m.next >= len(m.Packets) {
		return nil, io.EOF
	}
	p := m.Packets[m.next]
	m.next++
	return &p, nil
}

func (m *MockPCAPReader) LinkType() layers.LinkType {
	if m.Link == 0 {
		return layers.LinkTypeEthernet
	}
	return m.Link
}

func (m *MockPCAPReader) Close() error {
	m.Closed = true
	return nil
}

// ReplayConfig controls PCAP replay.
type ReplayConfig struct {
	// UDPPort keeps only datagrams sent to this port; 0 keeps all UDP.
	UDPPort int
	// Realtime paces delivery by the capture timestamps.
	Realtime bool
	// SpeedMultiplier scales realtime pacing; values <= 0 mean 1.
	SpeedMultiplier float64
	Stats           PacketStatsInterface
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Packets   int
	Datagrams int
	Elapsed   time.Duration
}

// ReplayPCAP decodes each captured packet down to its UDP payload and hands
// matching payloads to handler in capture order. A handler error stops the
// replay and is returned.
func ReplayPCAP(ctx context.Context, reader PCAPReader, cfg ReplayConfig,
	handler func(ctx context.Context, payload []byte) error) (ReplayResult, error) {
	var res ReplayResult
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1
	}
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}

	start := time.Now()
	var lastCapture time.Time
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pkt, err := reader.NextPacket()
		if errors.Is(err, io.EOF) {
			res.Elapsed = time.Since(start)
			logf("PCAP replay complete: %d packets, %d datagrams in %v", res.Packets, res.Datagrams, res.Elapsed)
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("read PCAP packet %d: %w", res.Packets+1, err)
		}
		res.Packets++

		if cfg.Realtime {
			if !lastCapture.IsZero() {
				delay := time.Duration(float64(pkt.Timestamp.Sub(lastCapture)) / cfg.SpeedMultiplier)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return res, ctx.Err()
					case <-time.After(delay):
					}
				}
			}
			lastCapture = pkt.Timestamp
		}

		packet := gopacket.NewPacket(pkt.Data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.UDPPort != 0 && int(udp.DstPort) != cfg.UDPPort {
			continue
		}
		res.Datagrams++
		stats.AddPacket(len(udp.Payload))
		if err := handler(ctx, udp.Payload); err != nil {
			return res, err
		}
	}
}

// FeedFromPCAP replays a capture through a listener's decoder into its sink.
func (l *UDPListener) FeedFromPCAP(ctx context.Context, reader PCAPReader, cfg ReplayConfig) (ReplayResult, error) {
	if l.sink == nil {
		return ReplayResult{}, errors.New("udp listener has no frame sink")
	}
	if cfg.Stats == nil {
		cfg.Stats = l.stats
	}
	// ReplayPCAP counts each datagram itself
	return ReplayPCAP(ctx, reader, cfg, l.deliver)
}
