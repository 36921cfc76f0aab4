// Package network is the sensor-feed side of the pipeline: it receives
// datagrams from a UDP socket or a capture file, decodes them into frames and
// hands each frame to a sink with back-pressure.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/surroundview/internal/svm/l1packets"
	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// FrameSink receives decoded frames. Put may block; the listener stops
// reading until it returns.
type FrameSink interface {
	Put(ctx context.Context, f *l2frames.SensorFrame) error
}

// UDPListener receives sensor datagrams and feeds complete frames to a sink.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	maxDatagram int
	sockets     UDPSocketFactory
	stats       PacketStatsInterface
	decoder     *l1packets.Decoder
	sink        FrameSink
	conn        UDPSocket
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	MaxDatagram int
	Sockets     UDPSocketFactory
	Stats       PacketStatsInterface
	Decoder     *l1packets.Decoder
	Sink        FrameSink
}

// NewUDPListener applies defaults: a one minute log interval, kernel sockets,
// no-op stats and an eight-message reassembly window.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	l := &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: config.LogInterval,
		maxDatagram: config.MaxDatagram,
		sockets:     config.Sockets,
		stats:       config.Stats,
		decoder:     config.Decoder,
		sink:        config.Sink,
	}
	if l.logInterval == 0 {
		l.logInterval = time.Minute
	}
	if l.maxDatagram <= 0 {
		l.maxDatagram = l1packets.MaxDatagramSize
	}
	if l.sockets == nil {
		l.sockets = RealUDPSocketFactory{}
	}
	if l.stats == nil {
		l.stats = noopStats{}
	}
	if l.decoder == nil {
		l.decoder = l1packets.NewDecoder(8)
	}
	return l
}

// Start listens until ctx is done or the sink is closed. It returns
// ctx.Err() on cancellation.
func (l *UDPListener) Start(ctx context.Context) error {
	if l.sink == nil {
		return errors.New("udp listener has no frame sink")
	}
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.sockets.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			logf("Warning: failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	logf("UDP listener started on %s (receive buffer %d bytes)", conn.LocalAddr(), l.rcvBuf)

	go l.startStatsLogging(ctx)

	buffer := make([]byte, l.maxDatagram)
	for {
		select {
		case <-ctx.Done():
			logf("UDP listener stopping: %v", ctx.Err())
			return ctx.Err()
		default:
		}

		// short deadline so cancellation is noticed
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logf("UDP read error: %v", err)
			continue
		}

		if err := l.handleDatagram(ctx, buffer[:n]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logf("stopping after datagram from %v: %v", from, err)
			return err
		}
	}
}

// handleDatagram counts and delivers one received datagram.
func (l *UDPListener) handleDatagram(ctx context.Context, datagram []byte) error {
	l.stats.AddPacket(len(datagram))
	return l.deliver(ctx, datagram)
}

// deliver decodes one datagram. Decode errors are counted and swallowed;
// only a sink failure is returned.
func (l *UDPListener) deliver(ctx context.Context, datagram []byte) error {
	frame, err := l.decoder.Feed(datagram)
	if err != nil {
		l.stats.AddDropped()
		logf("decode: %v", err)
		return nil
	}
	if frame == nil {
		return nil
	}
	l.stats.AddFrame()
	return l.sink.Put(ctx, frame)
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// Close closes the socket if Start opened one.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
