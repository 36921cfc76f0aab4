package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the listener uses, so tests can
// run without a real socket.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory opens kernel sockets with net.ListenUDP.
type RealUDPSocketFactory struct{}

// ListenUDP implements UDPSocketFactory. *net.UDPConn satisfies UDPSocket
// directly.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket replays queued datagrams. Once the queue is empty each read
// reports a timeout, the same way a real socket with a deadline does. It is
// safe to Feed from a test while the listener reads.
type MockUDPSocket struct {
	mu             sync.Mutex
	datagrams      [][]byte
	from           *net.UDPAddr
	closed         bool
	readBufferSize int
	readErr        error
	deadlines      int
}

// NewMockUDPSocket returns a socket that will deliver datagrams in order.
func NewMockUDPSocket(datagrams ...[]byte) *MockUDPSocket {
	return &MockUDPSocket{
		datagrams: datagrams,
		from:      &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000},
	}
}

// Feed appends datagrams to the read queue.
func (m *MockUDPSocket) Feed(datagrams ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datagrams = append(m.datagrams, datagrams...)
}

// FailNextRead makes the next read return err.
func (m *MockUDPSocket) FailNextRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if err := m.readErr; err != nil {
		m.readErr = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	if len(m.datagrams) == 0 {
		m.mu.Unlock()
		// emulate a short read deadline
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	d := m.datagrams[0]
	m.datagrams = m.datagrams[1:]
	m.mu.Unlock()
	return copy(b, d), m.from, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines++
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5005}
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadBufferSize is the last value passed to SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

// MockUDPSocketFactory hands out one prepared socket.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Err    error
	Addr   *net.UDPAddr
}

func (f *MockUDPSocketFactory) ListenUDP(_ string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.Addr = laddr
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
