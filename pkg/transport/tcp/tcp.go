// Package tcp implements the TCP transport (§4.6): a listener bound to a
// single configurable port, accepting one peer at a time, with the socket
// options §4.6 mandates (TCP_NODELAY, bounded keepalive, fixed buffer
// sizes). Framing is length-prefixed (pkg/framing); payloads crossing this
// package are always whole, still-encoded codec messages.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/telepose/posehost/pkg/framing"
	"github.com/telepose/posehost/pkg/transport"
)

// Common errors.
var (
	ErrNotConnected = errors.New("tcp: not connected")
	ErrConnClosed   = errors.New("tcp: connection closed")
)

// Config holds TCP-specific tuning, all defaulted to the §4.6 values.
type Config struct {
	// Address is the listen address, e.g. "0.0.0.0:5577".
	Address string `yaml:"address" json:"address"`

	// ReadBufferSize/WriteBufferSize set SO_RCVBUF/SO_SNDBUF (§4.6: 32 KiB).
	ReadBufferSize  int `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int `yaml:"write_buffer_size" json:"write_buffer_size"`

	// KeepAliveIdle/Interval/Count implement §4.6's SO_KEEPALIVE schedule
	// (idle=5s, interval=1s, count=3).
	KeepAliveIdle     time.Duration `yaml:"keepalive_idle" json:"keepalive_idle"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" json:"keepalive_interval"`
	KeepAliveCount    int           `yaml:"keepalive_count" json:"keepalive_count"`

	// WriteTimeout bounds a single Send call.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultConfig returns the §4.6 mandated defaults.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:    32 * 1024,
		WriteBufferSize:   32 * 1024,
		KeepAliveIdle:     5 * time.Second,
		KeepAliveInterval: 1 * time.Second,
		KeepAliveCount:    3,
		WriteTimeout:      10 * time.Second,
	}
}

// Transport implements transport.Transport over one accepted TCP
// connection, applying framing.ReadMessage/WriteMessage on each call.
type Transport struct {
	mu sync.RWMutex

	config Config
	conn   *net.TCPConn
	id     string
	closed bool
	stats  transport.Statistics

	lastError error
}

func newTransport(conn *net.TCPConn, config Config) (*Transport, error) {
	if err := conn.SetNoDelay(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcp: set TCP_NODELAY: %w", err)
	}
	if err := conn.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     config.KeepAliveIdle,
		Interval: config.KeepAliveInterval,
		Count:    config.KeepAliveCount,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcp: set keepalive schedule: %w", err)
	}
	if config.ReadBufferSize > 0 {
		conn.SetReadBuffer(config.ReadBufferSize)
	}
	if config.WriteBufferSize > 0 {
		conn.SetWriteBuffer(config.WriteBufferSize)
	}

	return &Transport{
		config: config,
		conn:   conn,
		id:     fmt.Sprintf("tcp-%s", conn.RemoteAddr()),
	}, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// IsConnected reports whether the connection has not yet been closed.
// Because a dead-but-not-yet-detected peer still reports IsConnected==true
// (the liveness monitor, not this method, is what notices a silent peer),
// callers should treat a Receive/Send error as authoritative over this.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.closed
}

// Send frames and writes one message payload (§4.2).
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.RUnlock()

	if t.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	if err := framing.WriteMessage(conn, payload); err != nil {
		t.mu.Lock()
		t.stats.Errors++
		t.lastError = err
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.stats.BytesSent += uint64(2 + len(payload))
	t.stats.MessagesSent++
	t.mu.Unlock()
	return nil
}

// Receive blocks for one framed message or until ctx is done. A (nil, nil)
// result means the peer closed the connection cleanly.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrNotConnected
	}
	conn := t.conn
	t.mu.RUnlock()

	// Clear any deadline left by an earlier call, then cut the read short
	// once ctx is done (e.g. the HELLO deadline).
	conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	payload, err := framing.ReadMessage(conn)
	if err != nil {
		t.mu.Lock()
		t.stats.Errors++
		t.lastError = err
		t.mu.Unlock()
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	t.mu.Lock()
	t.stats.BytesReceived += uint64(2 + len(payload))
	t.stats.MessagesReceived++
	t.mu.Unlock()
	return payload, nil
}

// RemoteAddr returns the peer's address.
func (t *Transport) RemoteAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn.RemoteAddr().String()
}

// Info returns a snapshot of the connection's statistics and state.
func (t *Transport) Info() transport.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := transport.StateConnected
	if t.closed {
		state = transport.StateDisconnected
	}
	info := transport.Info{
		ID:         t.id,
		Type:       "tcp",
		Address:    t.conn.RemoteAddr().String(),
		State:      state,
		Statistics: t.stats,
	}
	if t.lastError != nil {
		info.LastError = t.lastError.Error()
	}
	return info
}

// Listener returns one TCP connection per Accept call. It does not limit
// concurrent connections itself: pkg/supervisor accepts again while a
// session is running, and the session layer's Guard answers any second
// client with ACK(BUSY), which gives the "one connection at a time"
// behavior §4.6 describes.
type Listener struct {
	ln     *net.TCPListener
	config Config
}

// Listen binds address with SO_REUSEADDR set, per §4.6.
func Listen(config Config) (*Listener, error) {
	if config.Address == "" {
		return nil, errors.New("tcp: address is required")
	}
	if config.ReadBufferSize == 0 {
		def := DefaultConfig()
		config.ReadBufferSize = def.ReadBufferSize
		config.WriteBufferSize = def.WriteBufferSize
		config.KeepAliveIdle = def.KeepAliveIdle
		config.KeepAliveInterval = def.KeepAliveInterval
		config.KeepAliveCount = def.KeepAliveCount
		config.WriteTimeout = def.WriteTimeout
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			ctrlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", config.Address, err)
	}
	return &Listener{ln: ln.(*net.TCPListener), config: config}, nil
}

// Accept blocks for the next peer connection.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	type result struct {
		conn *net.TCPConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.AcceptTCP()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return newTransport(r.conn, l.config)
	}
}

// Close stops accepting and releases the listening socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Factory implements transport.Factory for TCP.
type Factory struct{}

// NewFactory returns a TCP transport.Factory.
func NewFactory() *Factory { return &Factory{} }

// Type returns "tcp".
func (f *Factory) Type() string { return "tcp" }

// Listen creates a bound TCP Listener from a generic transport.Config.
func (f *Factory) Listen(config transport.Config) (transport.Listener, error) {
	return Listen(Config{Address: config.Address})
}
