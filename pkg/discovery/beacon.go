// Package discovery implements the UDP discovery beacon (§4.3): a host-side
// broadcaster that periodically announces the service name and TCP port,
// and the mobile-side reciprocal listener. Broadcasting is independent of
// session state so a late-joining mobile can still find the host.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/telepose/posehost/pkg/codec"
)

// DefaultBroadcastAddress is the default UDP broadcast target (§4.3).
const DefaultBroadcastAddress = "255.255.255.255:50001"

// DefaultPeriod is the default beacon interval.
const DefaultPeriod = 500 * time.Millisecond

// Descriptor describes one beacon broadcaster (§3 "Discovery beacon
// descriptor").
type Descriptor struct {
	// ServiceName is 1..=20 UTF-8 bytes, embedded in every BEACON.
	ServiceName string
	// TCPPort is the host's TCP listen port.
	TCPPort int
	// BroadcastAddress is the UDP destination, host:port.
	BroadcastAddress string
	// Period is the interval between broadcasts.
	Period time.Duration
}

// Validate checks the descriptor against the §3 constraints.
func (d Descriptor) Validate() error {
	n := len(d.ServiceName)
	if n < 1 || n > 20 {
		return fmt.Errorf("discovery: service_name must be 1..=20 bytes, got %d", n)
	}
	if d.TCPPort <= 0 || d.TCPPort > 65535 {
		return fmt.Errorf("discovery: invalid tcp_port %d", d.TCPPort)
	}
	return nil
}

// Broadcaster periodically emits BEACON datagrams. It owns its UDP socket
// exclusively (§5 "Shared state & mutation").
type Broadcaster struct {
	desc Descriptor

	mu      sync.Mutex
	conn    *net.UDPConn
	cancel  context.CancelFunc
	done    chan struct{}
	onSend  func()
}

// NewBroadcaster creates a Broadcaster for the given descriptor, applying
// DefaultBroadcastAddress / DefaultPeriod when unset.
func NewBroadcaster(desc Descriptor) (*Broadcaster, error) {
	if desc.BroadcastAddress == "" {
		desc.BroadcastAddress = DefaultBroadcastAddress
	}
	if desc.Period <= 0 {
		desc.Period = DefaultPeriod
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &Broadcaster{desc: desc}, nil
}

// OnSend registers a callback invoked after every successful broadcast,
// used by pkg/host to maintain the beacons_sent counter (§6.2).
func (b *Broadcaster) OnSend(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSend = fn
}

// Start resolves the broadcast address, enables SO_BROADCAST, and begins
// emitting BEACON datagrams every Period until the context is cancelled or
// Stop is called. It returns as soon as the send loop is launched; that
// loop sends the first BEACON immediately.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return errors.New("discovery: broadcaster already started")
	}

	addr, err := net.ResolveUDPAddr("udp4", b.desc.BroadcastAddress)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("discovery: resolve broadcast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("discovery: open socket: %w", err)
	}
	if err := setBroadcast(conn, true); err != nil {
		conn.Close()
		b.mu.Unlock()
		return fmt.Errorf("discovery: enable SO_BROADCAST: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.conn = conn
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.run(runCtx, conn, addr)
	return nil
}

func (b *Broadcaster) run(ctx context.Context, conn *net.UDPConn, addr *net.UDPAddr) {
	defer close(b.done)

	payload := codec.EncodeBeacon(codec.Beacon{Port: b.desc.TCPPort, Name: b.desc.ServiceName})
	ticker := time.NewTicker(b.desc.Period)
	defer ticker.Stop()

	send := func() {
		if _, err := conn.WriteToUDP(payload, addr); err == nil {
			b.mu.Lock()
			cb := b.onSend
			b.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
	}

	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

// Stop drains the broadcaster within one period, per §4.3.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	conn := b.conn
	done := b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
