package discovery

import (
	"context"
	"net"

	"github.com/telepose/posehost/pkg/codec"
)

// Announcement is one decoded BEACON datagram plus its sender.
type Announcement struct {
	Beacon codec.Beacon
	From   *net.UDPAddr
}

// Listener is the reciprocal end of Broadcaster: it binds the beacon port
// and decodes inbound BEACON datagrams. It exists for test symmetry and for
// tooling that wants to observe the discovery beacon independently of a
// mobile client (§4.3 is silent on a host-side listener; this is provided
// so the round-trip can be exercised entirely within this process).
type Listener struct {
	conn *net.UDPConn
}

// Listen binds to address (host:port, typically ":50001") and returns a
// Listener ready to receive beacons.
func Listen(address string) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{conn: conn}, nil
}

// LocalAddr returns the bound local address.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Next blocks until one datagram arrives, decodes it as a BEACON, and
// returns it. Non-BEACON or malformed datagrams are silently skipped, same
// tolerance policy as the rest of the host (§7).
func (l *Listener) Next(ctx context.Context) (*Announcement, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	buf := make([]byte, 2048)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		d, err := codec.Decode(buf[:n])
		if err != nil || d.Type != codec.TypeBeacon {
			continue
		}
		return &Announcement{Beacon: *d.Beacon, From: from}, nil
	}
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
