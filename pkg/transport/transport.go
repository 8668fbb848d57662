// Package transport defines the abstract interface shared by the two wire
// transports (§4.4): TCP and BLE. Unlike a raw byte pipe, Transport is
// message-granular — Send/Receive move one already-encoded protocol message
// (the codec payload, header included, length prefix excluded) at a time,
// because BLE has no framing of its own (§4.5: one characteristic write is
// one message) while TCP's length-prefix framing is applied internally by
// the tcp implementation.
package transport

import (
	"context"
	"time"
)

// ConnectionState represents the current state of a transport connection.
type ConnectionState int

const (
	// StateDisconnected indicates the transport is not connected.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting
	// StateConnected indicates the transport is connected and ready.
	StateConnected
	// StateError indicates the transport is in an error state.
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport is the interface common to tcp.Transport and ble.Transport.
// Exactly one Transport instance exists per mobile connection/session
// (§4.9: single-client exclusivity is enforced above this layer, by the
// session.Guard that pkg/supervisor shares across its sessions).
type Transport interface {
	// Close releases the connection and any goroutines it owns. Safe to
	// call more than once.
	Close() error

	// IsConnected reports whether the transport is usable for Send/Receive.
	IsConnected() bool

	// Send writes one fully-encoded message payload (§3/§6.1). For TCP
	// this applies the length-prefix frame (§4.2); for BLE this performs
	// one GATT notify/write (§4.5). Send must be safe to call from any
	// goroutine (§5); callers still need their own serialization if they
	// want ordering guarantees across concurrent callers — see
	// pkg/router, which is the sole serialization point in this design.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks until one complete message payload arrives, the
	// context is cancelled, or the transport is closed. A (nil, nil)
	// return indicates a clean, expected end of stream.
	Receive(ctx context.Context) ([]byte, error)

	// RemoteAddr identifies the peer for logging/metrics, best-effort.
	RemoteAddr() string

	// Info returns a snapshot of transport statistics and state.
	Info() Info
}

// Config holds transport-agnostic settings passed to Factory.Listen. No
// section of the application's configuration file fills it; tcp.Factory
// reads only Address, and the other fields are not read by either
// transport.
type Config struct {
	// Type selects the transport implementation ("tcp" or "ble").
	Type string `yaml:"type" json:"type"`

	// Address is the listen address for TCP ("0.0.0.0:5577") or ignored
	// for BLE, which advertises instead of binding an address.
	Address string `yaml:"address" json:"address"`

	// BufferSize bounds per-connection read buffering.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// Timeout is a default operation timeout. The HELLO auth-response
	// deadline is session.AwaitingHelloTimeout, not this field.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// TLS holds TLS settings; the pose wire protocol never carries TLS
	// (§9), and neither transport reads this field.
	TLS *TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS/SSL settings. pkg/api/rest and pkg/api/ws do not use
// this type.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" json:"key_file" validate:"required_if=Enabled true"`
}

// Info contains runtime information about a transport instance.
type Info struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Address     string     `json:"address"`
	State       ConnectionState `json:"state"`
	Statistics  Statistics `json:"statistics"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Statistics contains transport performance counters, rolled up into the
// host-level counters of §6.2 by pkg/host.
type Statistics struct {
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Errors           uint64 `json:"errors"`
}

// EventType represents the type of transport-level event.
type EventType int

const (
	// EventConnected is emitted when a peer connection is accepted.
	EventConnected EventType = iota
	// EventDisconnected is emitted when the connection is lost or closed.
	EventDisconnected
	// EventError is emitted for a non-fatal transport error.
	EventError
)

// Event represents a transport event delivered to an EventHandler.
type Event struct {
	Type      EventType
	Transport Transport
	Error     error
	Timestamp time.Time
}

// EventHandler handles transport events.
type EventHandler interface {
	OnEvent(event Event)
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(event Event)

// OnEvent implements EventHandler.
func (f EventHandlerFunc) OnEvent(event Event) {
	f(event)
}

// Listener accepts Transport connections one at a time. tcp.Listener and
// ble.Listener both implement this so pkg/supervisor can drive either
// uniformly (§4.9).
type Listener interface {
	// Accept blocks until one peer connects, or ctx is cancelled.
	Accept(ctx context.Context) (Transport, error)

	// Close stops accepting and releases the underlying socket/adapter.
	Close() error
}

// Factory creates a Listener for a given Config, selected by Config.Type
// (§4.16 transport selector).
type Factory interface {
	Type() string
	Listen(config Config) (Listener, error)
}
