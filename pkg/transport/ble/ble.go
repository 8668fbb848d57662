// Package ble implements the BLE peripheral transport (§4.5): the host
// advertises as a GATT peripheral exposing six characteristics, one per
// message direction/kind, instead of a single byte pipe. Every
// characteristic write from the mobile carries exactly one whole message
// (no framing layer is needed, unlike tcp); every notify from the host is
// likewise exactly one message.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/transport"
)

// ServiceUUID is the GATT service advertised by the host (§4.5).
var ServiceUUID = bluetooth.NewUUID([16]byte{
	0x1c, 0x8f, 0xd1, 0x38, 0xfc, 0x18, 0x48, 0x46,
	0x95, 0x4d, 0xe5, 0x09, 0x36, 0x6a, 0xef, 0x61,
})

// Characteristic UUIDs, one per message channel (§4.5 suffixes ...AEF63
// through ...AEF68).
var (
	authCharUUID      = charUUID(0x63)
	poseCharUUID      = charUUID(0x64)
	heartbeatCharUUID = charUUID(0x65)
	commandCharUUID   = charUUID(0x66)
	hapticCharUUID    = charUUID(0x67)
	configCharUUID    = charUUID(0x68)
)

func charUUID(lastByte byte) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte{
		0x1c, 0x8f, 0xd1, 0x38, 0xfc, 0x18, 0x48, 0x46,
		0x95, 0x4d, 0xe5, 0x09, 0x36, 0x6a, 0xef, lastByte,
	})
}

// MinMTU is the minimum negotiated MTU the host requires (§4.5); below
// this a POSE payload (46 bytes) cannot fit in one write.
const MinMTU = 64

// AuthTimeout is how long the host waits for a HELLO write on the auth
// characteristic after a client connects before dropping it (§4.5).
const AuthTimeout = 5 * time.Second

// HeartbeatPeriod is how often the host notifies the heartbeat
// characteristic (§4.5/§4.10).
const HeartbeatPeriod = 500 * time.Millisecond

// Common errors.
var (
	ErrNotConnected   = errors.New("ble: not connected")
	ErrNoOutboundChar = errors.New("ble: message type has no outbound characteristic")
)

// Transport implements transport.Transport for one connected BLE central.
// The mobile writes HELLO/POSE/CMD to their respective characteristics;
// the host notifies ACK/HEARTBEAT/HAPTIC/CONFIG on theirs. Send routes by
// decoding the message's type byte and picking the matching
// characteristic to notify.
type Transport struct {
	mu        sync.RWMutex
	device    bluetooth.Device
	closed    bool
	stats     transport.Statistics
	lastError error

	auth      bluetooth.Characteristic
	heartbeat bluetooth.Characteristic
	haptic    bluetooth.Characteristic
	config    bluetooth.Characteristic

	inbox chan []byte
}

func newTransport(device bluetooth.Device, chars characteristicSet) *Transport {
	return &Transport{
		device:    device,
		auth:      chars.auth,
		heartbeat: chars.heartbeat,
		haptic:    chars.haptic,
		config:    chars.config,
		inbox:     make(chan []byte, 32),
	}
}

// deliver is called by the service's WriteEvent handlers for inbound
// characteristic writes (HELLO on auth, POSE on pose, CMD on command).
func (t *Transport) deliver(payload []byte) {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.stats.BytesReceived += uint64(len(msg))
	t.stats.MessagesReceived++
	t.mu.Unlock()

	select {
	case t.inbox <- msg:
	default:
		// Inbox full: drop oldest to make room rather than block the
		// GATT event callback.
		select {
		case <-t.inbox:
		default:
		}
		select {
		case t.inbox <- msg:
		default:
		}
	}
}

// Close disconnects the device and releases the transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.device.Disconnect()
}

// IsConnected reports whether Close has not yet been called.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.closed
}

// Send notifies the characteristic matching the message's type byte
// (§3/§4.5). The payload must already be codec-encoded (header included).
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	t.mu.RUnlock()

	if len(payload) < codec.HeaderSize {
		return fmt.Errorf("ble: payload too short to carry a message type")
	}
	var char *bluetooth.Characteristic
	switch codec.Type(payload[4]) {
	case codec.TypeAck:
		char = &t.auth
	case codec.TypeHeartbeat:
		char = &t.heartbeat
	case codec.TypeHaptic:
		char = &t.haptic
	case codec.TypeConfig:
		char = &t.config
	default:
		return ErrNoOutboundChar
	}

	if _, err := char.Write(payload); err != nil {
		t.mu.Lock()
		t.stats.Errors++
		t.lastError = err
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.stats.BytesSent += uint64(len(payload))
	t.stats.MessagesSent++
	t.mu.Unlock()
	return nil
}

// Receive blocks until the next inbound message (HELLO/POSE/CMD/BYE)
// arrives on any characteristic, or ctx is cancelled.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-t.inbox:
		if !ok {
			return nil, nil
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RemoteAddr returns the connected device's BLE address.
func (t *Transport) RemoteAddr() string {
	return t.device.Address.String()
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
		ID:         fmt.Sprintf("ble-%s", t.device.Address.String()),
		Type:       "ble",
		Address:    t.device.Address.String(),
		State:      state,
		Statistics: t.stats,
	}
	if t.lastError != nil {
		info.LastError = t.lastError.Error()
	}
	return info
}

type characteristicSet struct {
	auth      bluetooth.Characteristic
	pose      bluetooth.Characteristic
	heartbeat bluetooth.Characteristic
	command   bluetooth.Characteristic
	haptic    bluetooth.Characteristic
	config    bluetooth.Characteristic
}

// Listener advertises the GATT service and hands off one Transport per
// connected central (§4.9: only one peer is serviced at a time — a second
// central connecting while one is already active is rejected).
type Listener struct {
	adapter   *bluetooth.Adapter
	localName string
	connected chan bluetooth.Device
	mu        sync.Mutex
	chars     characteristicSet
	active    *Transport
	closed    bool
}

// Config holds BLE-specific settings.
type Config struct {
	// LocalName is advertised in the BLE scan response.
	LocalName string `yaml:"local_name" json:"local_name"`
}

// Listen configures the default adapter, registers the GATT service, and
// begins advertising. It does not block; use Accept to wait for a peer.
func Listen(cfg Config) (*Listener, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	l := &Listener{
		adapter:   adapter,
		localName: cfg.LocalName,
		connected: make(chan bluetooth.Device, 1),
	}

	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if !connected {
			l.mu.Lock()
			if l.active != nil && l.active.device.Address.String() == device.Address.String() {
				l.active.Close()
			}
			l.mu.Unlock()
			return
		}
		select {
		case l.connected <- device:
		default:
			// A peer is already pending acceptance; reject additional
			// simultaneous connects by disconnecting immediately.
			device.Disconnect()
		}
	})

	var chars characteristicSet
	if err := registerService(adapter, &chars, l); err != nil {
		return nil, err
	}
	l.chars = chars

	adv := adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    cfg.LocalName,
		ServiceUUIDs: []bluetooth.UUID{ServiceUUID},
	}); err != nil {
		return nil, fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return nil, fmt.Errorf("ble: start advertisement: %w", err)
	}

	return l, nil
}

// registerService wires the six characteristics; inbound writes are
// delivered to whichever Transport is currently active.
func registerService(adapter *bluetooth.Adapter, chars *characteristicSet, l *Listener) error {
	dispatch := func(value []byte) {
		l.mu.Lock()
		active := l.active
		l.mu.Unlock()
		if active != nil {
			active.deliver(value)
		}
	}

	return adapter.AddService(&bluetooth.Service{
		UUID: ServiceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &chars.auth,
				UUID:   authCharUUID,
				Flags:  bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicNotifyPermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					dispatch(value)
				},
			},
			{
				Handle: &chars.pose,
				UUID:   poseCharUUID,
				Flags:  bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					dispatch(value)
				},
			},
			{
				Handle: &chars.heartbeat,
				UUID:   heartbeatCharUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
			{
				Handle: &chars.command,
				UUID:   commandCharUUID,
				Flags:  bluetooth.CharacteristicWritePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					dispatch(value)
				},
			},
			{
				Handle: &chars.haptic,
				UUID:   hapticCharUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
			{
				Handle: &chars.config,
				UUID:   configCharUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
}

// Accept blocks until the next central connects. The HELLO auth deadline
// is enforced by pkg/session, which is the only layer that knows whether a
// HELLO has arrived on the auth characteristic yet.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	for {
		select {
		case device := <-l.connected:
			l.mu.Lock()
			if l.active != nil && l.active.IsConnected() {
				// One peer is already being serviced; reject the newcomer.
				l.mu.Unlock()
				device.Disconnect()
				continue
			}
			t := newTransport(device, l.chars)
			l.active = t
			l.mu.Unlock()
			return t, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops advertising. Already-accepted Transports are unaffected.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.adapter.DefaultAdvertisement().Stop()
}

// Factory implements transport.Factory for BLE.
type Factory struct{ LocalName string }

// NewFactory returns a BLE transport.Factory advertising as name.
func NewFactory(name string) *Factory { return &Factory{LocalName: name} }

// Type returns "ble".
func (f *Factory) Type() string { return "ble" }

// Listen configures the adapter and begins advertising.
func (f *Factory) Listen(config transport.Config) (transport.Listener, error) {
	return Listen(Config{LocalName: f.LocalName})
}
