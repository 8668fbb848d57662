// Package host implements pkg/host.Host (§4.11), the single facade the
// embedding application uses: it wires the codec, framing, discovery,
// transport, session, router, and supervisor packages together behind the
// §6.2 application-facing contract, and owns the optional rule hook (§4.12)
// and MQTT exporter (§4.13).
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/discovery"
	"github.com/telepose/posehost/pkg/metrics"
	"github.com/telepose/posehost/pkg/router"
	"github.com/telepose/posehost/pkg/rules"
	"github.com/telepose/posehost/pkg/session"
	"github.com/telepose/posehost/pkg/supervisor"
	"github.com/telepose/posehost/pkg/transport"
	"github.com/telepose/posehost/pkg/transport/ble"
	"github.com/telepose/posehost/pkg/transport/tcp"
)

// TransportSelector picks which listener Start binds (§6.2). UsbTcp binds
// the same TcpTransport/listener as Wifi — iOS USB tunneling is OS
// configuration, not a code path (§9).
type TransportSelector int

const (
	Wifi TransportSelector = iota
	UsbTcp
	Ble
)

func (s TransportSelector) String() string {
	switch s {
	case Wifi:
		return "wifi"
	case UsbTcp:
		return "usb_tcp"
	case Ble:
		return "ble"
	default:
		return "unknown"
	}
}

// Config is the embedding application's configuration (§6.2).
type Config struct {
	AuthCode            [6]byte
	ServiceName         string
	TCPPort             int
	BeaconPort          int
	InitialConfigPayload []byte
	MinVersion          uint8
	MaxVersion          uint8

	// RuleScript, when non-empty, loads a pkg/rules.LuaEngine consulted
	// on every inbound CMD (§4.12). Absent by default.
	RuleScript string

	Log *slog.Logger
}

// Callbacks are the application-facing events (§6.2's on_pose, on_command,
// on_connected, on_authenticated, on_disconnected, on_error).
type Callbacks struct {
	OnPose         func(remote string, p codec.Pose)
	OnCommand      func(remote string, c codec.Cmd)
	OnConnected    func(remote string)
	OnAuthenticated func(remote string)
	OnDisconnected func(remote string, reason session.CloseReason)
	// OnError surfaces non-session-ending I/O errors (bind failure,
	// accept error) per §7's error table.
	OnError func(err error)
}

// Counters holds the §6.2 observable counters.
type Counters struct {
	BeaconsSent     uint64
	SessionsOpened  uint64
	SessionsClosed  map[string]uint64 // keyed by CloseReason.String()
	BytesIn         uint64
	BytesOut        uint64
	BadMagic        uint64
	UnknownType     uint64
	VersionMismatch uint64
}

// Host is the application's single entry point into the core.
type Host struct {
	cfg       Config
	callbacks Callbacks
	log       *slog.Logger

	router *router.Router
	rules  rules.Engine

	beaconsSent     atomic.Uint64
	bytesIn         atomic.Uint64
	bytesOut        atomic.Uint64
	badMagic        atomic.Uint64
	unknownType     atomic.Uint64
	versionMismatch atomic.Uint64

	mu            sync.Mutex
	sessionsOpened uint64
	sessionsClosed map[string]uint64

	supervisor  *supervisor.Supervisor
	broadcaster *discovery.Broadcaster
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New validates cfg and returns a Host ready for Start.
func New(cfg Config, callbacks Callbacks) (*Host, error) {
	if cfg.TCPPort == 0 {
		cfg.TCPPort = 50000
	}
	if cfg.BeaconPort == 0 {
		cfg.BeaconPort = 50001
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = codec.MinVersion
	}
	if cfg.MaxVersion == 0 {
		cfg.MaxVersion = codec.MaxVersion
	}
	if n := len(cfg.ServiceName); n < 1 || n > 20 {
		return nil, fmt.Errorf("host: service_name must be 1..=20 bytes, got %d", n)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	h := &Host{
		cfg:            cfg,
		callbacks:      callbacks,
		log:            cfg.Log,
		sessionsClosed: make(map[string]uint64),
	}

	if cfg.RuleScript != "" {
		engine, err := rules.NewLuaEngine(cfg.RuleScript)
		if err != nil {
			return nil, fmt.Errorf("host: load rule script: %w", err)
		}
		h.rules = engine
	}

	h.router = router.New(router.Callbacks{
		OnPose:      h.dispatchPose,
		OnCommand:   h.dispatchCommand,
		OnConnected: callbacks.OnConnected,
		OnAuthenticated: callbacks.OnAuthenticated,
		OnDisconnected: h.dispatchDisconnected,
	}, h)

	return h, nil
}

// dispatchPose is router.Callbacks.OnPose, delivered synchronously (§5); the
// rule hook only ever sees CMD (§4.12), so POSE passes straight through.
func (h *Host) dispatchPose(remote string, p codec.Pose) {
	if h.callbacks.OnPose != nil {
		h.callbacks.OnPose(remote, p)
	}
}

// dispatchCommand runs the optional rule hook before on_command.
func (h *Host) dispatchCommand(remote string, c codec.Cmd) {
	if h.rules != nil {
		out, keep, err := h.rules.Execute(c)
		if err != nil {
			h.log.Warn("rule hook error, passing command through unmodified", "error", err)
		} else if !keep {
			return
		} else {
			c = out
		}
	}
	if h.callbacks.OnCommand != nil {
		h.callbacks.OnCommand(remote, c)
	}
}

func (h *Host) dispatchDisconnected(remote string, reason session.CloseReason) {
	if h.callbacks.OnDisconnected != nil {
		h.callbacks.OnDisconnected(remote, reason)
	}
}

// SessionOpened implements router.CounterSink.
func (h *Host) SessionOpened() {
	h.mu.Lock()
	h.sessionsOpened++
	h.mu.Unlock()
	metrics.SessionsOpened.Inc()
	metrics.ActiveSessions.Set(1)
}

// SessionClosed implements router.CounterSink, folding the closed
// transport's final byte counts into the running totals (§6.2).
func (h *Host) SessionClosed(reason session.CloseReason, stats transport.Statistics) {
	h.mu.Lock()
	h.sessionsClosed[reason.String()]++
	h.mu.Unlock()
	h.bytesIn.Add(stats.BytesReceived)
	h.bytesOut.Add(stats.BytesSent)

	metrics.SessionsClosed.WithLabelValues(reason.String()).Inc()
	metrics.BytesIn.Add(float64(stats.BytesReceived))
	metrics.BytesOut.Add(float64(stats.BytesSent))
	metrics.ActiveSessions.Set(0)
}

// BadMagic implements session.Metrics.
func (h *Host) BadMagic() { h.badMagic.Add(1); metrics.BadMagic.Inc() }

// UnknownType implements session.Metrics.
func (h *Host) UnknownType() { h.unknownType.Add(1); metrics.UnknownType.Inc() }

// VersionMismatch implements session.Metrics.
func (h *Host) VersionMismatch() { h.versionMismatch.Add(1); metrics.VersionMismatch.Inc() }

// reportError forwards a non-fatal I/O error to the application's on_error
// callback, if set (§7).
func (h *Host) reportError(err error) {
	if h.callbacks.OnError != nil {
		h.callbacks.OnError(err)
	}
}

var errUnsupportedSelector = errors.New("host: unsupported transport selector")

// Start binds the selected transport, begins discovery broadcasting for TCP
// selectors, and runs the accept/reconnect supervisor for the lifetime of
// ctx or until Stop is called.
func (h *Host) Start(ctx context.Context, selector TransportSelector) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	params := session.Params{
		AuthCode:      h.cfg.AuthCode,
		MinVersion:    h.cfg.MinVersion,
		MaxVersion:    h.cfg.MaxVersion,
		InitialConfig: h.cfg.InitialConfigPayload,
		Metrics:       h,
	}

	var listener transport.Listener
	var isBLE bool

	switch selector {
	case Wifi, UsbTcp:
		ln, err := tcp.Listen(tcp.Config{Address: fmt.Sprintf(":%d", h.cfg.TCPPort)})
		if err != nil {
			cancel()
			h.reportError(fmt.Errorf("listen tcp: %w", err))
			return fmt.Errorf("host: listen tcp: %w", err)
		}
		listener = ln

		bc, err := discovery.NewBroadcaster(discovery.Descriptor{
			ServiceName:      h.cfg.ServiceName,
			TCPPort:          h.cfg.TCPPort,
			BroadcastAddress: fmt.Sprintf("255.255.255.255:%d", h.cfg.BeaconPort),
		})
		if err != nil {
			ln.Close()
			cancel()
			h.reportError(fmt.Errorf("configure beacon: %w", err))
			return fmt.Errorf("host: configure beacon: %w", err)
		}
		bc.OnSend(func() { h.beaconsSent.Add(1); metrics.BeaconsSent.Inc() })
		if err := bc.Start(runCtx); err != nil {
			ln.Close()
			cancel()
			h.reportError(fmt.Errorf("start beacon: %w", err))
			return fmt.Errorf("host: start beacon: %w", err)
		}
		h.broadcaster = bc

	case Ble:
		ln, err := ble.Listen(ble.Config{LocalName: h.cfg.ServiceName})
		if err != nil {
			cancel()
			h.reportError(fmt.Errorf("listen ble: %w", err))
			return fmt.Errorf("host: listen ble: %w", err)
		}
		listener = ln
		isBLE = true

	default:
		cancel()
		return errUnsupportedSelector
	}

	sp := supervisor.New(listener, params, h.router, isBLE, h.log)
	sp.OnAcceptError = h.reportError
	h.supervisor = sp

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		sp.Run(runCtx)
	}()

	return nil
}

// Stop tears down the supervisor, listener, and beacon, and releases the
// rule engine, if any.
func (h *Host) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.broadcaster != nil {
		h.broadcaster.Stop()
	}
	if h.supervisor != nil {
		h.supervisor.Close()
	}
	h.wg.Wait()
	if h.rules != nil {
		h.rules.Close()
	}
	return nil
}

// Status is a point-in-time view of the active session, used by the
// control API's GET /api/v1/status (§4.14).
type Status struct {
	Connected bool   `json:"connected"`
	Remote    string `json:"remote,omitempty"`
	State     string `json:"state,omitempty"`
}

// Status returns the current session state, for the control API.
func (h *Host) Status() Status {
	active := h.router.Active()
	if active == nil {
		return Status{Connected: false}
	}
	return Status{Connected: true, Remote: active.Remote(), State: active.State().String()}
}

// SendHaptic forwards to the router (§6.2).
func (h *Host) SendHaptic(ctx context.Context, intensity float32, channel uint8) error {
	return h.router.SendHaptic(ctx, intensity, channel)
}

// SendConfig forwards to the router (§6.2).
func (h *Host) SendConfig(ctx context.Context, payload []byte) error {
	return h.router.SendConfig(ctx, payload)
}

// Snapshot returns a point-in-time copy of the §6.2 observable counters,
// rolling up per-transport byte counts from the currently active session
// (if any) in addition to the running totals already folded in at
// disconnect time.
func (h *Host) Snapshot() Counters {
	h.mu.Lock()
	closed := make(map[string]uint64, len(h.sessionsClosed))
	for k, v := range h.sessionsClosed {
		closed[k] = v
	}
	opened := h.sessionsOpened
	h.mu.Unlock()

	bytesIn := h.bytesIn.Load()
	bytesOut := h.bytesOut.Load()
	if active := h.router.Active(); active != nil {
		stats := active.Transport().Info().Statistics
		bytesIn += stats.BytesReceived
		bytesOut += stats.BytesSent
	}

	return Counters{
		BeaconsSent:     h.beaconsSent.Load(),
		SessionsOpened:  opened,
		SessionsClosed:  closed,
		BytesIn:         bytesIn,
		BytesOut:        bytesOut,
		BadMagic:        h.badMagic.Load(),
		UnknownType:     h.unknownType.Load(),
		VersionMismatch: h.versionMismatch.Load(),
	}
}
