// Package session implements the host-side session state machine (§4.7):
// a singleton per process, carried through Listening → AwaitingHello →
// Connected → Closing. Exactly one Session is ever Connected at a time;
// pkg/supervisor owns the transitions, pkg/router owns outbound sends, and
// this package owns authentication, version negotiation, and teardown
// reason bookkeeping.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/transport"
)

// State is one node of the §4.7 state machine.
type State int

const (
	StateListening State = iota
	StateAwaitingHello
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// CloseReason explains why a session was torn down, surfaced to
// on_disconnected (§6.2/§7).
type CloseReason int

const (
	ReasonBye CloseReason = iota
	ReasonPeerClosed
	ReasonBadCode
	ReasonVersionMismatch
	ReasonBusy
	ReasonTimeout
	ReasonTransportError
	ReasonStopped
)

func (r CloseReason) String() string {
	switch r {
	case ReasonBye:
		return "bye"
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonBadCode:
		return "bad_code"
	case ReasonVersionMismatch:
		return "version_mismatch"
	case ReasonBusy:
		return "busy"
	case ReasonTimeout:
		return "timeout"
	case ReasonTransportError:
		return "transport_error"
	case ReasonStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AwaitingHelloTimeout is the §5 timer bounding how long a newly accepted
// transport may go without sending HELLO.
const AwaitingHelloTimeout = 5 * time.Second

// Handler receives the session's lifecycle and inbound-message events
// (§4.8's inbound half; outbound lives in pkg/router). All methods are
// called from the session's own receive goroutine, synchronously, so
// on_pose incurs no queueing delay (§5).
type Handler interface {
	OnConnected(s *Session)
	OnAuthenticated(s *Session)
	OnPose(s *Session, p codec.Pose)
	OnCommand(s *Session, c codec.Cmd)
	OnDisconnected(s *Session, reason CloseReason)
}

// Metrics receives the §6.2 observable counters that only this package
// can see at the point they occur (a transport's aggregate byte/message
// counts are visible from its Info() snapshot, but bad_magic/unknown_type/
// version_mismatch are per-decode events).
type Metrics interface {
	BadMagic()
	UnknownType()
	VersionMismatch()
}

// Params configures auth and negotiation behavior, supplied by the
// embedding application through pkg/host (§6.2).
type Params struct {
	// AuthCode is the exact 6-byte code compared against HELLO.code.
	AuthCode [6]byte
	// MinVersion/MaxVersion bound acceptable HELLO.version (§4.7).
	MinVersion uint8
	MaxVersion uint8
	// InitialConfig is sent verbatim as one CONFIG message right after
	// ACK(OK).
	InitialConfig []byte
	// Metrics is optional; nil disables counter reporting.
	Metrics Metrics
}

// Session is one accepted-and-possibly-authenticated connection.
type Session struct {
	mu sync.RWMutex

	tr     transport.Transport
	params Params
	guard  *Guard

	state           State
	remote          string
	sessionID       uint32
	negotiatedVer   uint8
	startedAt       time.Time
	lastInboundAt   time.Time
	heartbeatCounter uint32

	// livenessTimedOut is set by MarkLivenessTimeout before it closes the
	// transport, so streamLoop's resulting Receive error reports
	// ReasonTimeout instead of the generic ReasonTransportError (§4.10).
	livenessTimedOut atomic.Bool
}

// New wraps an accepted transport in a fresh Session, in StateAwaitingHello.
func New(tr transport.Transport, params Params, guard *Guard) *Session {
	return &Session{
		tr:        tr,
		params:    params,
		guard:     guard,
		state:     StateAwaitingHello,
		remote:    tr.RemoteAddr(),
		startedAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Remote returns the peer identifier (TCP address or BLE device address).
func (s *Session) Remote() string {
	return s.remote
}

// SessionID returns the session_id recorded from HELLO.
func (s *Session) SessionID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Transport exposes the underlying transport for pkg/router's outbound
// sends; router holds only a read/send capability, never transitions
// session state (§5).
func (s *Session) Transport() transport.Transport {
	return s.tr
}

// errClosedByPeer marks a clean peer-initiated close, distinguished from
// transport-level errors.
var errClosedByPeer = errors.New("session: closed by peer")

// Run drives the AwaitingHello → Connected → Closing lifecycle for one
// accepted transport, invoking Handler callbacks as events occur. It
// returns when the session has fully closed; the caller (pkg/supervisor)
// is then free to Accept again.
func (s *Session) Run(ctx context.Context, h Handler) CloseReason {
	h.OnConnected(s)

	reason, err := s.awaitHello(ctx, h)
	if err != nil {
		s.transitionClosing()
		s.tr.Close()
		h.OnDisconnected(s, reason)
		return reason
	}

	s.mu.Lock()
	s.state = StateConnected
	s.lastInboundAt = time.Now()
	s.mu.Unlock()
	h.OnAuthenticated(s)

	reason = s.streamLoop(ctx, h)
	s.transitionClosing()
	if s.guard != nil {
		s.guard.Release(s)
	}
	s.tr.Close()
	h.OnDisconnected(s, reason)
	return reason
}

func (s *Session) transitionClosing() {
	s.mu.Lock()
	s.state = StateClosing
	s.mu.Unlock()
}

// awaitHello enforces the 5 s HELLO deadline, auth lockout, version
// negotiation, and single-client exclusivity, sending the matching ACK.
func (s *Session) awaitHello(ctx context.Context, h Handler) (CloseReason, error) {
	if s.guard != nil && s.guard.Locked(s.remote) {
		return ReasonBadCode, fmt.Errorf("session: remote %s is locked out", s.remote)
	}

	deadline, cancel := context.WithTimeout(ctx, AwaitingHelloTimeout)
	defer cancel()

	payload, err := s.tr.Receive(deadline)
	if err != nil {
		return ReasonTransportError, err
	}
	if payload == nil {
		return ReasonPeerClosed, errClosedByPeer
	}

	decoded, err := codec.Decode(payload)
	if err != nil {
		var ce *codec.Error
		if errors.As(err, &ce) {
			switch ce.Kind {
			case codec.ErrBadMagic:
				if s.params.Metrics != nil {
					s.params.Metrics.BadMagic()
				}
			case codec.ErrUnsupportedVersion:
				if s.params.Metrics != nil {
					s.params.Metrics.VersionMismatch()
				}
				s.tr.Send(ctx, codec.EncodeAck(codec.Ack{
					Status: codec.StatusVersionMismatch,
					MinVer: s.params.MinVersion,
					MaxVer: s.params.MaxVersion,
				}))
				return ReasonVersionMismatch, fmt.Errorf("session: unsupported HELLO version: %w", err)
			}
		}
		return ReasonTransportError, fmt.Errorf("session: expected HELLO, got err=%v", err)
	}
	if decoded.Type != codec.TypeHello {
		return ReasonTransportError, fmt.Errorf("session: expected HELLO, got type=%v", decoded.Type)
	}
	hello := decoded.Hello

	if s.guard != nil && !s.guard.TryAcquire(s) {
		s.tr.Send(ctx, codec.EncodeAck(codec.Ack{Status: codec.StatusBusy}))
		return ReasonBusy, fmt.Errorf("session: a session is already connected")
	}

	if hello.Code != s.params.AuthCode {
		if s.guard != nil {
			s.guard.Release(s)
			s.guard.RecordFailure(s.remote)
		}
		s.tr.Send(ctx, codec.EncodeAck(codec.Ack{Status: codec.StatusBadCode}))
		return ReasonBadCode, fmt.Errorf("session: bad code from %s", s.remote)
	}

	negotiated, ok := negotiateVersion(s.params.MinVersion, s.params.MaxVersion)
	if !ok {
		if s.guard != nil {
			s.guard.Release(s)
		}
		if s.params.Metrics != nil {
			s.params.Metrics.VersionMismatch()
		}
		s.tr.Send(ctx, codec.EncodeAck(codec.Ack{Status: codec.StatusVersionMismatch}))
		return ReasonVersionMismatch, fmt.Errorf("session: version mismatch")
	}

	s.mu.Lock()
	s.sessionID = hello.SessionID
	s.negotiatedVer = negotiated
	s.mu.Unlock()

	if s.guard != nil {
		s.guard.ClearFailures(s.remote)
	}

	if err := s.tr.Send(ctx, codec.EncodeAck(codec.Ack{
		Status: codec.StatusOK,
		MinVer: s.params.MinVersion,
		MaxVer: s.params.MaxVersion,
	})); err != nil {
		if s.guard != nil {
			s.guard.Release(s)
		}
		return ReasonTransportError, err
	}

	if len(s.params.InitialConfig) > 0 {
		if err := s.tr.Send(ctx, codec.EncodeConfig(codec.Config{Payload: s.params.InitialConfig})); err != nil {
			if s.guard != nil {
				s.guard.Release(s)
			}
			return ReasonTransportError, err
		}
	}

	return 0, nil
}

// negotiateVersion always negotiates MaxVersion for now, since HELLO
// carries no version field of its own in this wire (§3's HELLO has no
// version beyond the common header, which is already range-checked by
// codec.Decode); this function exists to keep the negotiation decision in
// one place if a future wire revision adds a HELLO-level version.
func negotiateVersion(min, max uint8) (uint8, bool) {
	if min > max {
		return 0, false
	}
	return max, true
}

// streamLoop receives POSE/CMD/BYE until the transport closes, BYE
// arrives with a matching session_id, or ctx is cancelled.
func (s *Session) streamLoop(ctx context.Context, h Handler) CloseReason {
	for {
		payload, err := s.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ReasonStopped
			}
			if s.livenessTimedOut.Load() {
				return ReasonTimeout
			}
			return ReasonTransportError
		}
		if payload == nil {
			return ReasonPeerClosed
		}

		s.mu.Lock()
		s.lastInboundAt = time.Now()
		s.mu.Unlock()

		decoded, err := codec.Decode(payload)
		if err != nil {
			var ce *codec.Error
			if errors.As(err, &ce) {
				if ce.Kind == codec.ErrUnknownType {
					if s.params.Metrics != nil {
						s.params.Metrics.UnknownType()
					}
					continue
				}
				if ce.Kind == codec.ErrBadMagic {
					if s.params.Metrics != nil {
						s.params.Metrics.BadMagic()
					}
					return ReasonTransportError
				}
			}
			return ReasonTransportError
		}

		switch decoded.Type {
		case codec.TypePose:
			h.OnPose(s, *decoded.Pose)
		case codec.TypeCmd:
			h.OnCommand(s, *decoded.Cmd)
		case codec.TypeBye:
			s.mu.RLock()
			expected := s.sessionID
			s.mu.RUnlock()
			if decoded.Bye.SessionID != expected {
				// mismatched BYE is logged and ignored, not a reason to close (§4.7)
				slog.Warn("session: ignoring BYE with mismatched session_id",
					"remote", s.Remote(), "got", decoded.Bye.SessionID, "want", expected)
				continue
			}
			return ReasonBye
		default:
			continue
		}
	}
}

// MarkLivenessTimeout lets pkg/supervisor's BLE liveness monitor force a
// teardown (§4.10) without the session package itself owning a timer. The
// streamLoop's subsequent Receive error is reported as ReasonTimeout rather
// than ReasonTransportError.
func (s *Session) MarkLivenessTimeout() {
	s.livenessTimedOut.Store(true)
	s.tr.Close()
}

// LastInboundAt returns the last time any message was received, used by
// the BLE liveness monitor's 3 s silence check.
func (s *Session) LastInboundAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastInboundAt
}
