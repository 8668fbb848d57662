// Package router implements the event bus (§4.8): it dispatches inbound
// POSE/CMD/connection-lifecycle events to application callbacks, and
// serializes outbound HAPTIC/CONFIG sends from any caller goroutine
// through a single writer lock to whichever transport is currently
// Connected.
package router

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/session"
	"github.com/telepose/posehost/pkg/transport"
)

// ErrNoSession is returned by SendHaptic/SendConfig when no session is
// Connected (§4.8).
var ErrNoSession = errors.New("router: no connected session")

// ErrBackpressured is returned by SendConfig when the transport's write
// path is blocked and CONFIG must not be silently dropped (§4.8).
var ErrBackpressured = errors.New("router: outbound backpressured")

// Callbacks are the application-facing events (§6.2). Any field left nil
// is simply not invoked; OnPose and OnCommand are called synchronously on
// the session's receive goroutine (§5), so implementations must return
// quickly and must not block on outbound sends themselves.
type Callbacks struct {
	OnPose         func(remote string, p codec.Pose)
	OnCommand      func(remote string, c codec.Cmd)
	OnConnected    func(remote string)
	OnAuthenticated func(remote string)
	OnDisconnected func(remote string, reason session.CloseReason)
}

// Router binds a single active session to a set of application callbacks.
// Exactly one Router exists per Host (pkg/host); it implements
// session.Handler.
type Router struct {
	mu        sync.Mutex
	active    *session.Session
	callbacks Callbacks

	onCounters CounterSink

	// writeMu is the single writer lock of §4.8/§5: every outbound send,
	// from any caller goroutine, serializes through it so writes to the
	// transport are never interleaved.
	writeMu sync.Mutex
}

// CounterSink lets pkg/host observe router activity for the §6.2 metrics
// (bytes_in/out are already tracked per-transport; this covers the
// router-level counters: sessions_opened/closed).
type CounterSink interface {
	SessionOpened()
	// SessionClosed reports the close reason along with the transport's
	// final byte/message counters, since the transport is discarded right
	// after (bytes_in/bytes_out of §6.2 have nowhere else to be read
	// from once the session is gone).
	SessionClosed(reason session.CloseReason, stats transport.Statistics)
}

// New creates a Router with the given application callbacks.
func New(callbacks Callbacks, counters CounterSink) *Router {
	return &Router{callbacks: callbacks, onCounters: counters}
}

// OnConnected implements session.Handler.
func (r *Router) OnConnected(s *session.Session) {
	if r.onCounters != nil {
		r.onCounters.SessionOpened()
	}
	if r.callbacks.OnConnected != nil {
		safeCall(func() { r.callbacks.OnConnected(s.Remote()) })
	}
}

// OnAuthenticated implements session.Handler and records s as the active
// session for outbound sends.
func (r *Router) OnAuthenticated(s *session.Session) {
	r.mu.Lock()
	r.active = s
	r.mu.Unlock()
	if r.callbacks.OnAuthenticated != nil {
		safeCall(func() { r.callbacks.OnAuthenticated(s.Remote()) })
	}
}

// OnPose implements session.Handler, delivering synchronously with no
// queue (§4.8).
func (r *Router) OnPose(s *session.Session, p codec.Pose) {
	if r.callbacks.OnPose != nil {
		safeCall(func() { r.callbacks.OnPose(s.Remote(), p) })
	}
}

// OnCommand implements session.Handler.
func (r *Router) OnCommand(s *session.Session, c codec.Cmd) {
	if r.callbacks.OnCommand != nil {
		safeCall(func() { r.callbacks.OnCommand(s.Remote(), c) })
	}
}

// OnDisconnected implements session.Handler, clearing the active session
// if it is the one disconnecting.
func (r *Router) OnDisconnected(s *session.Session, reason session.CloseReason) {
	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()

	if r.onCounters != nil {
		r.onCounters.SessionClosed(reason, s.Transport().Info().Statistics)
	}
	if r.callbacks.OnDisconnected != nil {
		safeCall(func() { r.callbacks.OnDisconnected(s.Remote(), reason) })
	}
}

// safeCall runs an application callback, converting a panic into a
// logged no-op so a misbehaving callback cannot tear down the core (§7).
func safeCall(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("router: application callback panicked", "panic", p)
		}
	}()
	fn()
}

// SendHaptic clamps intensity to [0,1] (NaN becomes 0) and sends one
// HAPTIC message to the active session. Per §4.8's drop policy, a failed
// send here is treated as latest-wins: the caller is not retried and no
// queue is kept, so a second SendHaptic naturally supersedes a blocked
// first one.
func (r *Router) SendHaptic(ctx context.Context, intensity float32, channel uint8) error {
	if math.IsNaN(float64(intensity)) {
		intensity = 0
	} else if intensity < 0 {
		intensity = 0
	} else if intensity > 1 {
		intensity = 1
	}

	active := r.activeSession()
	if active == nil {
		return ErrNoSession
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return active.Transport().Send(ctx, codec.EncodeHaptic(codec.Haptic{Intensity: intensity, Channel: channel}))
}

// SendConfig sends one CONFIG message verbatim to the active session.
// Unlike SendHaptic, CONFIG is never silently dropped: a transport error
// is surfaced to the caller as ErrBackpressured or the underlying error.
func (r *Router) SendConfig(ctx context.Context, payload []byte) error {
	active := r.activeSession()
	if active == nil {
		return ErrNoSession
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := active.Transport().Send(ctx, codec.EncodeConfig(codec.Config{Payload: payload})); err != nil {
		if ctx.Err() != nil {
			return ErrBackpressured
		}
		return err
	}
	return nil
}

func (r *Router) activeSession() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Active returns the currently connected session, or nil.
func (r *Router) Active() *session.Session {
	return r.activeSession()
}
