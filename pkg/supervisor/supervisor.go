// Package supervisor drives the host-side accept/reconnect loop (§4.9):
// Listening → AwaitingHello → Connected → Closing → Listening, forever,
// without leaking the listening socket across cycles (only the accepted
// stream is recreated each time). For BLE it also runs the liveness
// monitor (§4.10): a 500 ms heartbeat push and a 3 s inbound-silence
// teardown.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/session"
	"github.com/telepose/posehost/pkg/transport"
)

// AcceptBackoff bounds how fast the supervisor retries Accept after a
// non-fatal listener error (§7: "supervisor retries listen with capped
// backoff").
const AcceptBackoff = 500 * time.Millisecond

// Supervisor owns one transport.Listener and runs the accept loop against
// it for the lifetime of ctx.
type Supervisor struct {
	listener transport.Listener
	guard    *session.Guard
	params   session.Params
	handler  session.Handler
	isBLE    bool
	log      *slog.Logger

	// OnAcceptError, if set, is called with each non-fatal Accept error
	// before the supervisor backs off and retries (§7: I/O errors surface
	// on_error(kind)).
	OnAcceptError func(err error)
}

// New creates a Supervisor. isBLE selects the §4.10 BLE liveness monitor;
// TCP relies on kernel keepalive instead (§4.10).
func New(listener transport.Listener, params session.Params, handler session.Handler, isBLE bool, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		listener: listener,
		guard:    session.NewGuard(),
		params:   params,
		handler:  handler,
		isBLE:    isBLE,
		log:      log,
	}
}

// Run accepts connections until ctx is cancelled. Each accepted transport
// gets its own goroutine running the session state machine, so a second
// client arriving while one is already Connected still gets its
// ACK(BUSY) promptly (§4.7) instead of waiting behind the active session.
func (sp *Supervisor) Run(ctx context.Context) {
	for {
		tr, err := sp.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sp.log.Warn("accept failed, backing off", "error", err)
			if sp.OnAcceptError != nil {
				sp.OnAcceptError(err)
			}
			select {
			case <-time.After(AcceptBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		s := session.New(tr, sp.params, sp.guard)
		if sp.isBLE {
			monitorCtx, cancel := context.WithCancel(ctx)
			go runBLELiveness(monitorCtx, s, tr, sp.log)
			go func() {
				defer cancel()
				s.Run(ctx, sp.handler)
			}()
		} else {
			go s.Run(ctx, sp.handler)
		}
	}
}

// Close releases the listener.
func (sp *Supervisor) Close() error {
	return sp.listener.Close()
}

// runBLELiveness pushes a HEARTBEAT every 500 ms and tears the session
// down if no inbound write has been observed for 3 s (§4.10).
func runBLELiveness(ctx context.Context, s *session.Session, tr transport.Transport, log *slog.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	var counter uint32

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() != session.StateConnected {
				continue
			}
			if time.Since(s.LastInboundAt()) >= 3*time.Second {
				log.Warn("ble liveness timeout, closing session", "remote", s.Remote())
				s.MarkLivenessTimeout()
				return
			}

			counter++
			hb := codec.EncodeHeartbeat(codec.Heartbeat{
				Counter:  counter,
				UptimeMs: uint32(time.Since(start).Milliseconds()),
			})
			if err := tr.Send(ctx, hb); err != nil {
				log.Warn("heartbeat send failed", "remote", s.Remote(), "error", err)
			}
		}
	}
}
