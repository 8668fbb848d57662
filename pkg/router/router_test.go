package router

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/session"
	"github.com/telepose/posehost/pkg/transport"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeTransport) Close() error      { return nil }
func (f *fakeTransport) IsConnected() bool { return true }
func (f *fakeTransport) Send(ctx context.Context, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.mu.Lock()
	f.sent = append(f.sent, cp)
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeTransport) RemoteAddr() string                          { return "fake:1" }
func (f *fakeTransport) Info() transport.Info                        { return transport.Info{} }

func (f *fakeTransport) sentMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

type countingSink struct {
	mu     sync.Mutex
	opened int
	closed []session.CloseReason
}

func (c *countingSink) SessionOpened() { c.mu.Lock(); c.opened++; c.mu.Unlock() }
func (c *countingSink) SessionClosed(reason session.CloseReason, stats transport.Statistics) {
	c.mu.Lock()
	c.closed = append(c.closed, reason)
	c.mu.Unlock()
}

func authenticatedSession(tr transport.Transport) *session.Session {
	s := session.New(tr, session.Params{AuthCode: [6]byte{'A', 'B', 'C', '1', '2', '3'}, MinVersion: 1, MaxVersion: 1}, nil)
	return s
}

func TestSendHapticClampsAndEncodes(t *testing.T) {
	tr := &fakeTransport{}
	s := authenticatedSession(tr)
	r := New(Callbacks{}, nil)
	r.OnAuthenticated(s)

	if err := r.SendHaptic(context.Background(), 5.0, 2); err != nil {
		t.Fatalf("send haptic: %v", err)
	}
	sent := tr.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	d, err := codec.Decode(sent[0])
	if err != nil {
		t.Fatal(err)
	}
	if d.Haptic.Intensity != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %v", d.Haptic.Intensity)
	}
}

func TestSendHapticCoercesNaNToZero(t *testing.T) {
	tr := &fakeTransport{}
	s := authenticatedSession(tr)
	r := New(Callbacks{}, nil)
	r.OnAuthenticated(s)

	nan := float32(math.NaN())
	if err := r.SendHaptic(context.Background(), nan, 0); err != nil {
		t.Fatal(err)
	}
	d, err := codec.Decode(tr.sentMessages()[0])
	if err != nil {
		t.Fatal(err)
	}
	if d.Haptic.Intensity != 0 {
		t.Fatalf("expected NaN coerced to 0, got %v", d.Haptic.Intensity)
	}
}

func TestSendHapticNegativeClampsToZero(t *testing.T) {
	tr := &fakeTransport{}
	s := authenticatedSession(tr)
	r := New(Callbacks{}, nil)
	r.OnAuthenticated(s)

	if err := r.SendHaptic(context.Background(), -3.0, 0); err != nil {
		t.Fatal(err)
	}
	d, _ := codec.Decode(tr.sentMessages()[0])
	if d.Haptic.Intensity != 0 {
		t.Fatalf("expected clamp to 0, got %v", d.Haptic.Intensity)
	}
}

func TestSendWithoutSessionReturnsNoSession(t *testing.T) {
	r := New(Callbacks{}, nil)
	if err := r.SendHaptic(context.Background(), 0.5, 0); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := r.SendConfig(context.Background(), []byte("x")); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSendConfigRoundTrip(t *testing.T) {
	tr := &fakeTransport{}
	s := authenticatedSession(tr)
	r := New(Callbacks{}, nil)
	r.OnAuthenticated(s)

	if err := r.SendConfig(context.Background(), []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	d, err := codec.Decode(tr.sentMessages()[0])
	if err != nil || string(d.Config.Payload) != `{"a":1}` {
		t.Fatalf("unexpected config payload: %+v err=%v", d, err)
	}
}

func TestDisconnectClearsActiveSession(t *testing.T) {
	tr := &fakeTransport{}
	s := authenticatedSession(tr)
	sink := &countingSink{}
	r := New(Callbacks{}, sink)
	r.OnConnected(s)
	r.OnAuthenticated(s)
	r.OnDisconnected(s, session.ReasonBye)

	if r.Active() != nil {
		t.Fatal("expected no active session after disconnect")
	}
	if err := r.SendHaptic(context.Background(), 1, 0); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession after disconnect, got %v", err)
	}
	if sink.opened != 1 || len(sink.closed) != 1 || sink.closed[0] != session.ReasonBye {
		t.Fatalf("unexpected counter sink state: %+v", sink)
	}
}

func TestCallbackPanicDoesNotPropagate(t *testing.T) {
	tr := &fakeTransport{}
	s := authenticatedSession(tr)
	r := New(Callbacks{
		OnPose: func(remote string, p codec.Pose) { panic("boom") },
	}, nil)

	// Must not panic out of OnPose.
	r.OnPose(s, codec.Pose{})
}

func TestOnPoseAndOnCommandDispatch(t *testing.T) {
	tr := &fakeTransport{}
	s := authenticatedSession(tr)

	var gotPose codec.Pose
	var gotCmd codec.Cmd
	r := New(Callbacks{
		OnPose:    func(remote string, p codec.Pose) { gotPose = p },
		OnCommand: func(remote string, c codec.Cmd) { gotCmd = c },
	}, nil)

	r.OnPose(s, codec.Pose{Seq: 7})
	r.OnCommand(s, codec.Cmd{CmdType: codec.CmdRecording, Value: 1})

	if gotPose.Seq != 7 {
		t.Fatalf("pose not dispatched: %+v", gotPose)
	}
	if gotCmd.CmdType != codec.CmdRecording || gotCmd.Value != 1 {
		t.Fatalf("command not dispatched: %+v", gotCmd)
	}
}
