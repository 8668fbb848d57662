package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/telepose/posehost/pkg/codec"
	"github.com/telepose/posehost/pkg/session"
	"github.com/telepose/posehost/pkg/transport"
)

func newTestHost(t *testing.T, callbacks Callbacks) *Host {
	t.Helper()
	h, err := New(Config{
		AuthCode:    [6]byte{'A', 'B', 'C', '1', '2', '3'},
		ServiceName: "pose-host",
	}, callbacks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestNewValidatesServiceName(t *testing.T) {
	if _, err := New(Config{AuthCode: [6]byte{1, 2, 3, 4, 5, 6}, ServiceName: ""}, Callbacks{}); err == nil {
		t.Fatal("expected error for empty service_name")
	}

	long := ""
	for i := 0; i < 21; i++ {
		long += "x"
	}
	if _, err := New(Config{AuthCode: [6]byte{1, 2, 3, 4, 5, 6}, ServiceName: long}, Callbacks{}); err == nil {
		t.Fatal("expected error for service_name over 20 bytes")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	h := newTestHost(t, Callbacks{})
	if h.cfg.TCPPort != 50000 {
		t.Errorf("tcp port default = %d, want 50000", h.cfg.TCPPort)
	}
	if h.cfg.BeaconPort != 50001 {
		t.Errorf("beacon port default = %d, want 50001", h.cfg.BeaconPort)
	}
	if h.cfg.MinVersion != codec.MinVersion || h.cfg.MaxVersion != codec.MaxVersion {
		t.Errorf("version defaults = [%d,%d], want [%d,%d]", h.cfg.MinVersion, h.cfg.MaxVersion, codec.MinVersion, codec.MaxVersion)
	}
}

func TestDispatchPoseInvokesCallback(t *testing.T) {
	var got codec.Pose
	var gotRemote string
	h := newTestHost(t, Callbacks{
		OnPose: func(remote string, p codec.Pose) {
			gotRemote = remote
			got = p
		},
	})

	want := codec.Pose{Seq: 7, X: 1.5}
	h.dispatchPose("device-1", want)

	if gotRemote != "device-1" || got != want {
		t.Errorf("got (%q, %+v), want (\"device-1\", %+v)", gotRemote, got, want)
	}
}

func TestDispatchCommandWithNoRuleEngineInvokesCallbackDirectly(t *testing.T) {
	var got codec.Cmd
	h := newTestHost(t, Callbacks{
		OnCommand: func(remote string, c codec.Cmd) { got = c },
	})

	in := codec.Cmd{CmdType: 3, Value: 9}
	h.dispatchCommand("device-1", in)

	if got != in {
		t.Errorf("got %+v, want %+v", got, in)
	}
}

func TestDispatchCommandRuleEngineCanDropCommand(t *testing.T) {
	script := "function on_command(cmd_type, value)\n  return nil\nend\n"
	path := filepath.Join(t.TempDir(), "rule.lua")
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	called := false
	h, err := New(Config{
		AuthCode:    [6]byte{'A', 'B', 'C', '1', '2', '3'},
		ServiceName: "pose-host",
		RuleScript:  path,
	}, Callbacks{
		OnCommand: func(remote string, c codec.Cmd) { called = true },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.dispatchCommand("device-1", codec.Cmd{CmdType: 1, Value: 2})
	if called {
		t.Error("expected the rule hook to drop the command before on_command")
	}
}

func TestDispatchCommandRuleEngineCanRewriteCommand(t *testing.T) {
	script := "function on_command(cmd_type, value)\n  return 9, 9\nend\n"
	path := filepath.Join(t.TempDir(), "rule.lua")
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	var got codec.Cmd
	h, err := New(Config{
		AuthCode:    [6]byte{'A', 'B', 'C', '1', '2', '3'},
		ServiceName: "pose-host",
		RuleScript:  path,
	}, Callbacks{
		OnCommand: func(remote string, c codec.Cmd) { got = c },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.dispatchCommand("device-1", codec.Cmd{CmdType: 1, Value: 2})
	want := codec.Cmd{CmdType: 9, Value: 9}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSessionCountersAccumulate(t *testing.T) {
	h := newTestHost(t, Callbacks{})

	h.SessionOpened()
	h.SessionOpened()
	h.SessionClosed(session.ReasonBye, transport.Statistics{BytesSent: 10, BytesReceived: 20})
	h.SessionClosed(session.ReasonTimeout, transport.Statistics{BytesSent: 5, BytesReceived: 7})

	snap := h.Snapshot()
	if snap.SessionsOpened != 2 {
		t.Errorf("sessions opened = %d, want 2", snap.SessionsOpened)
	}
	if snap.SessionsClosed["bye"] != 1 || snap.SessionsClosed["timeout"] != 1 {
		t.Errorf("sessions closed = %+v, want bye:1 timeout:1", snap.SessionsClosed)
	}
	if snap.BytesIn != 27 {
		t.Errorf("bytes in = %d, want 27", snap.BytesIn)
	}
	if snap.BytesOut != 15 {
		t.Errorf("bytes out = %d, want 15", snap.BytesOut)
	}
}

func TestProtocolErrorCountersIncrement(t *testing.T) {
	h := newTestHost(t, Callbacks{})

	h.BadMagic()
	h.BadMagic()
	h.UnknownType()
	h.VersionMismatch()

	snap := h.Snapshot()
	if snap.BadMagic != 2 {
		t.Errorf("bad magic = %d, want 2", snap.BadMagic)
	}
	if snap.UnknownType != 1 {
		t.Errorf("unknown type = %d, want 1", snap.UnknownType)
	}
	if snap.VersionMismatch != 1 {
		t.Errorf("version mismatch = %d, want 1", snap.VersionMismatch)
	}
}

func TestStartRejectsUnsupportedSelector(t *testing.T) {
	h := newTestHost(t, Callbacks{})
	err := h.Start(context.Background(), TransportSelector(99))
	if !errors.Is(err, errUnsupportedSelector) {
		t.Fatalf("got %v, want errUnsupportedSelector", err)
	}
}

func TestReportErrorInvokesOnError(t *testing.T) {
	var got error
	h := newTestHost(t, Callbacks{
		OnError: func(err error) { got = err },
	})

	sentinel := errors.New("boom")
	h.reportError(sentinel)

	if !errors.Is(got, sentinel) {
		t.Fatalf("got %v, want %v", got, sentinel)
	}
}

func TestStatusReportsDisconnectedWithNoActiveSession(t *testing.T) {
	h := newTestHost(t, Callbacks{})
	status := h.Status()
	if status.Connected {
		t.Error("expected Connected=false with no active session")
	}
}

func TestTransportSelectorString(t *testing.T) {
	cases := map[TransportSelector]string{
		Wifi:                  "wifi",
		UsbTcp:                "usb_tcp",
		Ble:                   "ble",
		TransportSelector(99): "unknown",
	}
	for sel, want := range cases {
		if got := sel.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", sel, got, want)
		}
	}
}
