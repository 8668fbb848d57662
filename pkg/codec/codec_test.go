package codec

import (
	"bytes"
	"math"
	"testing"
)

func TestEncodeHelloGolden(t *testing.T) {
	got := EncodeHello(Hello{SessionID: 1, Code: [6]byte{'A', 'B', 'C', '1', '2', '3'}})
	if len(got) != SizeHello {
		t.Fatalf("len = %d, want %d", len(got), SizeHello)
	}
	if !bytes.Equal(got[0:6], []byte{'T', 'E', 'L', 'E', 1, 1}) {
		t.Fatalf("header = % X", got[0:6])
	}
}

func TestEncodePoseGoldenWire(t *testing.T) {
	got := EncodePose(Pose{Seq: 0, TsUs: 0, MovementStart: true, X: 1.0, Y: 2.0, Z: 3.0, Qw: 1.0})
	if len(got) != 46 {
		t.Fatalf("pose payload must be 46 bytes, got %d", len(got))
	}
	wantHeader := []byte{0x54, 0x45, 0x4C, 0x45, 0x03, 0x01}
	if !bytes.Equal(got[:6], wantHeader) {
		t.Fatalf("header = % X, want % X", got[:6], wantHeader)
	}
}

func TestEncodeBeaconGoldenWire(t *testing.T) {
	got := EncodeBeacon(Beacon{Port: 50000, Name: "myvoodoo"})
	want := []byte{
		0x54, 0x45, 0x4C, 0x45, 0x08, 0x01,
		0x50, 0xC3,
		0x08, 0x00,
		'm', 'y', 'v', 'o', 'o', 'd', 'o', 'o',
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("beacon = % X, want % X", got, want)
	}
}

func TestEncodeConfigGoldenWire(t *testing.T) {
	got := EncodeConfig(Config{Payload: []byte("{}")})
	want := []byte{0x54, 0x45, 0x4C, 0x45, 0x09, 0x01, 0x02, 0x00, '{', '}'}
	if !bytes.Equal(got, want) {
		t.Fatalf("config = % X, want % X", got, want)
	}
}

func TestRoundTripAllTypes(t *testing.T) {
	cases := []struct {
		name string
		enc  []byte
		typ  Type
	}{
		{"hello", EncodeHello(Hello{SessionID: 7, Code: [6]byte{'Z', 'Z', 'Z', '9', '9', '9'}}), TypeHello},
		{"ack", EncodeAck(Ack{Status: StatusOK, MinVer: 1, MaxVer: 1}), TypeAck},
		{"pose", EncodePose(Pose{Seq: 42, TsUs: 123456789, X: -1.5, Y: 2.25, Z: 0, Qx: 0, Qy: 0, Qz: 0, Qw: 1}), TypePose},
		{"bye", EncodeBye(Bye{SessionID: 7}), TypeBye},
		{"cmd", EncodeCmd(Cmd{CmdType: CmdRecording, Value: 1}), TypeCmd},
		{"heartbeat", EncodeHeartbeat(Heartbeat{Counter: 99, UptimeMs: 5000}), TypeHeartbeat},
		{"haptic", EncodeHaptic(Haptic{Intensity: 0.75, Channel: 2}), TypeHaptic},
		{"beacon", EncodeBeacon(Beacon{Port: 1234, Name: "x"}), TypeBeacon},
		{"config", EncodeConfig(Config{Payload: []byte("hello")}), TypeConfig},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.enc[4] != uint8(c.typ) {
				t.Fatalf("type byte = %d, want %d", c.enc[4], c.typ)
			}
			if c.enc[5] != 1 {
				t.Fatalf("version byte = %d, want 1", c.enc[5])
			}
			d, err := Decode(c.enc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if d.Type != c.typ {
				t.Fatalf("decoded type = %v, want %v", d.Type, c.typ)
			}
		})
	}
}

func TestPoseRoundTripPreservesBits(t *testing.T) {
	nan := float32(math.NaN())
	p := Pose{Seq: 1, TsUs: 1, X: nan, Y: math.MaxFloat32, Z: -0.0, Qx: 1, Qy: 1, Qz: 1, Qw: 1}
	d, err := Decode(EncodePose(p))
	if err != nil {
		t.Fatal(err)
	}
	if math.Float32bits(d.Pose.X) != math.Float32bits(nan) {
		t.Fatalf("NaN not preserved bit-for-bit")
	}
	if d.Pose.Y != p.Y {
		t.Fatalf("Y mismatch: %v != %v", d.Pose.Y, p.Y)
	}
}

func TestPoseFlagsAllSetDecodesMovementStartOnly(t *testing.T) {
	enc := EncodePose(Pose{RawFlags: 0xFF})
	// EncodePose derives bit 0 from MovementStart; force the wire flags
	// byte (offset 16) to 0xFF so the decoder sees every bit set.
	enc[16] = 0xFF
	d, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Pose.MovementStart {
		t.Fatalf("expected movement_start=true")
	}
	if d.Pose.RawFlags != 0xFF {
		t.Fatalf("expected all flag bits preserved, got %08b", d.Pose.RawFlags)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf := EncodeHello(Hello{})
	buf[0] = 'X'
	_, err := Decode(buf)
	var ce *Error
	if !ok(err, &ce) || ce.Kind != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	buf := EncodeHello(Hello{})
	buf[5] = 2
	_, err := Decode(buf)
	var ce *Error
	if !ok(err, &ce) || ce.Kind != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	buf := EncodeHello(Hello{})
	buf[4] = 200
	_, err := Decode(buf)
	var ce *Error
	if !ok(err, &ce) || ce.Kind != ErrUnknownType {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeTruncatedFixedSize(t *testing.T) {
	buf := EncodeHello(Hello{})
	_, err := Decode(buf[:len(buf)-1])
	var ce *Error
	if !ok(err, &ce) || ce.Kind != ErrTruncatedOrOversized {
		t.Fatalf("expected ErrTruncatedOrOversized, got %v", err)
	}
}

func TestDecodeBeaconNameLenZero(t *testing.T) {
	buf := EncodeBeacon(Beacon{Port: 1, Name: "x"})
	buf[8] = 0 // force name_len = 0
	_, err := Decode(buf)
	var ce *Error
	if !ok(err, &ce) || ce.Kind != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDecodeBeaconNameLenOversized(t *testing.T) {
	buf := make([]byte, 16) // header(6) + port(2) + name_len(1) + reserved(1) + 6 bytes of "name"
	copy(buf, EncodeBeacon(Beacon{Port: 1, Name: "abcdef"}))
	buf[8] = 255 // declare 255 bytes but only 6 are present
	_, err := Decode(buf)
	var ce *Error
	if !ok(err, &ce) || ce.Kind != ErrTruncatedOrOversized {
		t.Fatalf("expected ErrTruncatedOrOversized, got %v", err)
	}
}

func TestDecodeConfigLenExceedsPayload(t *testing.T) {
	buf := EncodeConfig(Config{Payload: []byte("hi")})
	buf[6] = 0xFF // config_len = 0x00FF, far larger than the 2 actual bytes
	_, err := Decode(buf)
	var ce *Error
	if !ok(err, &ce) || ce.Kind != ErrTruncatedOrOversized {
		t.Fatalf("expected ErrTruncatedOrOversized, got %v", err)
	}
}

func TestDecodeReservedNonZeroIsFlaggedNotRejected(t *testing.T) {
	buf := EncodeHello(Hello{SessionID: 1, Code: [6]byte{'A', 'B', 'C', '1', '2', '3'}})
	buf[16] = 0xFF // reserved bytes
	d, err := Decode(buf)
	if err != nil {
		t.Fatalf("non-zero reserved must decode, got err: %v", err)
	}
	if !d.ReservedNonZero {
		t.Fatalf("expected ReservedNonZero = true")
	}
}

func TestDecodeNeverPanicsOnRandomBytes(t *testing.T) {
	// Random/garbage byte streams must return an error, never panic, and
	// never read past what was provided.
	inputs := [][]byte{
		nil,
		{},
		{0x00},
		{0x54, 0x45, 0x4C, 0x45},
		{0x54, 0x45, 0x4C, 0x45, 0x03, 0x01},
		make([]byte, 4096),
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Decode panicked on input %v: %v", in, r)
				}
			}()
			Decode(in)
		}()
	}
}

func ok(err error, target **Error) bool {
	ce, isCodecErr := err.(*Error)
	if !isCodecErr {
		return false
	}
	*target = ce
	return true
}
