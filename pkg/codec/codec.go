package codec

import (
	"encoding/binary"
	"math"
)

func putHeader(buf []byte, t Type) {
	copy(buf[0:4], Magic[:])
	buf[4] = uint8(t)
	buf[5] = MinVersion
}

// EncodeHello packs a HELLO message.
func EncodeHello(m Hello) []byte {
	buf := make([]byte, SizeHello)
	putHeader(buf, TypeHello)
	binary.LittleEndian.PutUint32(buf[6:10], m.SessionID)
	copy(buf[10:16], m.Code[:])
	binary.LittleEndian.PutUint16(buf[16:18], 0)
	return buf
}

// EncodeAck packs an ACK message.
func EncodeAck(m Ack) []byte {
	buf := make([]byte, SizeAck)
	putHeader(buf, TypeAck)
	buf[6] = m.Status
	buf[7] = 0
	buf[8] = m.MinVer
	buf[9] = m.MaxVer
	binary.LittleEndian.PutUint16(buf[10:12], 0)
	return buf
}

// EncodePose packs a POSE message. The quaternion is forwarded verbatim;
// the codec does not normalize it (§3).
func EncodePose(m Pose) []byte {
	buf := make([]byte, SizePose)
	putHeader(buf, TypePose)
	binary.LittleEndian.PutUint16(buf[6:8], m.Seq)
	binary.LittleEndian.PutUint64(buf[8:16], m.TsUs)
	flags := m.RawFlags
	if m.MovementStart {
		flags |= 0x01
	} else {
		flags &^= 0x01
	}
	buf[16] = flags
	buf[17] = 0
	binary.LittleEndian.PutUint32(buf[18:22], math.Float32bits(m.X))
	binary.LittleEndian.PutUint32(buf[22:26], math.Float32bits(m.Y))
	binary.LittleEndian.PutUint32(buf[26:30], math.Float32bits(m.Z))
	binary.LittleEndian.PutUint32(buf[30:34], math.Float32bits(m.Qx))
	binary.LittleEndian.PutUint32(buf[34:38], math.Float32bits(m.Qy))
	binary.LittleEndian.PutUint32(buf[38:42], math.Float32bits(m.Qz))
	binary.LittleEndian.PutUint32(buf[42:46], math.Float32bits(m.Qw))
	return buf
}

// EncodeBye packs a BYE message.
func EncodeBye(m Bye) []byte {
	buf := make([]byte, SizeBye)
	putHeader(buf, TypeBye)
	binary.LittleEndian.PutUint32(buf[6:10], m.SessionID)
	return buf
}

// EncodeCmd packs a CMD message.
func EncodeCmd(m Cmd) []byte {
	buf := make([]byte, SizeCmd)
	putHeader(buf, TypeCmd)
	buf[6] = m.CmdType
	buf[7] = m.Value
	return buf
}

// EncodeHeartbeat packs a HEARTBEAT message.
func EncodeHeartbeat(m Heartbeat) []byte {
	buf := make([]byte, SizeHeartbeat)
	putHeader(buf, TypeHeartbeat)
	binary.LittleEndian.PutUint32(buf[6:10], m.Counter)
	binary.LittleEndian.PutUint32(buf[10:14], m.UptimeMs)
	return buf
}

// EncodeHaptic packs a HAPTIC message. Callers are expected to have already
// clamped Intensity to [0,1] and coerced NaN to 0 (§4.8); EncodeHaptic does
// not re-validate so that pure round-trip tests can exercise out-of-range
// inputs deliberately.
func EncodeHaptic(m Haptic) []byte {
	buf := make([]byte, SizeHaptic)
	putHeader(buf, TypeHaptic)
	binary.LittleEndian.PutUint32(buf[6:10], math.Float32bits(m.Intensity))
	buf[10] = m.Channel
	buf[11] = 0
	return buf
}

// EncodeBeacon packs a BEACON message. Name must be 1..=20 UTF-8 bytes;
// callers are expected to have validated this at configuration time.
func EncodeBeacon(m Beacon) []byte {
	name := []byte(m.Name)
	buf := make([]byte, SizeBeaconBase+len(name))
	putHeader(buf, TypeBeacon)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(m.Port))
	buf[8] = uint8(len(name))
	buf[9] = 0
	copy(buf[10:], name)
	return buf
}

// EncodeConfig packs a CONFIG message with an opaque payload.
func EncodeConfig(m Config) []byte {
	buf := make([]byte, SizeConfigBase+len(m.Payload))
	putHeader(buf, TypeConfig)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(m.Payload)))
	copy(buf[8:], m.Payload)
	return buf
}

// Decode validates the common header and dispatches to the type-specific
// decoder. payload includes the 6-byte common header.
func Decode(payload []byte) (*Decoded, error) {
	if len(payload) < HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(payload)}
	}
	if payload[0] != Magic[0] || payload[1] != Magic[1] || payload[2] != Magic[2] || payload[3] != Magic[3] {
		return nil, &Error{Kind: ErrBadMagic}
	}
	version := payload[5]
	if version < MinVersion || version > MaxVersion {
		return nil, &Error{Kind: ErrUnsupportedVersion, Got: int(version)}
	}
	msgType := Type(payload[4])
	body := payload[HeaderSize:]

	switch msgType {
	case TypeHello:
		return decodeHello(body)
	case TypeAck:
		return decodeAck(body)
	case TypePose:
		return decodePose(body)
	case TypeBye:
		return decodeBye(body)
	case TypeCmd:
		return decodeCmd(body)
	case TypeHeartbeat:
		return decodeHeartbeat(body)
	case TypeHaptic:
		return decodeHaptic(body)
	case TypeBeacon:
		return decodeBeacon(body)
	case TypeConfig:
		return decodeConfig(body)
	default:
		return nil, &Error{Kind: ErrUnknownType, Got: int(msgType)}
	}
}

func decodeHello(body []byte) (*Decoded, error) {
	if len(body) != SizeHello-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	h := Hello{
		SessionID: binary.LittleEndian.Uint32(body[0:4]),
		Reserved:  binary.LittleEndian.Uint16(body[10:12]),
	}
	copy(h.Code[:], body[4:10])
	return &Decoded{Type: TypeHello, Hello: &h, ReservedNonZero: h.Reserved != 0}, nil
}

func decodeAck(body []byte) (*Decoded, error) {
	if len(body) != SizeAck-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	a := Ack{
		Status: body[0],
		MinVer: body[2],
		MaxVer: body[3],
	}
	reserved := binary.LittleEndian.Uint16(body[4:6])
	flagged := body[1] != 0 || reserved != 0
	return &Decoded{Type: TypeAck, Ack: &a, ReservedNonZero: flagged}, nil
}

func decodePose(body []byte) (*Decoded, error) {
	if len(body) != SizePose-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	flags := body[10]
	p := Pose{
		Seq:           binary.LittleEndian.Uint16(body[0:2]),
		TsUs:          binary.LittleEndian.Uint64(body[2:10]),
		RawFlags:      flags,
		MovementStart: flags&0x01 != 0,
		X:             math.Float32frombits(binary.LittleEndian.Uint32(body[12:16])),
		Y:             math.Float32frombits(binary.LittleEndian.Uint32(body[16:20])),
		Z:             math.Float32frombits(binary.LittleEndian.Uint32(body[20:24])),
		Qx:            math.Float32frombits(binary.LittleEndian.Uint32(body[24:28])),
		Qy:            math.Float32frombits(binary.LittleEndian.Uint32(body[28:32])),
		Qz:            math.Float32frombits(binary.LittleEndian.Uint32(body[32:36])),
		Qw:            math.Float32frombits(binary.LittleEndian.Uint32(body[36:40])),
	}
	return &Decoded{Type: TypePose, Pose: &p, ReservedNonZero: body[11] != 0}, nil
}

func decodeBye(body []byte) (*Decoded, error) {
	if len(body) != SizeBye-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	b := Bye{SessionID: binary.LittleEndian.Uint32(body[0:4])}
	return &Decoded{Type: TypeBye, Bye: &b}, nil
}

func decodeCmd(body []byte) (*Decoded, error) {
	if len(body) != SizeCmd-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	c := Cmd{CmdType: body[0], Value: body[1]}
	return &Decoded{Type: TypeCmd, Cmd: &c}, nil
}

func decodeHeartbeat(body []byte) (*Decoded, error) {
	if len(body) != SizeHeartbeat-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	h := Heartbeat{
		Counter:  binary.LittleEndian.Uint32(body[0:4]),
		UptimeMs: binary.LittleEndian.Uint32(body[4:8]),
	}
	return &Decoded{Type: TypeHeartbeat, Heartbeat: &h}, nil
}

func decodeHaptic(body []byte) (*Decoded, error) {
	if len(body) != SizeHaptic-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	h := Haptic{
		Intensity: math.Float32frombits(binary.LittleEndian.Uint32(body[0:4])),
		Channel:   body[4],
	}
	return &Decoded{Type: TypeHaptic, Haptic: &h, ReservedNonZero: body[5] != 0}, nil
}

func decodeBeacon(body []byte) (*Decoded, error) {
	if len(body) < SizeBeaconBase-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	port := int(binary.LittleEndian.Uint16(body[0:2]))
	nameLen := int(body[2])
	reserved := body[3]
	if nameLen == 0 {
		return nil, &Error{Kind: ErrInvalidFrame, Got: nameLen}
	}
	rest := body[4:]
	if len(rest) != nameLen {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(rest)}
	}
	b := Beacon{Port: port, Name: string(rest)}
	return &Decoded{Type: TypeBeacon, Beacon: &b, ReservedNonZero: reserved != 0}, nil
}

func decodeConfig(body []byte) (*Decoded, error) {
	if len(body) < SizeConfigBase-HeaderSize {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(body) + HeaderSize}
	}
	configLen := int(binary.LittleEndian.Uint16(body[0:2]))
	rest := body[2:]
	if len(rest) != configLen {
		return nil, &Error{Kind: ErrTruncatedOrOversized, Got: len(rest)}
	}
	payload := make([]byte, configLen)
	copy(payload, rest)
	return &Decoded{Type: TypeConfig, Config: &Config{Payload: payload}}, nil
}
