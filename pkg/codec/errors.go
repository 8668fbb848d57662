package codec

import "fmt"

// Error is the codec's error taxonomy (§4.1, §7 "Codec" row). Each variant
// is a distinct cause so callers (the framer, the session machine) can
// decide independently whether to close the session or just warn and skip.
type Error struct {
	Kind ErrorKind
	// Got carries the offending value for errors where it is meaningful
	// (e.g. the version byte, the declared length).
	Got int
}

// ErrorKind enumerates the codec failure modes.
type ErrorKind int

const (
	// ErrBadMagic means the first 4 header bytes were not "TELE".
	ErrBadMagic ErrorKind = iota
	// ErrUnsupportedVersion means the version byte fell outside
	// [MinVersion, MaxVersion].
	ErrUnsupportedVersion
	// ErrUnknownType means msg_type was not in {1..9}.
	ErrUnknownType
	// ErrTruncatedOrOversized means a fixed-size message had the wrong
	// payload length, or a variable-length message's declared length
	// did not match the available bytes.
	ErrTruncatedOrOversized
	// ErrInvalidFrame means a structurally-zero field makes the message
	// meaningless regardless of available bytes (e.g. BEACON name_len=0).
	ErrInvalidFrame
)

func (e *Error) Error() string {
	switch e.Kind {
	case ErrBadMagic:
		return "codec: bad magic"
	case ErrUnsupportedVersion:
		return fmt.Sprintf("codec: unsupported version %d", e.Got)
	case ErrUnknownType:
		return fmt.Sprintf("codec: unknown message type %d", e.Got)
	case ErrTruncatedOrOversized:
		return fmt.Sprintf("codec: truncated or oversized payload (%d bytes)", e.Got)
	case ErrInvalidFrame:
		return "codec: invalid frame"
	default:
		return "codec: error"
	}
}

// Is allows errors.Is(err, codec.ErrBadMagicSentinel) style matching against the
// package-level sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is matching without caring about Got.
var (
	ErrBadMagicSentinel         = &Error{Kind: ErrBadMagic}
	ErrUnsupportedVerSentinel   = &Error{Kind: ErrUnsupportedVersion}
	ErrUnknownTypeSentinel      = &Error{Kind: ErrUnknownType}
	ErrTruncatedSentinel        = &Error{Kind: ErrTruncatedOrOversized}
	ErrInvalidFrameSentinel     = &Error{Kind: ErrInvalidFrame}
)
