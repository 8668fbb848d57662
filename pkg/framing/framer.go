// Package framing implements the 2-byte little-endian length-prefixed
// framing used on every TCP connection (§4.2). It is transport-agnostic
// over any io.Reader/io.Writer and shares no state with the codec: a frame
// is just a length-delimited byte slice, decoded by the caller.
package framing

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameLen is the largest payload this framer will accept, matching
// codec.MaxFrameLen (duplicated here to keep framing dependency-free of
// codec — the framer only ever sees bytes, never message semantics).
const MaxFrameLen = 4096

// Common errors.
var (
	// ErrInvalidFrame is returned for a zero-length frame declaration.
	ErrInvalidFrame = errors.New("framing: invalid frame (len=0)")
	// ErrFrameTooLarge is returned when the declared length exceeds
	// MaxFrameLen.
	ErrFrameTooLarge = errors.New("framing: frame exceeds maximum length")
	// ErrUnexpectedEOF is returned when the stream closes mid-frame,
	// after the length prefix but before all payload bytes arrive.
	ErrUnexpectedEOF = errors.New("framing: unexpected EOF mid-frame")
)

// ReadMessage performs the two exact reads described in §4.2: first the
// 2-byte length prefix, then exactly that many payload bytes. It returns
// (nil, nil) on a clean EOF before any bytes of the next frame arrive.
func ReadMessage(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	length := binary.LittleEndian.Uint16(lenBuf[:])
	if length == 0 {
		return nil, ErrInvalidFrame
	}
	if int(length) > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// WriteMessage performs a single gathered write of [len][payload] so that
// concurrent writers from higher layers never interleave a partial frame
// on the wire (the caller is still responsible for serializing calls to
// WriteMessage itself — see pkg/router).
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrInvalidFrame
	}
	if len(payload) > MaxFrameLen {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(payload)))
	copy(buf[2:], payload)

	_, err := w.Write(buf)
	return err
}
