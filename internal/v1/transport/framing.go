package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrFrameTooLarge is returned when a frame's declared length exceeds the
// configured maximum, a fatal framing error.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum length")

// ErrInvalidUTF8 is returned when a frame's payload is not valid UTF-8, a
// fatal framing error (the payload must be a UTF-8 JSON object).
var ErrInvalidUTF8 = errors.New("transport: frame payload is not valid UTF-8")

const frameHeaderBytes = 4

// ReadFrame reads one length-prefixed frame from r: a 4-byte little-endian
// unsigned length followed by exactly that many bytes of UTF-8 JSON. Used
// directly by the handshake gate to read the first frame on a raw
// connection, before a Client exists.
func ReadFrame(r io.Reader, maxFrameBytes int) ([]byte, error) {
	var header [frameHeaderBytes]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])
	if int(length) > maxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, maxFrameBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	if !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}

	return payload, nil
}

// WriteFrame writes one length-prefixed frame to w. Used directly by the
// handshake gate to write the handshake response frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [frameHeaderBytes]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
