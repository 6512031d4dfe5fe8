package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrameReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"seq":1}`)))

	got, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"seq":1}`, string(got))
}

func TestReadFrame_ExceedsMaxLength(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], 2048)
	buf.Write(header[:])
	buf.Write(make([]byte, 2048))

	_, err := ReadFrame(&buf, 1024)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame_InvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xff, 0xfe, 0xfd}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)

	_, err := ReadFrame(&buf, 1024)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestReadFrame_TruncatedHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2}), 1024)
	assert.Error(t, err)
}

func TestReadFrame_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], 10)
	buf.Write(header[:])
	buf.Write([]byte("abc"))

	_, err := ReadFrame(&buf, 1024)
	assert.Error(t, err)
}

func TestWriteFrame_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Empty(t, got)
}
