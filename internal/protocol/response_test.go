package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehub/filehub/internal/integrity"
)

func TestEncodeOKHeader(t *testing.T) {
	assert.Equal(t, "OK report.txt\n", string(EncodeOKHeader("report.txt")))
}

func TestEncodeSizeIsNativeEndianBinary(t *testing.T) {
	encoded := EncodeSize(3)
	require.Len(t, encoded, SizeFieldLen)
	assert.EqualValues(t, 3, binary.NativeEndian.Uint64(encoded))

	decoded, err := DecodeSize(EncodeSize(1 << 40))
	require.NoError(t, err)
	assert.EqualValues(t, int64(1)<<40, decoded)

	_, err = DecodeSize([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestEncodeDigest(t *testing.T) {
	out, err := EncodeDigest("764EFA883DDA1E11DB47671C4A3BBD9E")
	require.NoError(t, err)
	assert.Equal(t, "764efa883dda1e11db47671c4a3bbd9e", string(out))

	_, err = EncodeDigest("short")
	require.Error(t, err)
}

func TestWriteResponseLayout(t *testing.T) {
	content := []byte("hi\n")
	resp := &Response{FileName: "report.txt", Digest: integrity.Digest(content), Payload: content}

	var plain bytes.Buffer
	require.NoError(t, WriteResponse(&plain, resp, false))
	want := append(append([]byte("OK report.txt\n"), EncodeSize(3)...), content...)
	assert.Equal(t, want, plain.Bytes())

	var checked bytes.Buffer
	require.NoError(t, WriteResponse(&checked, resp, true))
	want = append([]byte("OK report.txt\n"), EncodeSize(3)...)
	want = append(want, "764efa883dda1e11db47671c4a3bbd9e"...)
	want = append(want, content...)
	assert.Equal(t, want, checked.Bytes())
}

func TestReadResponseRoundTrip(t *testing.T) {
	content := []byte("binary\x00\npayload")
	resp := &Response{FileName: "blob.bin", Digest: integrity.Digest(content), Payload: content}

	for _, withDigest := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, WriteResponse(&buf, resp, withDigest))

		got, err := ReadResponse(bufio.NewReaderSize(&buf, MaxLineLength), withDigest, 0)
		require.NoError(t, err)
		assert.Equal(t, "blob.bin", got.FileName)
		assert.EqualValues(t, len(content), got.Size)
		assert.Equal(t, content, got.Payload)
		if withDigest {
			assert.Equal(t, resp.Digest, got.Digest)
		} else {
			assert.Empty(t, got.Digest)
		}
	}
}

func TestReadResponseFailures(t *testing.T) {
	_, err := ReadResponse(bufio.NewReader(bytes.NewReader(nil)), false, 0)
	require.True(t, errors.Is(err, io.EOF))

	_, err = ReadResponse(bufio.NewReader(bytes.NewReader([]byte("ERR nope\n"))), false, 0)
	require.ErrorIs(t, err, ErrMalformedResponse)

	truncated := append([]byte("OK a\n"), EncodeSize(10)...)
	truncated = append(truncated, "abc"...)
	_, err = ReadResponse(bufio.NewReader(bytes.NewReader(truncated)), false, 0)
	require.ErrorIs(t, err, ErrMalformedResponse)

	oversized := append([]byte("OK a\n"), EncodeSize(100)...)
	_, err = ReadResponse(bufio.NewReader(bytes.NewReader(oversized)), false, 10)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}
