package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/filehub/filehub/internal/integrity"
)

// SizeFieldLen is the width of the binary size field in a response.
const SizeFieldLen = 8

const okPrefix = "OK "

// ErrMalformedResponse reports a response that does not follow the OK
// framing.
var ErrMalformedResponse = errors.New("malformed response")

// Response is the answer to a successful GET/GETC. Digest is only written
// when the request asked for a checksum.
type Response struct {
	FileName string
	Size     int64
	Digest   string
	Payload  []byte
}

// EncodeOKHeader returns "OK <name>\n".
func EncodeOKHeader(name string) []byte {
	buf := make([]byte, 0, len(okPrefix)+len(name)+1)
	buf = append(buf, okPrefix...)
	buf = append(buf, name...)
	return append(buf, '\n')
}

// EncodeSize returns n as an 8-byte native-endian integer. Both peers must
// run on hosts with the same byte order.
func EncodeSize(n int64) []byte {
	buf := make([]byte, SizeFieldLen)
	binary.NativeEndian.PutUint64(buf, uint64(n))
	return buf
}

// DecodeSize is the inverse of EncodeSize.
func DecodeSize(b []byte) (int64, error) {
	if len(b) != SizeFieldLen {
		return 0, fmt.Errorf("%w: size field is %d bytes", ErrMalformedResponse, len(b))
	}
	n := int64(binary.NativeEndian.Uint64(b))
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size", ErrMalformedResponse)
	}
	return n, nil
}

// EncodeDigest returns d as exactly 32 lowercase hex characters.
func EncodeDigest(d string) ([]byte, error) {
	if !integrity.ValidDigest(d) {
		return nil, fmt.Errorf("invalid digest %q", truncate(d))
	}
	return []byte(strings.ToLower(d)), nil
}

// WriteResponse writes the OK header, size, optional digest and payload to
// w. Size always reflects len(resp.Payload).
func WriteResponse(w io.Writer, resp *Response, withDigest bool) error {
	var digest []byte
	if withDigest {
		encoded, err := EncodeDigest(resp.Digest)
		if err != nil {
			return err
		}
		digest = encoded
	}

	parts := [][]byte{
		EncodeOKHeader(resp.FileName),
		EncodeSize(int64(len(resp.Payload))),
		digest,
		resp.Payload,
	}
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// ReadResponse decodes one response from r. io.EOF is returned untouched
// when the peer closed the connection without sending anything, which is
// how the server reports every failure.
func ReadResponse(r *bufio.Reader, withDigest bool, maxPayload int64) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		if errors.Is(err, ErrMalformedRequest) {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedResponse)
		}
		return nil, err
	}
	if !strings.HasPrefix(line, okPrefix) {
		return nil, fmt.Errorf("%w: header %q", ErrMalformedResponse, truncate(line))
	}
	resp := &Response{FileName: line[len(okPrefix):]}

	sizeBuf := make([]byte, SizeFieldLen)
	if _, err := io.ReadFull(r, sizeBuf); err != nil {
		return nil, fmt.Errorf("%w: size field: %v", ErrMalformedResponse, err)
	}
	if resp.Size, err = DecodeSize(sizeBuf); err != nil {
		return nil, err
	}
	if maxPayload > 0 && resp.Size > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, resp.Size, maxPayload)
	}

	if withDigest {
		digest := make([]byte, integrity.DigestLen)
		if _, err := io.ReadFull(r, digest); err != nil {
			return nil, fmt.Errorf("%w: digest field: %v", ErrMalformedResponse, err)
		}
		resp.Digest = string(digest)
	}

	resp.Payload = make([]byte, resp.Size)
	if n, err := io.ReadFull(r, resp.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload truncated after %d of %d bytes: %v", ErrMalformedResponse, n, resp.Size, err)
	}
	return resp, nil
}
