package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/filehub/filehub/internal/integrity"
)

// MaxLineLength bounds a single header line, newline included. Readers
// handed to ReadRequest and ReadResponse should buffer at least this much.
const MaxLineLength = 8192

// Command is the first token of a request line.
type Command string

const (
	CommandGet  Command = "GET"
	CommandGetC Command = "GETC"
	CommandPut  Command = "PUT"
	CommandPutC Command = "PUTC"
)

// Checksummed reports whether the command carries a digest on the wire.
func (c Command) Checksummed() bool {
	return c == CommandGetC || c == CommandPutC
}

// IsWrite reports whether the command uploads a payload.
func (c Command) IsWrite() bool {
	return c == CommandPut || c == CommandPutC
}

func (c Command) valid() bool {
	switch c {
	case CommandGet, CommandGetC, CommandPut, CommandPutC:
		return true
	}
	return false
}

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMalformedRequest = errors.New("malformed request")
	ErrLineTooLong      = errors.New("header line too long")
	ErrPayloadTooLarge  = errors.New("payload too large")
)

// Request is one decoded client request.
type Request struct {
	Command           Command
	FileName          string
	ChecksumRequested bool
	// PayloadSize, PayloadDigest and Payload are set for PUT/PUTC only;
	// PayloadDigest for PUTC only.
	PayloadSize   int64
	PayloadDigest string
	Payload       []byte
}

// ParseRequestLine splits a request line (without its trailing newline) into
// command and file name. The command must match exactly; everything after
// the first space is the name.
func ParseRequestLine(line string) (Command, string, error) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		if Command(line).valid() {
			return "", "", fmt.Errorf("%w: %s without file name", ErrMalformedRequest, line)
		}
		return "", "", fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(line))
	}

	cmd := Command(line[:idx])
	if !cmd.valid() {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(line[:idx]))
	}
	name := line[idx+1:]
	if name == "" {
		return "", "", fmt.Errorf("%w: %s without file name", ErrMalformedRequest, cmd)
	}
	return cmd, name, nil
}

// ReadRequest decodes exactly one request from r. The header fields are
// parsed line by line; the payload of PUT/PUTC is then read by its declared
// byte count, so it may contain newlines. maxPayload <= 0 disables the
// payload size limit. io.EOF is returned untouched when r ends before any
// byte of a request.
func ReadRequest(r *bufio.Reader, maxPayload int64) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	cmd, name, err := ParseRequestLine(line)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Command:           cmd,
		FileName:          name,
		ChecksumRequested: cmd.Checksummed(),
	}
	if !cmd.IsWrite() {
		return req, nil
	}

	if cmd == CommandPutC {
		digest, err := readField(r, "digest")
		if err != nil {
			return nil, err
		}
		if !integrity.ValidDigest(digest) {
			return nil, fmt.Errorf("%w: digest %q is not %d hex characters", ErrMalformedRequest, truncate(digest), integrity.DigestLen)
		}
		req.PayloadDigest = strings.ToLower(digest)
	}

	sizeField, err := readField(r, "size")
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: invalid size %q", ErrMalformedRequest, truncate(sizeField))
	}
	if maxPayload > 0 && size > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, size, maxPayload)
	}
	req.PayloadSize = size

	payload, err := readPayload(r, size)
	if err != nil {
		return nil, err
	}
	req.Payload = payload
	return req, nil
}

// payloadChunk caps the up-front allocation for a payload; the buffer grows
// only as bytes actually arrive.
const payloadChunk = 64 << 10

func readPayload(r io.Reader, size int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(size, payloadChunk)))
	n, err := io.CopyN(&buf, r, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: payload truncated after %d of %d bytes: %v", ErrMalformedRequest, n, size, err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest decodes a request held entirely in memory.
func DecodeRequest(raw []byte, maxPayload int64) (*Request, error) {
	req, err := ReadRequest(bufio.NewReaderSize(bytes.NewReader(raw), MaxLineLength), maxPayload)
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty request", ErrMalformedRequest)
	}
	return req, err
}

// EncodeRequest renders req in wire form. Payload size and, for PUTC, a
// missing digest are derived from Payload.
func EncodeRequest(req *Request) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrMalformedRequest)
	}
	if !req.Command.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
	if err := validName(req.FileName); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(string(req.Command))
	buf.WriteByte(' ')
	buf.WriteString(req.FileName)
	buf.WriteByte('\n')
	if !req.Command.IsWrite() {
		return buf.Bytes(), nil
	}

	if req.Command == CommandPutC {
		digest := req.PayloadDigest
		if digest == "" {
			digest = integrity.Digest(req.Payload)
		}
		encoded, err := EncodeDigest(digest)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
		buf.WriteByte('\n')
	}

	buf.WriteString(strconv.Itoa(len(req.Payload)))
	buf.WriteByte('\n')
	buf.Write(req.Payload)
	return buf.Bytes(), nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty file name", ErrMalformedRequest)
	}
	if strings.ContainsRune(name, '\n') {
		return fmt.Errorf("%w: file name contains newline", ErrMalformedRequest)
	}
	if len(name)+len(CommandPutC)+2 > MaxLineLength {
		return fmt.Errorf("%w: file name longer than %d bytes", ErrLineTooLong, MaxLineLength)
	}
	return nil
}

// readLine returns the next newline-terminated line without its newline.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	switch {
	case err == nil:
		return string(line[:len(line)-1]), nil
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF) && len(line) == 0:
		return "", io.EOF
	case errors.Is(err, io.EOF):
		return "", fmt.Errorf("%w: unterminated line %q", ErrMalformedRequest, truncate(string(line)))
	default:
		return "", err
	}
}

func readField(r *bufio.Reader, field string) (string, error) {
	line, err := readLine(r)
	if errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedRequest, field)
	}
	return line, err
}

// truncate keeps untrusted input short enough for log lines.
func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
