// Package client speaks the file protocol to a filehub server. Every call
// uses a fresh connection, since the server answers one request per
// connection.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/filehub/filehub/internal/integrity"
	"github.com/filehub/filehub/internal/protocol"
)

var (
	// ErrNoResponse means the server closed the connection without an OK
	// header. The protocol does not say why: a missing file, a rejected
	// request and a crashed handler all look the same.
	ErrNoResponse = errors.New("server closed the connection without a response")
	// ErrDigestMismatch means a GETC payload did not match its digest.
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrNameMismatch means the response names a different file.
	ErrNameMismatch = errors.New("response file name mismatch")
)

// Client holds connection settings. The zero value of every field except
// Addr is usable.
type Client struct {
	// Addr is the server host:port.
	Addr string
	// DialTimeout bounds connection setup; zero means no limit beyond ctx.
	DialTimeout time.Duration
	// Timeout bounds a whole exchange once connected; zero disables it.
	Timeout time.Duration
	// MaxPayload bounds accepted response payloads; <= 0 is unlimited.
	MaxPayload int64
}

// New returns a Client for host and port.
func New(host string, port int) *Client {
	return &Client{
		Addr:        net.JoinHostPort(host, fmt.Sprint(port)),
		DialTimeout: 10 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// Get fetches name. With checksum set it sends GETC and verifies the
// returned digest before returning the payload.
func (c *Client) Get(ctx context.Context, name string, checksum bool) (*protocol.Response, error) {
	cmd := protocol.CommandGet
	if checksum {
		cmd = protocol.CommandGetC
	}
	raw, err := protocol.EncodeRequest(&protocol.Request{Command: cmd, FileName: name})
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("send %s request: %w", cmd, err)
	}

	resp, err := protocol.ReadResponse(bufio.NewReaderSize(conn, protocol.MaxLineLength), checksum, c.MaxPayload)
	if err != nil {
		if errors.Is(err, io.EOF) || isReset(err) {
			return nil, fmt.Errorf("%s %s: %w", cmd, name, ErrNoResponse)
		}
		return nil, fmt.Errorf("%s %s: %w", cmd, name, err)
	}
	if resp.FileName != name {
		return nil, fmt.Errorf("%w: requested %q, got %q", ErrNameMismatch, name, resp.FileName)
	}
	if checksum && !integrity.Verify(resp.Digest, resp.Payload) {
		return nil, fmt.Errorf("%w: %s: received %s, computed %s", ErrDigestMismatch, name, resp.Digest, integrity.Digest(resp.Payload))
	}
	return resp, nil
}

// Put stores data under name, as PUTC when checksum is set. The server
// never answers a write, so Put half-closes its side and returns once the
// server has closed the connection. A nil error therefore means the request
// was delivered and processed, not that it was accepted.
func (c *Client) Put(ctx context.Context, name string, data []byte, checksum bool) error {
	cmd := protocol.CommandPut
	if checksum {
		cmd = protocol.CommandPutC
	}
	raw, err := protocol.EncodeRequest(&protocol.Request{Command: cmd, FileName: name, Payload: data})
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(raw); err != nil {
		return fmt.Errorf("send %s request: %w", cmd, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return fmt.Errorf("close write side: %w", err)
		}
	}

	if _, err := io.Copy(io.Discard, conn); err != nil && !isReset(err) {
		return fmt.Errorf("wait for %s completion: %w", cmd, err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.Addr == "" {
		return nil, errors.New("server address is required")
	}
	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.Addr, err)
	}

	deadline, ok := ctx.Deadline()
	if c.Timeout > 0 {
		if limit := time.Now().Add(c.Timeout); !ok || limit.Before(deadline) {
			deadline, ok = limit, true
		}
	}
	if ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
