// Package wire frames protocol messages over a local reliable byte stream.
// Frames are a 6-byte magic, a little-endian uint32 payload length, then the
// JSON payload. The transport is assumed ordered and non-corrupting; the
// magic and the size limit guard against a client speaking something else
// entirely at the socket.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

var magic = [6]byte{'s', 't', 'r', 'a', 't', 'a'}

// MaxPayload bounds a single frame; nothing in the protocol comes close.
const MaxPayload = 4 << 20

var ErrBadMagic = errors.New("wire: bad frame magic")

// Conn wraps a stream connection with frame reads and mutex-serialized frame
// writes.
type Conn struct {
	writeMu sync.Mutex
	conn    net.Conn
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) Read() ([]byte, error) {
	var header [10]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}
	if [6]byte(header[:6]) != magic {
		return nil, ErrBadMagic
	}

	size := binary.LittleEndian.Uint32(header[6:])
	if size > MaxPayload {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Conn) Write(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit", len(payload))
	}

	header := make([]byte, 10, 10+len(payload))
	copy(header, magic[:])
	binary.LittleEndian.PutUint32(header[6:], uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(append(header, payload...))
	return err
}

// Close closes the underlying connection; a blocked Read returns.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
