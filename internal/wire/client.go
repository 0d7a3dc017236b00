package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/stratawm/strata/internal/proto"
)

// Client is a minimal protocol client: dial, handshake, then requests. Events
// arriving between a request and its response are buffered and read later
// with NextEvent. Not safe for concurrent use.
type Client struct {
	conn    *Conn
	pending []proto.Event
}

func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: NewConn(conn)}
}

// Handshake negotiates the protocol version and must be the first call.
func (c *Client) Handshake() error {
	resp, err := c.Request(proto.Handshake{Version: proto.Version})
	if err != nil {
		return err
	}
	if e, ok := resp.(proto.Err); ok {
		return &e.Err
	}
	return nil
}

// Request sends one request and waits for its response.
func (c *Client) Request(req proto.Request) (proto.Response, error) {
	data, err := proto.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Write(data); err != nil {
		return nil, err
	}

	for {
		payload, err := c.conn.Read()
		if err != nil {
			return nil, closedErr(err)
		}

		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("wire: unrecognized frame: %w", err)
		}

		switch env.Type {
		case "ok", "output_config_result", "err":
			return proto.DecodeResponse(payload)
		default:
			event, err := proto.DecodeEvent(payload)
			if err != nil {
				return nil, err
			}
			c.pending = append(c.pending, event)
		}
	}
}

// NextEvent returns the next event, reading from the connection once
// buffered events run out.
func (c *Client) NextEvent() (proto.Event, error) {
	if len(c.pending) > 0 {
		event := c.pending[0]
		c.pending = c.pending[1:]
		return event, nil
	}

	payload, err := c.conn.Read()
	if err != nil {
		return nil, closedErr(err)
	}
	return proto.DecodeEvent(payload)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// closedErr maps a dead connection to the protocol's connection-closed error
// so callers can match on the kind.
func closedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return proto.NewError(proto.ErrConnectionClosed, "connection closed: %s", err)
	}
	return err
}
