package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/stratawm/strata/internal/bus"
	"github.com/stratawm/strata/internal/proto"
	"github.com/stratawm/strata/internal/wire"
)

// Session is one connected client. It moves Handshaking -> Active -> Closed;
// everything the client receives flows through one bounded outbound queue so
// responses and events keep the order the broker produced them in.
type Session struct {
	id     string
	broker *Broker
	conn   *wire.Conn
	queue  *bus.Queue[outbound]

	// closing is set when the session shuts its own queue, distinguishing a
	// normal close from an overflow disconnect by the hub.
	closing atomic.Bool
}

func (b *Broker) NewSession(conn net.Conn) *Session {
	return &Session{
		id:     uuid.NewString(),
		broker: b,
		conn:   wire.NewConn(conn),
		queue:  bus.NewQueue[outbound](b.queueCap),
	}
}

func (s *Session) String() string {
	return "session-" + s.id[:8]
}

// Serve reads requests until the client disconnects, the context ends, or a
// connection-fatal error occurs. Pending deliveries for this client die with
// it; other clients are unaffected.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	// Shutdown order matters: close the queue so the writer can finish
	// draining it to the wire, then close the connection.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()
	defer s.conn.Close()
	defer func() { <-writerDone }()
	defer s.closeQueue()

	if err := s.handshake(); err != nil {
		return err
	}

	for {
		payload, err := s.conn.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		req, err := proto.DecodeRequest(payload)
		if err != nil {
			s.push(outbound{resp: proto.NewErr(proto.ErrInvalidRequest, "%s", err)})
			continue
		}

		if err := s.handle(ctx, req); err != nil {
			return err
		}
	}
}

var errShutdown = errors.New("broker is shutting down")

func (s *Session) handle(ctx context.Context, req proto.Request) error {
	switch req := req.(type) {
	case proto.Handshake:
		s.push(outbound{resp: proto.NewErr(proto.ErrInvalidRequest, "handshake already completed")})
	case proto.GetOutputs:
		s.push(outbound{resp: proto.NewOk(s.broker.Snapshot().Outputs)})
	case proto.GetWindows:
		s.push(outbound{resp: proto.NewOk(s.broker.Snapshot().Windows)})
	case proto.GetWorkspaces:
		s.push(outbound{resp: proto.NewOk(s.broker.Snapshot().Workspaces)})
	case proto.GetLayers:
		s.push(outbound{resp: proto.NewOk(s.broker.Snapshot().Layers)})
	case proto.SetOutputConfig:
		if !s.broker.submit(ctx, func() { s.broker.handleSetOutputConfig(ctx, req, s.queue) }) {
			return errShutdown
		}
	case proto.DoAction:
		action := req.Action
		if !s.broker.submit(ctx, func() { s.broker.handleAction(action, s.queue) }) {
			return errShutdown
		}
	case proto.Subscribe:
		if !s.broker.submit(ctx, func() { s.broker.handleSubscribe(s.queue) }) {
			return errShutdown
		}
	default:
		s.push(outbound{resp: proto.NewErr(proto.ErrInvalidRequest, "unhandled request %q", req.RequestName())})
	}
	return nil
}

// handshake requires the client's first message to be a matching-version
// Handshake; anything else closes the session without ever delivering an
// event.
func (s *Session) handshake() error {
	payload, err := s.conn.Read()
	if err != nil {
		return nil
	}

	req, err := proto.DecodeRequest(payload)
	if err != nil {
		s.push(outbound{resp: proto.NewErr(proto.ErrInvalidRequest, "%s", err)})
		return errors.New("handshake: malformed request")
	}

	hs, ok := req.(proto.Handshake)
	if !ok {
		s.push(outbound{resp: proto.NewErr(proto.ErrInvalidRequest, "handshake required before %q", req.RequestName())})
		return errors.New("handshake: out of order request")
	}
	if hs.Version != proto.Version {
		s.push(outbound{resp: proto.NewErr(proto.ErrVersionMismatch, "server speaks version %d, client wants %d", proto.Version, hs.Version)})
		return errors.New("handshake: version mismatch")
	}

	s.push(outbound{resp: proto.NewOk(proto.Handshake{Version: proto.Version})})
	return nil
}

// push enqueues a frame for this client. A full queue means the client is not
// draining even its own responses; treat it like any other backlog overflow.
func (s *Session) push(msg outbound) {
	if !s.queue.TryPush(msg) && !s.closing.Load() {
		s.broker.hub.Unregister(s.queue)
		s.queue.Close()
	}
}

func (s *Session) closeQueue() {
	s.closing.Store(true)
	s.broker.hub.Unregister(s.queue)
	s.queue.Close()
}

// writeLoop drains the outbound queue to the wire. When the queue closes
// underneath it, the hub dropped this subscriber for lagging, and the client
// gets a final backlog-overflow error before the connection dies.
func (s *Session) writeLoop() {
	for msg := range s.queue.C() {
		var data []byte
		var err error
		if msg.resp != nil {
			data, err = proto.EncodeResponse(msg.resp)
		} else {
			data, err = proto.EncodeEvent(msg.event)
		}
		if err != nil {
			slog.Error("Failed to encode frame", "session", s.String(), "error", err)
			continue
		}
		if err := s.conn.Write(data); err != nil {
			s.conn.Close()
			return
		}
	}

	if !s.closing.Load() {
		slog.Warn("Disconnecting lagging subscriber", "session", s.String())
		if data, err := proto.EncodeResponse(proto.NewErr(proto.ErrEventBacklogOverflow, "event queue overflow")); err == nil {
			_ = s.conn.Write(data)
		}
		s.conn.Close()
	}
}
