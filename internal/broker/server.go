package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Server accepts client connections on a unix socket and runs a Session per
// connection.
type Server struct {
	broker     *Broker
	socketPath string
}

func NewServer(b *Broker, socketPath string) *Server {
	return &Server{broker: b, socketPath: socketPath}
}

func (s *Server) String() string {
	return "ipc-server"
}

func (s *Server) Serve(ctx context.Context) error {
	// A previous run may have left the socket behind.
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	defer os.Remove(s.socketPath)
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("Listening for clients", "socket", s.socketPath)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		sess := s.broker.NewSession(conn)
		slog.Debug("Client connected", "session", sess.String())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("Session ended", "session", sess.String(), "error", err)
			}
		}()
	}
}
