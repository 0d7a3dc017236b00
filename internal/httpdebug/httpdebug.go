// Package httpdebug serves read-only views of the current snapshot over HTTP
// for humans poking at the daemon with curl.
package httpdebug

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stratawm/strata/internal/broker"
	"github.com/stratawm/strata/internal/build"
	"github.com/stratawm/strata/pkg/chiext"
)

type Server struct {
	broker  *broker.Broker
	address string
}

func NewServer(b *broker.Broker, address string) *Server {
	return &Server{broker: b, address: address}
}

func (s *Server) String() string {
	return "http-debug"
}

func (s *Server) Serve(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chiext.Logger())

	r.Get("/build", s.respond(func(snap *broker.Snapshot) any { return build.Current }))
	r.Get("/state", s.respond(func(snap *broker.Snapshot) any { return snap }))
	r.Get("/outputs", s.respond(func(snap *broker.Snapshot) any { return snap.Outputs }))
	r.Get("/windows", s.respond(func(snap *broker.Snapshot) any { return snap.Windows }))
	r.Get("/workspaces", s.respond(func(snap *broker.Snapshot) any { return snap.Workspaces }))
	r.Get("/layers", s.respond(func(snap *broker.Snapshot) any { return snap.Layers }))

	server := &http.Server{Addr: s.address, Handler: r}

	errC := make(chan error, 1)
	go func() { errC <- server.ListenAndServe() }()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func (s *Server) respond(view func(snap *broker.Snapshot) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(view(s.broker.Snapshot())); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
