// Package httpserv contains HTTP server utilities.
package httpserv

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/bluenviron/mp4pipe/internal/logger"
)

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// WrappedServer is a wrapper around http.Server that provides:
// - net.Listener allocation and closure
// - exit on panic
type WrappedServer struct {
	Network     string
	Address     string
	ReadTimeout time.Duration
	Handler     http.Handler
	Parent      logger.Writer

	ln    net.Listener
	inner *http.Server
}

// Initialize initializes a WrappedServer.
func (s *WrappedServer) Initialize() error {
	if s.ReadTimeout == 0 {
		return fmt.Errorf("invalid ReadTimeout")
	}

	if s.Network == "" {
		s.Network = "tcp"
	}

	var err error
	s.ln, err = net.Listen(s.Network, s.Address)
	if err != nil {
		return err
	}

	s.inner = &http.Server{
		Handler: &handlerRecover{Handler: s.Handler, parent: s.Parent},

		// bodies can be big, only headers are bounded
		ReadHeaderTimeout: s.ReadTimeout,

		ErrorLog: log.New(&nilWriter{}, "", 0),
	}

	go s.inner.Serve(s.ln) //nolint:errcheck

	return nil
}

// Close closes all resources and waits for all routines to return.
func (s *WrappedServer) Close() {
	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	s.inner.Shutdown(ctx) //nolint:errcheck
	s.ln.Close()          // in case Shutdown() is called before Serve()
}

// Addr returns the listener address.
func (s *WrappedServer) Addr() net.Addr {
	return s.ln.Addr()
}
