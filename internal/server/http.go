package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/authority/internal/core/observability/log"
)

const shutdownTimeout = 5 * time.Second

// HTTPServer serves one mux on a listener bound up front, so ":0" addresses
// are known before the first request.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   log.Log
}

func NewHTTPServer(addr string, handler http.Handler, logger log.Log) (*HTTPServer, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &HTTPServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: l,
		logger:   logger,
	}, nil
}

func (s *HTTPServer) Addr() net.Addr { return s.listener.Addr() }

// Start serves until ctx ends, then shuts down gracefully. Hijacked
// websocket connections are not waited for.
func (s *HTTPServer) Start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.Stop()
	})
	s.logger.Info("HTTP server listening", log.String("addr", s.Addr().String()))
}

func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
