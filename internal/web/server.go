// Package web provides the HTTP API and status pages for the tank monitor.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/tank-monitor/internal/logger"
	"github.com/sweeney/tank-monitor/internal/monitor"
)

// Websocket streams set their own deadlines on every read and write, which
// replaces the ones these timeouts put on the connection before the upgrade.
const (
	maxHeaderBytes    = 1 << 20
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server serves the API and status pages over HTTP.
type Server struct {
	httpServer *http.Server
	handler    *Handler
}

// New creates a Server backed by the given service.
func New(addr string, svc *monitor.Service, log *logger.Logger) *Server {
	h := NewHandler(svc, log)
	return &Server{
		handler: h,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h.InitRoutes(),
			MaxHeaderBytes:    maxHeaderBytes,
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Open websocket streams are
// hijacked and not tracked by http.Server, so they are ended first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.handler.Close()
	return s.httpServer.Shutdown(ctx)
}
