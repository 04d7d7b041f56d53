package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Server serves /metrics until its context is canceled.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *logging.Logger
}

// Listen binds addr and prepares a /metrics handler for gatherer. A nil
// gatherer uses the default registry.
func Listen(addr string, gatherer prometheus.Gatherer, logger *logging.Logger) (*Server, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.NewEnvironmentError("metrics listener", err).WithPath(addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		listener: ln,
		logger:   logger.With("component", "metrics"),
	}, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is canceled, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.listener) }()
	s.logger.Info("metrics endpoint listening", "addr", s.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
