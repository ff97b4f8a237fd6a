package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	loggingpkg "github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/logging"
)

// RegisterHTTPHandler mounts handler on the server for port. Servers start
// with StartHTTPServers.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// StartHTTPServers serves every registered port in the background.
func (s *Service) StartHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
	s.httpServers = nil
}

func (s *Service) stopHTTPServers(ctx context.Context) {
	s.httpServersMu.Lock()
	running := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	for _, srv := range running {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}
