package server

import (
	"log/slog"
	"net/http"
	"time"
)

// Run serves the relay on addr until the listener fails. The timeouts
// cover the REST surface; websocket connections are long-lived and
// manage their own lifecycle.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Handler:           s.Router(),
		Addr:              addr,
		ReadHeaderTimeout: 15 * time.Second,
	}

	slog.Info("relay listening", "addr", addr)
	return srv.ListenAndServe()
}
