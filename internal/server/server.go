// internal/server/server.go
//
// HTTP server with hardened timeouts and a graceful stop.
//
// Production hardening recommends:
//
//   • ReadHeaderTimeout abort slow-loris headers (10 s)
//   • WriteTimeout      cap total response time (30 s)
//   • IdleTimeout       close keep-alives on idle clients (60 s)
//
// Serve ties the listener to a context: when the context ends the server
// drains in-flight requests for up to the grace period and then closes
// whatever is left.

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ShutdownGrace is how long in-flight requests may take after a stop.
const ShutdownGrace = 10 * time.Second

// New constructs an *http.Server with the defaults above.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx ends or the listener fails.  A stop through
// ctx returns nil.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration, log *zap.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server", zap.Duration("grace", grace))
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("graceful shutdown failed, closing", zap.Error(err))
		if cerr := srv.Close(); cerr != nil {
			return cerr
		}
	}
	return nil
}
