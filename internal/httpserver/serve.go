package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andrebq/idbox/internal/logutil"
)

type (
	Config struct {
		Bind string

		ReadTimeout       time.Duration
		WriteTimeout      time.Duration
		ReadHeaderTimeout time.Duration
		IdleTimeout       time.Duration
		ShutdownTimeout   time.Duration
	}
)

// Defaults are shorter than a file server would use, every idbox request
// is a small JSON document.
func Defaults(bind string) Config {
	return Config{
		Bind:              bind,
		ReadTimeout:       time.Second * 30,
		WriteTimeout:      time.Second * 30,
		ReadHeaderTimeout: time.Second * 10,
		IdleTimeout:       time.Minute * 2,
		ShutdownTimeout:   time.Second * 30,
	}
}

// Serve listens on cfg.Bind and serves handler until ctx is done.
func Serve(ctx context.Context, cfg Config, handler http.Handler) error {
	l, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return fmt.Errorf("unable to listen on %v, cause %w", cfg.Bind, err)
	}
	return ServeListener(ctx, cfg, l, handler)
}

// ServeListener is like Serve but takes ownership of an existing listener.
// Every request carries the logger of ctx and gets an access log entry.
func ServeListener(ctx context.Context, cfg Config, l net.Listener, handler http.Handler) error {
	server := http.Server{
		Handler:           logutil.AccessLog(handler),
		Addr:              l.Addr().String(),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return logutil.WithLogger(context.Background(), logutil.GetOrDefault(ctx))
		},
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = time.Minute
	}
	err := make(chan error, 1)
	done := make(chan struct{})
	go serveInBackground(ctx, &server, l, cfg.ShutdownTimeout, err, done)
	<-done
	return <-err
}

func serveInBackground(ctx context.Context, server *http.Server, l net.Listener, grace time.Duration, firstErr chan<- error, done chan<- struct{}) {
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", server.Addr).Logger()
	defer close(done)
	serverCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		defer close(firstErr)
		log.Info().Msg("Starting HTTP server")
		err := server.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			log.Info().Msg("Server closed")
			// shutdown called,
			// ignore the error
			return
		} else if err != nil {
			select {
			case firstErr <- err:
			default:
			}
			return
		}
	}()
	select {
	case <-serverCtx.Done():
	case <-ctx.Done():
		log.Info().Msg("Initiating shutdown process")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), grace)
		defer cancelShutdown()
		server.Shutdown(shutdownCtx)
		log.Info().Msg("Shutdown completed")
	}
}
