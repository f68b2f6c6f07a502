package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/sendguard/observe"
)

// Prune interval bounds for stores without native expiry.
const (
	minPruneInterval = time.Minute
	maxPruneInterval = time.Hour
)

func newServeCommand(rt *runtimeState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the send API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := rt.loadConfig(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				_ = a.Close(context.Background())
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}
			return a.serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// serve runs the HTTP server on ln until ctx is done, then drains and closes
// every component.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	if a.pruner != nil && a.cfg.Store.Retention > 0 {
		go a.pruneLoop(ctx, pruneInterval(a.cfg.Store.Retention))
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "sendguard listening",
			observe.F("addr", ln.Addr().String()),
			observe.F("version", Version),
			observe.F("store", a.cfg.Store.Type),
			observe.F("transport", a.cfg.Transport.Type),
		)
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.logger.Info(shutdownCtx, "sendguard shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}

func (a *app) pruneLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.pruner.Prune(ctx)
			if err != nil {
				a.logger.Warn(ctx, "prune failed", observe.F("error", err))
				continue
			}
			if n > 0 {
				a.logger.Debug(ctx, "pruned idempotency records", observe.F("count", n))
			}
		}
	}
}

// pruneInterval is a tenth of the retention window, clamped.
func pruneInterval(retention time.Duration) time.Duration {
	d := retention / 10
	if d < minPruneInterval {
		return minPruneInterval
	}
	if d > maxPruneInterval {
		return maxPruneInterval
	}
	return d
}
