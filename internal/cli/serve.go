package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/crudkit/internal/handlers"
	"github.com/mesh-intelligence/crudkit/internal/metrics"
	"github.com/mesh-intelligence/crudkit/internal/principal"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the Person and Activity endpoints, /healthz and /metrics until
interrupted. In-flight requests are given time to finish on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("listen", "", "listen address (default "+defaultListen+")")
	f.String("sys-user", "", "principal recorded when a request names none (default system)")
	f.String("principal-header", "", "request header carrying the principal (default "+principal.DefaultHeader+")")
	f.Bool("seed", true, "insert the built-in rows into empty tables")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	s := a.settings
	log := clog.FromContext(ctx)

	b, err := a.attach(ctx, s.Seed)
	if err != nil {
		return err
	}
	defer b.Detach()

	rec, err := metrics.New(nil)
	if err != nil {
		return sysErr(fmt.Errorf("metrics: %w", err))
	}
	api, err := handlers.NewServer(handlers.Options{
		Backend:         b,
		Logger:          log,
		Principal:       principal.Provider{Default: s.SysUser},
		PrincipalHeader: s.PrincipalHeader,
		Metrics:         rec,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.Listen)
	if err != nil {
		return sysErr(fmt.Errorf("listen: %w", err))
	}
	srv := &http.Server{
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	addr := ln.Addr().String()
	log.InfoContext(ctx, "listening", "addr", addr)
	if a.listening != nil {
		a.listening(addr)
	}

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return sysErr(fmt.Errorf("serve: %w", err))
	case <-ctx.Done():
	}

	log.InfoContext(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return sysErr(fmt.Errorf("shutdown: %w", err))
	}
	return nil
}
