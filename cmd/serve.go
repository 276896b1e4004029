// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/hub"
	"github.com/KASPER94/browser-use-llm/internal/service"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent, recorder and player over a WebSocket",
		Long: `Starts a browser and the agent, then accepts WebSocket clients on /ws.
Clients send tasks and recording or playback commands as JSON messages and
receive agent events as they happen. Prometheus metrics are served on the
configured metrics path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, service.NeedAgent, func(ctx context.Context, cfg *config.Config, c *service.Components, logger *zap.Logger) error {
				srv := cfg.Server()
				if listen != "" {
					srv.ListenAddr = listen
				}
				lis, err := net.Listen("tcp", srv.ListenAddr)
				if err != nil {
					return fmt.Errorf("failed to listen on %s: %w", srv.ListenAddr, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Listening on ws://%s/ws\n", lis.Addr())
				return serve(ctx, lis, srv, c, logger)
			})
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (default from config: server.listen_addr)")
	addBrowserFlags(cmd)
	return cmd
}

// serve runs the hub and the HTTP server until ctx is cancelled or either
// fails.
func serve(ctx context.Context, lis net.Listener, srv config.ServerConfig, c *service.Components, logger *zap.Logger) error {
	logger = logger.Named("server")
	router := service.NewRouter(service.NewController(c, logger), logger)
	h := hub.New(logger, router, hub.WithAllowedOrigins(srv.AllowedOrigins))
	if c.Agent != nil {
		unsubscribe := c.Agent.Observers().Subscribe(h)
		defer unsubscribe()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	if srv.MetricsPath != "" && c.Metrics != nil {
		mux.Handle(srv.MetricsPath, c.Metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server listening.", zap.String("addr", lis.Addr().String()))
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
