package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/docsync/pkg/collab"
	"github.com/vango-dev/docsync/pkg/server"
)

func serveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Long: `Start the HTTP/WebSocket server.

Routes:
  GET /ws/{documentID}   WebSocket sync endpoint
  GET /healthz           health check
  GET /metrics           Prometheus metrics

On SIGINT or SIGTERM the server stops accepting connections and flushes
every open document to the store before exiting.

Examples:
  docsyncd serve
  docsyncd serve --addr=:9000 --store=bolt
  DOCSYNC_STORE_DRIVER=postgres DOCSYNC_STORE_POSTGRES_URL=postgres://... docsyncd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx)
		},
	}

	cmd.Flags().String("addr", "", "Address to listen on (default from config)")
	a.v.BindPFlag("server.address", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	c, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(c, os.Stderr)

	st, err := openStore(ctx, c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close failed", "error", err)
		}
	}()

	rc := c.RegistryConfig()
	rc.Store = st
	rc.Logger = logger
	rc.Metrics = collab.NewMetrics()

	mgr := collab.NewManager(collab.ManagerConfig{RegistryConfig: rc})
	srv := server.New(mgr, c.ServerConfig(), logger)

	logger.Info("docsyncd starting",
		"version", version,
		"store", c.Store.Driver,
		"notify", c.Store.Notify,
		"hydration_policy", c.Hydration.Policy,
		"auth", srv.Authenticator().Enabled())
	return srv.Run(ctx)
}
