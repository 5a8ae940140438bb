package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveOpts struct {
	listen  string
	baseURL string
}

// serveCmd exports the tree over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tree over HTTP",
	Long: `Serve the tree under ` + server.TreePrefix + ` using the remote protocol, so another
filetree can mount it with the remote driver. Prometheus metrics are exposed
on /metrics unless FILETREE_METRICS_ENABLED is false.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		tree, cfg, logger, err := openTree(cmd, true, filetree.WithRegisterer(reg))
		if err != nil {
			return err
		}
		defer tree.Close()
		defer func() { _ = logger.Sync() }()

		addr := cfg.Addr()
		if serveOpts.listen != "" {
			addr = serveOpts.listen
		}

		srvOpts := []server.Option{server.WithLogger(logger), server.WithBaseURL(serveOpts.baseURL)}
		var gatherer prometheus.Gatherer
		if cfg.MetricsEnabled {
			srvOpts = append(srvOpts, server.WithRegisterer(reg, "filetree"))
			gatherer = reg
		}
		handler := server.NewRouter(server.New(tree.Root, srvOpts...), gatherer)

		httpServer := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			logger.Info("listening", zap.String("addr", addr), zap.String("prefix", server.TreePrefix))
			errc <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	fls := serveCmd.Flags()
	fls.StringVar(&serveOpts.listen, "listen", "", "Listen address (default "+filetree.DefaultListenAddr+")")
	fls.StringVar(&serveOpts.baseURL, "base-url", server.TreePrefix, "Prefix of file URLs reported to clients")
}
