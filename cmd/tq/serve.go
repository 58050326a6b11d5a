package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/archive"
	"github.com/alfredjeanlab/traceql/internal/broadcast"
	"github.com/alfredjeanlab/traceql/internal/config"
	"github.com/alfredjeanlab/traceql/internal/events"
	"github.com/alfredjeanlab/traceql/internal/presence"
	"github.com/alfredjeanlab/traceql/internal/server"
	"github.com/alfredjeanlab/traceql/internal/store"
	"github.com/alfredjeanlab/traceql/internal/store/postgres"
	"github.com/alfredjeanlab/traceql/internal/store/sqlite"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the HTTP and gRPC servers",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// Override PersistentPreRunE so we don't create a client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		logger.Info("store opened", "backend", cfg.Backend)

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (TRACEQL_NATS_URL not set)")
		}

		hub := broadcast.NewHub(cfg.StreamBuffer, logger)
		roster := presence.New(presence.WithLogger(logger))
		roster.StartReaper(presence.ReaperConfig{StaleAfter: cfg.ServiceStaleAfter})
		srv := server.New(st, publisher,
			server.WithHub(hub),
			server.WithPresence(roster),
			server.WithLogger(logger),
		)

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.CORSOrigin),
			ReadHeaderTimeout: 10 * time.Second,
		}
		httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			publisher.Close()
			st.Close()
			return err
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start gRPC server unless disabled.
		grpcServer := server.NewGRPCServer(srv)
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				httpServer.Close()
				publisher.Close()
				st.Close()
				return err
			}
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}

		scheduler := startArchive(cfg, st, logger)

		logger.Info("traceql server started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		roster.Stop()

		// Closing the hub ends every live stream so the servers can drain.
		hub.Close()

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return postgres.New(cfg.DatabaseURL)
	case config.BackendSQLite:
		return sqlite.New(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// startArchive starts the archive scheduler when archiving is configured.
// A destination that cannot be created is logged and skipped.
func startArchive(cfg *config.Config, st store.Store, logger *slog.Logger) *archive.Scheduler {
	if !cfg.Archive.Enabled() {
		return nil
	}
	a := cfg.Archive

	var dests []archive.Destination
	if a.Dir != "" {
		dests = append(dests, archive.NewDirDestination(a.Dir))
		logger.Info("archive directory destination enabled", "dir", a.Dir)
	}
	if a.S3Bucket != "" {
		s3Dest, err := archive.NewS3Destination(context.Background(), a.S3Bucket, a.S3Prefix, a.S3Region, a.S3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("archive S3 destination enabled", "bucket", a.S3Bucket, "prefix", a.S3Prefix)
		}
	}
	if len(dests) == 0 {
		return nil
	}

	scheduler, err := archive.NewScheduler(st, dests, a.Interval, logger)
	if err != nil {
		logger.Error("failed to create archive scheduler", "err", err)
		return nil
	}
	scheduler.Start()
	logger.Info("archive scheduler started", "interval", a.Interval)
	return scheduler
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (default ./"+config.DefaultFile+" when present)")
}
