package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
	"github.com/AltairaLabs/segfetch/internal/metrics"
	"github.com/AltairaLabs/segfetch/internal/transport"
)

const (
	appVersion      = "0.1.0"
	shutdownTimeout = 2 * time.Second
)

var (
	version    = flag.Bool("version", false, "Print version and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	configPath = flag.String("config", "", "Path to a YAML or TOML configuration file")
	rootDir    = flag.String("root", "", "Directory to serve (overrides transport.root_dir)")
	listenAddr = flag.String("listen", "", "gRPC listen address (overrides transport.listen_addr)")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("segserve v%s\n", appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(cfg, *rootDir, *listenAddr)

	logLevel := slog.LevelInfo
	if *debug || strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("Producer failed", "error", err)
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, root, listen string) {
	if root != "" {
		cfg.Transport.RootDir = root
	}
	if listen != "" {
		cfg.Transport.ListenAddr = listen
	}
}

// serve runs the producer until ctx is canceled
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dir, err := transport.NewDirSource(cfg.Transport.RootDir, cfg.Transport.SegmentSize)
	if err != nil {
		return err
	}
	var source transport.Source = dir
	if cfg.Transport.CacheTTL > 0 {
		cache := transport.NewCachingSource(dir, cfg.Transport.CacheTTL)
		defer cache.Close()
		source = cache
	}

	reg := prometheus.NewRegistry()
	serverMetrics, err := metrics.NewServerMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(serverMetrics.UnaryInterceptor()))
	transport.NewServer(source, logger).Register(grpcServer)

	listenConfig := net.ListenConfig{}
	lis, err := listenConfig.Listen(ctx, "tcp", cfg.Transport.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Transport.ListenAddr, err)
	}

	logger.Info("Starting segserve",
		"version", appVersion,
		"listen_addr", lis.Addr().String(),
		"root_dir", cfg.Transport.RootDir,
		"segment_size", cfg.Transport.SegmentSize,
		"cache_ttl", cfg.Transport.CacheTTL,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	if cfg.Metrics.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", "addr", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
			logger.Info("gRPC server stopped gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("Graceful shutdown timeout, forcing stop")
			grpcServer.Stop()
			<-stopped
		}
		return nil
	})

	return g.Wait()
}
