package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AltairaLabs/segfetch/internal/coordinator"
	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
	"github.com/AltairaLabs/segfetch/internal/fetch"
	"github.com/AltairaLabs/segfetch/internal/metrics"
	"github.com/AltairaLabs/segfetch/internal/taskqueue"
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
	outDir     = flag.String("out", "", "Directory to write streams to (default: stdout, single stream only)")
	producer   = flag.String("producer", "", "Producer name of a stream to fetch in addition to configured ones")
	stream     = flag.String("stream", "", "Stream name for -producer")
	minSeq     = flag.Int64("min", 0, "First sequence number for -producer")
	maxSeq     = flag.Int64("max", fetch.Unbounded, "Last sequence number for -producer (-1: ask the producer)")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("segfetch v%s\n", appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *producer != "" {
		cfg.Streams = append(cfg.Streams, config.StreamConfig{
			Producer: *producer,
			Stream:   *stream,
			MinSeq:   *minSeq,
			MaxSeq:   *maxSeq,
		})
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level, *debug),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, *configPath, *outDir, logger); err != nil {
		logger.Error("Fetch failed", "error", err)
		os.Exit(1)
	}
}

// logLevel maps the configured level name; -debug wins
func logLevel(name string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// streamOutput pairs a stream's reordering buffer with its destination
type streamOutput struct {
	name   string
	writer *orderedWriter
	closer io.Closer
}

// segmentCounter is the part of the producer client that sizes open-ended streams
type segmentCounter interface {
	SegmentCount(ctx context.Context, producer, stream fetch.Name) (int64, error)
}

// resolveRange asks the producer where an open-ended stream ends. It reports
// false when the range holds no segment. A producer that cannot count leaves
// the range open.
func resolveRange(ctx context.Context, counter segmentCounter, sc config.StreamConfig, producer, stream fetch.Name, logger *slog.Logger) (config.StreamConfig, bool, error) {
	if sc.MaxSeq != fetch.Unbounded {
		return sc, true, nil
	}
	n, err := counter.SegmentCount(ctx, producer, stream)
	switch {
	case status.Code(err) == codes.Unimplemented:
		logger.Warn("Producer cannot tell where the stream ends, fetching until it stops answering",
			"producer", producer.String(),
			"stream", stream.String(),
		)
		return sc, true, nil
	case err != nil:
		return sc, false, fmt.Errorf("failed to size stream %s%s: %w", producer, stream, err)
	}
	if n <= sc.MinSeq {
		return sc, false, nil
	}
	sc.MaxSeq = n - 1
	return sc, true, nil
}

// sizeTimeout bounds asking the producer for a stream's length
func sizeTimeout(dial time.Duration) time.Duration {
	if dial <= 0 {
		return config.DefaultDialTimeout
	}
	return dial
}

// reloadHints re-reads the configuration file and applies its forwarding hint
// mappings. Mappings are added or replaced; ones no longer listed stay.
func reloadHints(path string, hints *coordinator.HintResolver) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	for producer, hint := range cfg.Manager.Hints {
		p, err := fetch.ParseName(producer)
		if err != nil {
			return fmt.Errorf("invalid hint mapping producer: %w", err)
		}
		h, err := fetch.ParseName(hint)
		if err != nil {
			return fmt.Errorf("invalid hint mapping for %s: %w", producer, err)
		}
		hints.Set(p, h)
	}
	return nil
}

func run(cfg *config.Config, configPath, outDir string, logger *slog.Logger) error {
	if len(cfg.Streams) == 0 {
		return errors.New("no streams configured")
	}
	if outDir == "" && len(cfg.Streams) > 1 {
		return errors.New("fetching more than one stream requires -out")
	}

	logger.Info("Starting segfetch",
		"version", appVersion,
		"producer_addr", cfg.Transport.ProducerAddr,
		"streams", len(cfg.Streams),
		"max_parallel_fetches", cfg.Manager.MaxParallelFetches,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Outputs are written only from the queue goroutine and closed after it stops.
	var outputs []*streamOutput
	defer func() {
		for _, o := range outputs {
			if n := o.writer.Buffered(); n > 0 {
				logger.Warn("Segments after a gap were not written", "stream", o.name, "segments", n)
			}
			_ = o.closer.Close()
		}
	}()

	queue := taskqueue.New(0, logger)
	queue.Start()
	defer queue.Stop()

	client, err := transport.Dial(cfg.Transport.ProducerAddr, cfg.Transport.DialTimeout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close producer connection", "error", err)
		}
	}()

	var (
		remaining sync.WaitGroup
		mu        sync.Mutex
		failed    []string
	)

	opts := coordinator.OptionsFromConfig(cfg)
	opts.Transport = client
	opts.Executor = queue
	opts.Observer = collector
	opts.Logger = logger
	opts.OnAbandoned = func(p, s fetch.Name, failures int) {
		mu.Lock()
		failed = append(failed, fmt.Sprintf("%s%s after %d failures", p, s, failures))
		mu.Unlock()
		remaining.Done()
	}
	manager, err := coordinator.NewManager(opts)
	if err != nil {
		return fmt.Errorf("failed to create fetch manager: %w", err)
	}

	for _, sc := range cfg.Streams {
		priority, err := coordinator.ParsePriority(sc.Priority)
		if err != nil {
			return err
		}
		p, err := fetch.ParseName(sc.Producer)
		if err != nil {
			return fmt.Errorf("stream %s%s: %w", sc.Producer, sc.Stream, err)
		}
		s, err := fetch.ParseName(sc.Stream)
		if err != nil {
			return fmt.Errorf("stream %s%s: %w", sc.Producer, sc.Stream, err)
		}
		sizeCtx, cancel := context.WithTimeout(ctx, sizeTimeout(cfg.Transport.DialTimeout))
		sc, ok, err := resolveRange(sizeCtx, client, sc, p, s, logger)
		cancel()
		if err != nil {
			return err
		}
		w, err := openOutput(outDir, p, s)
		if err != nil {
			return err
		}
		out := &streamOutput{name: p.String() + s.String(), writer: newOrderedWriter(w, sc.MinSeq), closer: w}
		outputs = append(outputs, out)
		if !ok {
			logger.Info("Stream has no segments in range",
				"producer", p.String(),
				"stream", s.String(),
				"min_seq", sc.MinSeq,
			)
			continue
		}

		remaining.Add(1)
		_, err = manager.Enqueue(ctx, coordinator.EnqueueRequest{
			Producer:       sc.Producer,
			Stream:         sc.Stream,
			ForwardingHint: sc.Hint,
			MinSeq:         sc.MinSeq,
			MaxSeq:         sc.MaxSeq,
			Priority:       priority,
			OnSegment: func(_, _ fetch.Name, seq int64, payload []byte) {
				if err := out.writer.Add(seq, payload); err != nil {
					logger.Error("Failed to write segment", "seq", seq, "error", err)
				}
			},
			OnFinish: func(p, s fetch.Name) {
				logger.Info("Stream written",
					"producer", p.String(),
					"stream", s.String(),
					"bytes", out.writer.written,
				)
				remaining.Done()
			},
		})
		if err != nil {
			remaining.Done()
			return fmt.Errorf("failed to enqueue %s%s: %w", sc.Producer, sc.Stream, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		manager.Start(gctx)
		return nil
	})

	if configPath != "" {
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			for {
				select {
				case <-hup:
					if err := reloadHints(configPath, manager.Hints()); err != nil {
						logger.Warn("Failed to reload forwarding hints", "error", err)
						continue
					}
					logger.Info("Reloaded forwarding hints, retrying backed-off streams")
					manager.RetryNow()
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

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

	allDone := make(chan struct{})
	go func() {
		remaining.Wait()
		close(allDone)
	}()

	g.Go(func() error {
		select {
		case <-allDone:
			logger.Info("All streams resolved")
			stop()
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	manager.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(failed) > 0 {
		return fmt.Errorf("abandoned streams: %s", strings.Join(failed, "; "))
	}
	select {
	case <-allDone:
		return nil
	default:
		return errors.New("interrupted before all streams finished")
	}
}
