package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/dispatch"
	"github.com/c0smic-Lab/hardware-google-pixel/internal/hint"
	"github.com/c0smic-Lab/hardware-google-pixel/internal/introspect"
	"github.com/c0smic-Lab/hardware-google-pixel/internal/metrics"
	"github.com/c0smic-Lab/hardware-google-pixel/internal/sysfs"
)

func main() {
	var (
		configPath    = pflag.String("config", "/etc/perfmgr/powerhint.json", "Path to the node and hint configuration file.")
		socketPath    = pflag.String("introspect-socket", "/var/run/perfmgr/introspect.sock", "Unix socket for the diagnostic dump endpoint.")
		metricsAddr   = pflag.String("metrics-bind-address", ":8085", "Address for the Prometheus metrics endpoint.")
		pruneInterval = pflag.Duration("prune-interval", time.Minute, "How often expired requests are garbage collected. Zero disables pruning.")
		verbosity     = pflag.Int("v", 0, "Log verbosity level.")
	)
	pflag.Parse()

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.Level = zap.NewAtomicLevelAt(zapcore.Level(-*verbosity))
	zapLog, err := zapConfig.Build()
	if err != nil {
		os.Exit(1)
	}
	defer zapLog.Sync()
	logger := zapr.NewLogger(zapLog).WithName("perfmgr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := hint.ParseConfig(*configPath)
	if err != nil {
		logger.Error(err, "failed to load config")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewRecorder(registry)
	writer := metrics.NewInstrumentedWriter(sysfs.NewWriter(), recorder)

	nodes, err := hint.BuildNodes(cfg, writer, logger)
	if err != nil {
		logger.Error(err, "failed to build nodes")
		os.Exit(1)
	}

	dispatcher := dispatch.NewNodeDispatcher(nodes, dispatch.Options{
		PruneInterval: *pruneInterval,
		Metrics:       recorder,
	}, logger)

	manager, err := hint.NewHintManager(cfg, dispatcher, logger)
	if err != nil {
		logger.Error(err, "failed to build hint manager")
		os.Exit(1)
	}

	introspectServer := introspect.NewServer(*socketPath, dispatcher, manager, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}

	logger.Info("starting",
		"nodes", len(cfg.Nodes),
		"hints", len(manager.Hints()),
		"config", *configPath,
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dispatcher.Start(ctx)
	})
	group.Go(func() error {
		return introspectServer.Start(ctx)
	})
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error(err, "shut down with error")
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}
