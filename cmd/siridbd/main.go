// Command siridbd runs a single SiriDB server process: it loads
// configuration, opens the attached database, and serves the client
// TCP port plus the HTTP status/metrics endpoints until signalled to
// stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	siridb "github.com/siridb/siridb-go"
	"github.com/siridb/siridb-go/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version    = "0.0.0-dev"
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "siridbd",
		Short: "SiriDB server",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to siridb.conf")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := siridb.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := siridb.NewLogger(siridb.ParseLogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	tracerCloser, err := siridb.InitTracer("siridbd", 1.0)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer tracerCloser.Close()

	engine := siridb.NewEngine(cfg.MaxOpenFiles)
	registry := prometheus.NewRegistry()
	metrics := siridb.NewMetrics(registry)

	lookup := siridb.NewLookup(1)
	db := siridb.NewDatabase(cfg.ServerName, siridb.PrecisionSeconds, siridb.DefaultBufferCacheSlots, lookup)
	engine.Attach(db)
	db.Heartbeat = siridb.NewHeartbeatTask(cfg.HeartbeatInterval, 8, engine.DatabasesAsPools, func(ctx context.Context, s *siridb.Server) error {
		return nil
	})
	db.Optimize = siridb.NewOptimizeTask(cfg.OptimizingInterval, 4, db.ShardsDue, func(shard, successor *siridb.Shard) error {
		return nil
	})
	db.Start()
	defer engine.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := &siridb.Dispatcher{DB: db, Metrics: metrics, Query: query.Run}
	tcp := &siridb.TCPServer{
		Addr:       fmt.Sprintf("%s:%d", cfg.BindClientAddress, cfg.ListenClientPort),
		MaxClients: cfg.MaxOpenFiles,
		Handle:     dispatcher.Handle,
		Logger:     logger,
	}

	mux := http.NewServeMux()
	health := &siridb.HealthServer{Engine: engine, Ready: func() bool { return true }}
	mux.Handle("/", health.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindClientAddress, cfg.HTTPStatusPort),
		Handler: mux,
	}

	errs := make(chan error, 2)
	go func() { errs <- tcp.ListenAndServe(ctx) }()
	go func() { errs <- httpSrv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		logger.Error("server exited", zap.Error(err))
		return err
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
		cancel()
		_ = tcp.Close()
		_ = httpSrv.Close()
		return nil
	}
}
