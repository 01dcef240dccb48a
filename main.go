package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/livepoll/broadcast"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/db"
	"github.com/danielhkuo/livepoll/hub"
	"github.com/danielhkuo/livepoll/ledger"
	"github.com/danielhkuo/livepoll/metrics"
	"github.com/danielhkuo/livepoll/router"
	"github.com/danielhkuo/livepoll/tally"
	"github.com/danielhkuo/livepoll/voting"
)

func main() {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Server closed")
}

func run(ctx context.Context, cfg cliparse.Config) error {
	logger := slog.Default()

	// Connect to the ledger database
	dbConn, err := db.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		return err
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	votes := ledger.NewSQLLedger(dbConn)

	// Tallies live in Redis when configured so every instance shares them
	var store tally.Store = tally.NewMemoryStore()
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		store = tally.NewRedisStore(rdb)
		slog.Info("Using Redis tally store", "addr", opts.Addr)
	}

	// A memory store starts empty and is always filled from the ledger. A
	// shared Redis store is only rebuilt on request, since a rebuild cannot
	// see votes another instance has committed but not yet counted.
	if rdb == nil || cfg.ReconcileOnStart {
		n, err := tally.RebuildAll(ctx, votes, store)
		if err != nil {
			return err
		}
		slog.Info("Tallies reconciled from ledger", "polls", n)
	}

	h := hub.New(store,
		hub.WithBuffer(cfg.ObserverBuffer),
		hub.WithLogger(logger),
		hub.WithMetrics(m),
	)

	// With Redis, updates travel through Pub/Sub and come back into the hub
	var sink broadcast.Sink = h
	var relay *broadcast.RedisRelay
	if rdb != nil {
		relay = broadcast.NewRedisRelay(rdb, broadcast.DefaultChannel, logger)
		sink = relay
	}
	dispatcher := broadcast.NewDispatcher(sink, cfg.BroadcastQueueSize, logger, m)

	svc := &voting.Service{
		Ledger:      votes,
		Tally:       store,
		Broadcast:   dispatcher,
		MaxAttempts: cfg.VoteMaxAttempts,
		Logger:      logger,
		Metrics:     m,
	}

	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Port),
		Handler: router.NewHandler(router.Deps{
			DB:       dbConn,
			Tally:    store,
			Hub:      h,
			Votes:    svc,
			Config:   cfg,
			Gatherer: reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx, h, nil)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Websocket streams are hijacked and not waited on by Shutdown;
		// closing the hub ends them.
		h.Close()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
