package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tradewatch/internal/archive"
	"tradewatch/internal/cache"
	"tradewatch/internal/config"
	"tradewatch/internal/domain"
	"tradewatch/internal/engine"
	"tradewatch/internal/observability"
	"tradewatch/internal/publish"
	"tradewatch/internal/storage"
	chstore "tradewatch/internal/storage/clickhouse"
	"tradewatch/internal/storage/memory"
	"tradewatch/internal/storage/migrations"
	pgstore "tradewatch/internal/storage/postgres"
	"tradewatch/internal/transport"
)

func main() {
	sessions := flag.String("sessions", "", "Comma-separated session IDs to watch")
	useMemory := flag.Bool("use-memory", false, "Use in-memory archive storage instead of Postgres/ClickHouse")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sessionIDs := splitList(*sessions)
	if len(sessionIDs) == 0 {
		logger.Fatal("no sessions specified, use --sessions")
	}

	if cfg.App.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info("starting metrics server", zap.String("addr", cfg.App.MetricsAddr))
			if err := http.ListenAndServe(cfg.App.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, recorder, cleanup, err := buildEngineOptions(ctx, cfg, logger, *useMemory)
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer cleanup()

	eng := engine.New(opts)
	if recorder != nil {
		recorder.SetSnapshotFn(eng.Snapshot)
	}

	unsubs := make([]func(), 0, len(sessionIDs))
	for _, id := range sessionIDs {
		id := id
		unsub := eng.Subscribe(id, func(st domain.SessionState) {
			logger.Debug("state updated",
				zap.String("session_id", id),
				zap.Int("trades", len(st.Trades)),
				zap.Int("positions", len(st.Positions)),
				zap.String("status", string(st.Status)))
		})
		unsubs = append(unsubs, unsub)
		logger.Info("watching session", zap.String("session_id", id))
	}

	// Two-signal shutdown: the first starts a graceful teardown, the second
	// (or a timeout) forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))

	done := make(chan struct{})
	go func() {
		for _, unsub := range unsubs {
			unsub()
		}
		eng.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case sig := <-sigCh:
		logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Warn("graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	}
}

// buildEngineOptions wires the transports and every enabled side channel.
// The returned cleanup closes the opened resources in reverse order.
func buildEngineOptions(ctx context.Context, cfg *config.Config, logger *zap.Logger, useMemory bool) (engine.Options, *archive.Recorder, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var candidates []transport.Transport
	if cfg.Server.SocketURL != "" {
		candidates = append(candidates, transport.NewSocketTransport(cfg.Server.SocketURL, nil, logger))
	}
	if cfg.Server.StreamURL != "" {
		candidates = append(candidates, transport.NewStreamTransport(cfg.Server.StreamURL, nil, logger))
	}

	var poll *transport.PollClient
	if cfg.Server.PollURL != "" {
		poll = transport.NewPollClient(cfg.Server.PollURL, logger)
		candidates = append(candidates, transport.NewPollTransport(poll, cfg.Sync.PollInterval))
	}
	if len(candidates) == 0 {
		return engine.Options{}, nil, cleanup, fmt.Errorf("no server endpoints configured")
	}

	opts := engine.Options{
		Candidates:        candidates,
		Poll:              poll,
		MaxAttempts:       cfg.Sync.MaxAttempts,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		Logger:            logger,
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return engine.Options{}, nil, func() {}, fmt.Errorf("ping redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		opts.Cache = cache.New(client, 0, logger)
		logger.Info("snapshot cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Kafka.Enabled {
		pub := publish.New(publish.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		closers = append(closers, func() { pub.Close() })
		opts.Publisher = pub
		logger.Info("event publishing enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	sessionStore, tickStore, storeClosers, err := buildArchiveStores(ctx, cfg, logger, useMemory)
	if err != nil {
		cleanup()
		return engine.Options{}, nil, func() {}, err
	}
	closers = append(closers, storeClosers...)

	var recorder *archive.Recorder
	if sessionStore != nil || tickStore != nil {
		recorder = archive.New(archive.Options{
			Sessions: sessionStore,
			Ticks:    tickStore,
			Logger:   logger,
		})
		recorder.Run(ctx)
		closers = append(closers, recorder.Close)
		opts.Hooks = append(opts.Hooks, recorder.OnEvent)
	}

	return opts, recorder, cleanup, nil
}

// buildArchiveStores opens the configured archive backends.
func buildArchiveStores(ctx context.Context, cfg *config.Config, logger *zap.Logger, useMemory bool) (storage.SessionArchive, storage.TickHistoryStore, []func(), error) {
	if useMemory {
		logger.Info("using in-memory archive storage")
		return memory.NewSessionArchive(), memory.NewTickHistoryStore(), nil, nil
	}

	var (
		sessions storage.SessionArchive
		ticks    storage.TickHistoryStore
		closers  []func()
	)

	if cfg.Postgres.Enabled {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		closers = append(closers, pool.Close)
		sessions = pgstore.NewSessionArchive(pool)
		logger.Info("session archive enabled (postgres)")
	}

	if cfg.Clickhouse.Enabled {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Clickhouse.DSN)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		ticks = chstore.NewTickHistoryStore(conn)
		logger.Info("tick history enabled (clickhouse)")
	}

	return sessions, ticks, closers, nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
