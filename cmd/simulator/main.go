package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quantsim/sim-exchange/internal/api"
	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/config"
	"github.com/quantsim/sim-exchange/internal/events"
	"github.com/quantsim/sim-exchange/internal/exchange"
	"github.com/quantsim/sim-exchange/internal/ledger"
	"github.com/quantsim/sim-exchange/internal/logging"
	"github.com/quantsim/sim-exchange/internal/marketdata"
	"github.com/quantsim/sim-exchange/internal/metrics"
	"github.com/quantsim/sim-exchange/internal/risk"
	"github.com/quantsim/sim-exchange/internal/sim"
	"github.com/quantsim/sim-exchange/internal/store"
	"github.com/quantsim/sim-exchange/internal/strategy"
)

func main() {
	configPath := flag.String("config", os.Getenv("SIM_CONFIG"), "path to the YAML config file")
	resume := flag.String("resume", "", "account id to resume from its latest snapshot")
	restore := flag.String("restore", "", "sqlite backup to restore before starting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *restore != "" {
		cfg.Database.Backup.RestoreFrom = *restore
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *resume); err != nil {
		slog.Error("simulator failed", "err", err)
		os.Exit(1)
	}
	slog.Info("simulator stopped")
}

func run(ctx context.Context, cfg config.Config, resumeID string) error {
	// --- Initialize store ---
	st, backups, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", "err", err)
		}
	}()

	cal := cfg.TradingCalendar()
	start, end, err := cfg.BacktestRange()
	if err != nil && cfg.Mode == config.ModeBacktest {
		return err
	}

	// --- Ledger ---
	led, checkpoint, err := openLedger(ctx, cfg, st, resumeID, start)
	if err != nil {
		return err
	}
	acct := led.View().Account
	slog.Info("account ready", "account_id", acct.ID, "total_cash", acct.TotalCash.String())

	// --- Event fan-out ---
	hub := events.NewHub()
	listeners := events.Fanout{hub}
	var kafkaPub *events.KafkaPublisher
	if cfg.Kafka.Enabled() {
		kafkaPub = events.NewKafkaPublisher(cfg.Kafka, slog.Default())
		listeners = append(listeners, kafkaPub)
		slog.Info("kafka event stream enabled", "brokers", cfg.Kafka.Brokers)
	}

	// --- Engine and controller ---
	riskMgr := risk.NewManager(cfg.RiskLimits())
	engine := exchange.New(cfg.EngineConfig(), exchange.Deps{
		Calendar: cal,
		Ledger:   led,
		Risk:     riskMgr,
		Journal:  st,
		Listener: listeners,
		Logger:   slog.Default().With("component", "engine"),
	})
	sessionCfg := sim.Config{SnapshotEvery: cfg.Backtest.SnapshotEvery}
	if checkpoint != nil {
		if err := engine.Resume(ctx, checkpoint.Orders, checkpoint.Trades); err != nil {
			return err
		}
		sessionCfg.LastSnapshotSeq = checkpoint.Snapshot.Seq
	}

	deps := sim.Deps{
		Engine:    engine,
		Calendar:  cal,
		Risk:      riskMgr,
		Snapshots: st,
		Logger:    slog.Default().With("component", "session"),
	}
	symbols := cfg.Backtest.Symbols
	if cfg.Mode == config.ModeBacktest {
		if deps.Bars, err = barSource(cfg, cal, start, end); err != nil {
			return err
		}
	} else {
		deps.Quotes = &marketdata.SyntheticQuotes{Seed: cfg.DataSource.Seed}
	}
	session := sim.New(sessionCfg, deps)

	strat, err := strategy.New(cfg.Strategy.Name, cfg.StrategyOptions())
	if err != nil {
		return err
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"simulator"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", api.NewService(session, engine, st, backups, hub).Routes)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if backups != nil {
		g.Go(func() error { return backups.Run(gctx) })
	}
	g.Go(func() error {
		slog.Info("simulator listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		slog.Info("shutting down simulator...")
		session.Stop()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		var err error
		switch cfg.Mode {
		case config.ModeBacktest:
			err = session.StartBacktest(gctx, start, end, symbols, strat)
		case config.ModeRealtime:
			err = session.StartRealtime(gctx, symbols, strat, cfg.Realtime.Interval)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		// The API keeps serving the finished run until shutdown.
		slog.Info("simulation report", "state", session.State(), "report", session.Report().String())
		return nil
	})

	err = g.Wait()
	if kafkaPub != nil {
		if cerr := kafkaPub.Close(); cerr != nil {
			slog.Warn("close kafka publisher", "err", cerr)
		}
	}
	return err
}

// openStore picks the persistence backend: PostgreSQL when configured, else
// the SQLite file (with backups), else memory. Redis wraps either database.
func openStore(ctx context.Context, cfg config.Config) (store.Store, *store.Backups, error) {
	var st store.Store
	var backups *store.Backups

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case config.DriverSQLite:
		if from := cfg.Database.Backup.RestoreFrom; from != "" {
			b := store.NewBackups(cfg.Database.Path, cfg.BackupConfig(), slog.Default())
			if err := b.Restore(from); err != nil {
				return nil, nil, fmt.Errorf("restore %s: %w", from, err)
			}
			slog.Info("database restored", "from", from)
		}
		sq, err := store.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		st = sq
		backups = store.NewStoreBackups(sq, cfg.BackupConfig(), slog.Default())
		slog.Info("opened SQLite store", "path", cfg.Database.Path)

	default:
		slog.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Database.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Database.RedisURL)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		st = store.NewCachedStore(st, redis.NewClient(opt), cfg.Database.CacheTTL)
		slog.Info("Redis cache enabled")
	}
	return st, backups, nil
}

// openLedger resumes resumeID from its latest snapshot, or opens a new
// account with the configured capital. The checkpoint is nil for a new account.
func openLedger(ctx context.Context, cfg config.Config, st store.Store, resumeID string, start time.Time) (*ledger.Ledger, *sim.Checkpoint, error) {
	if resumeID != "" {
		cp, err := sim.LoadCheckpoint(ctx, st, resumeID)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("resuming account", "account_id", resumeID, "seq", cp.Snapshot.Seq, "at", cp.Snapshot.Timestamp,
			"orders", len(cp.Orders), "trades", len(cp.Trades))
		led, err := ledger.Restore(cp.Snapshot, cfg.LedgerOptions())
		if err != nil {
			return nil, nil, err
		}
		return led, &cp, nil
	}

	id, err := st.CreateAccount(ctx, cfg.InitialCapital(), cfg.Strategy.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("create account: %w", err)
	}
	opened := time.Now()
	if cfg.Mode == config.ModeBacktest {
		opened = start
	}
	led, err := ledger.New(ledger.OpenAccount(id, cfg.InitialCapital(), cfg.Strategy.Name, opened), cfg.LedgerOptions())
	return led, nil, err
}

func barSource(cfg config.Config, cal *calendar.Calendar, start, end time.Time) (sim.BarSource, error) {
	if dir := cfg.DataSource.CSVDir; dir != "" {
		slog.Info("loading bars from csv", "dir", dir)
		return marketdata.NewCSVSource(dir, cal, cfg.DataSource.CacheSize)
	}
	slog.Info("generating synthetic bars", "seed", cfg.DataSource.Seed, "primary", cfg.DataSource.Primary)
	return marketdata.SyntheticBars(cal, cfg.Backtest.Symbols, start, end, cfg.DataSource.Seed), nil
}
