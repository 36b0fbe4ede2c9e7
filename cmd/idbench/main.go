package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/memoryengine"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/mysqlengine"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/postgresengine"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert/vmadapters"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/internal/dbconfig"
)

// store is what the benchmark needs from an engine.
type store interface {
	bulkinsert.Persister
	bulkinsert.BlockAllocator
	bulkinsert.MaxIDReader
	CreateSchema(ctx context.Context) error
	TruncateAll(ctx context.Context) error
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "idbench: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runErr := run(ctx, cfg, os.Stdout, os.Stderr); runErr != nil {
		stop()
		os.Exit(1)
	}
}

// run executes the benchmark for every configured strategy and writes the report to stdout.
// Logs go to stderr. Results of successful strategies are reported even if others failed.
func run(ctx context.Context, cfg Config, stdout io.Writer, stderr io.Writer) error {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	metricsCollector := vmadapters.NewMetricsCollector()

	engine, closeStore, err := openStore(ctx, cfg, logger, metricsCollector)
	if err != nil {
		logger.Error("idbench: failed to open store", "engine", cfg.Engine, "error", err.Error())
		return err
	}
	defer closeStore()

	logger.Info("idbench: store opened", "engine", cfg.Engine, "adapter", adapterLabel(cfg))

	if err = prepareStore(ctx, cfg, engine); err != nil {
		logger.Error("idbench: failed to prepare store", "error", err.Error())
		return err
	}

	runner, err := buildRunner(ctx, cfg, engine, logger, metricsCollector)
	if err != nil {
		logger.Error("idbench: failed to build runner", "error", err.Error())
		return err
	}

	results, runErr := runner.RunAll(ctx, cfg.Count, cfg.Strategies...)

	if reportErr := writeReport(stdout, cfg, results, runErr); reportErr != nil {
		return reportErr
	}

	if cfg.Metrics {
		metricsCollector.WritePrometheus(stdout)
	}

	if runErr != nil {
		logger.Error("idbench: benchmark failed", "error", runErr.Error())
	}

	return runErr
}

func openStore(
	ctx context.Context,
	cfg Config,
	logger *slog.Logger,
	metricsCollector bulkinsert.MetricsCollector,
) (store, func(), error) {
	switch cfg.Engine {
	case enginePostgres:
		return openPostgres(ctx, cfg, logger, metricsCollector)

	case engineMySQL:
		db, err := dbconfig.MySQLGorm(ctx, cfg.DSN, cfg.LogLevel <= slog.LevelDebug)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mysql: %w", err)
		}

		closeDB := func() {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		}

		engine, err := mysqlengine.NewEngine(
			db,
			mysqlengine.WithLogger(logger),
			mysqlengine.WithMetrics(metricsCollector),
		)
		if err != nil {
			closeDB()
			return nil, nil, err
		}

		return engine, closeDB, nil

	default:
		engine, err := memoryengine.NewEngine()
		if err != nil {
			return nil, nil, err
		}

		return engine, func() {}, nil
	}
}

func openPostgres(
	ctx context.Context,
	cfg Config,
	logger *slog.Logger,
	metricsCollector bulkinsert.MetricsCollector,
) (store, func(), error) {
	options := []postgresengine.Option{
		postgresengine.WithLogger(logger),
		postgresengine.WithMetrics(metricsCollector),
	}

	switch cfg.Adapter {
	case adapterSQL:
		db, err := dbconfig.PostgresSQLDB(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		closeDB := func() { _ = db.Close() }

		engine, err := postgresengine.NewEngineFromSQLDB(db, options...)
		if err != nil {
			closeDB()
			return nil, nil, err
		}

		return engine, closeDB, nil

	case adapterSQLX:
		db, err := dbconfig.PostgresSQLX(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		closeDB := func() { _ = db.Close() }

		engine, err := postgresengine.NewEngineFromSQLX(db, options...)
		if err != nil {
			closeDB()
			return nil, nil, err
		}

		return engine, closeDB, nil

	default:
		pool, err := dbconfig.PostgresPGXPool(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		engine, err := postgresengine.NewEngineFromPGXPool(pool, options...)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}

		return engine, pool.Close, nil
	}
}

func prepareStore(ctx context.Context, cfg Config, engine store) error {
	if cfg.CreateSchema {
		if err := engine.CreateSchema(ctx); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if cfg.Truncate {
		if err := engine.TruncateAll(ctx); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	return nil
}

func buildRunner(
	ctx context.Context,
	cfg Config,
	engine store,
	logger *slog.Logger,
	metricsCollector bulkinsert.MetricsCollector,
) (*bulkinsert.BenchmarkRunner, error) {
	allocator, err := bulkinsert.NewSequenceAllocator(0)
	if err != nil {
		return nil, err
	}

	// Client ids must start above what earlier runs left in the table.
	maxID, err := engine.MaxID(ctx, bulkinsert.ClientGenerated)
	if err != nil {
		return nil, fmt.Errorf("read max id: %w", err)
	}

	allocator.AdvanceTo(maxID)

	sequence, err := bulkinsert.NewBlockSequence(engine, cfg.AllocationSize)
	if err != nil {
		return nil, err
	}

	executor, err := bulkinsert.NewBatchInsertExecutor(
		engine,
		bulkinsert.WithSequenceAllocator(allocator),
		bulkinsert.WithBlockSequence(sequence),
		bulkinsert.WithPersistTimeout(cfg.PersistTimeout),
		bulkinsert.WithContextualLogger(logger),
		bulkinsert.WithMetrics(metricsCollector),
	)
	if err != nil {
		return nil, err
	}

	return bulkinsert.NewBenchmarkRunner(
		executor,
		bulkinsert.WithRunnerContextualLogger(logger),
		bulkinsert.WithRunnerMetrics(metricsCollector),
	)
}

func adapterLabel(cfg Config) string {
	if cfg.Engine == enginePostgres {
		return cfg.Adapter
	}

	if cfg.Engine == engineMySQL {
		return "gorm"
	}

	return "none"
}
