package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/internal/dbconfig"
)

const (
	defaultCount          = 10000
	defaultStrategy       = "all"
	engineMemory          = "memory"
	enginePostgres        = "postgres"
	engineMySQL           = "mysql"
	adapterPGX            = "pgx"
	adapterSQL            = "sql"
	adapterSQLX           = "sqlx"
	outputText            = "text"
	outputJSON            = "json"
	envDBAdapter          = "DB_ADAPTER"
	strategyAllIdentifier = "all"
)

var errInvalidFlag = errors.New("invalid flag value")

// Config holds all benchmark configuration parameters.
type Config struct {
	Count          int
	Strategies     []bulkinsert.IdentifierStrategy
	Engine         string
	Adapter        string
	DSN            string
	AllocationSize int64
	PersistTimeout time.Duration
	CreateSchema   bool
	Truncate       bool
	Output         string
	LogLevel       slog.Level
	Metrics        bool
}

// parseConfig parses command line flags and the DB_ADAPTER environment variable.
func parseConfig(args []string, getenv func(string) string, errOut io.Writer) (Config, error) {
	flags := flag.NewFlagSet("idbench", flag.ContinueOnError)
	flags.SetOutput(errOut)

	var (
		count          = flags.Int("count", defaultCount, "Number of records persisted per strategy")
		strategy       = flags.String("strategy", defaultStrategy, "Identifier strategy: auto-increment, db-sequence, client-generated or all")
		engine         = flags.String("engine", engineMemory, "Storage engine: memory, postgres or mysql")
		allocationSize = flags.Int64("allocation-size", bulkinsert.DefaultAllocationSize, "Ids reserved per round trip for db-sequence")
		persistTimeout = flags.Duration("persist-timeout", bulkinsert.DefaultPersistTimeout, "Deadline for persisting one batch (0 disables it)")
		dsn            = flags.String("dsn", "", "Database DSN (defaults to BULKINSERT_PG_DSN / BULKINSERT_MYSQL_DSN or a local test database)")
		createSchema   = flags.Bool("create-schema", false, "Create the tables before running")
		truncate       = flags.Bool("truncate", false, "Truncate the tables before running")
		output         = flags.String("output", outputText, "Report format: text or json")
		logLevel       = flags.String("log-level", "info", "Log level: debug, info, warn or error")
		withMetrics    = flags.Bool("metrics", false, "Print the collected metrics in Prometheus format after the report")
	)

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if *count <= 0 {
		return Config{}, fmt.Errorf("%w: count must be positive, got %d", errInvalidFlag, *count)
	}

	if *allocationSize <= 0 {
		return Config{}, fmt.Errorf("%w: allocation-size must be positive, got %d", errInvalidFlag, *allocationSize)
	}

	if *persistTimeout < 0 {
		return Config{}, fmt.Errorf("%w: persist-timeout must not be negative", errInvalidFlag)
	}

	strategies, err := parseStrategies(*strategy)
	if err != nil {
		return Config{}, err
	}

	engineName := strings.ToLower(*engine)
	if engineName != engineMemory && engineName != enginePostgres && engineName != engineMySQL {
		return Config{}, fmt.Errorf("%w: unsupported engine %q", errInvalidFlag, *engine)
	}

	adapter := strings.ToLower(getenv(envDBAdapter))
	if adapter == "" {
		adapter = adapterPGX
	}

	if adapter != adapterPGX && adapter != adapterSQL && adapter != adapterSQLX {
		return Config{}, fmt.Errorf("%w: unsupported %s %q", errInvalidFlag, envDBAdapter, adapter)
	}

	outputFormat := strings.ToLower(*output)
	if outputFormat != outputText && outputFormat != outputJSON {
		return Config{}, fmt.Errorf("%w: unsupported output %q", errInvalidFlag, *output)
	}

	var level slog.Level
	if levelErr := level.UnmarshalText([]byte(*logLevel)); levelErr != nil {
		return Config{}, fmt.Errorf("%w: %w", errInvalidFlag, levelErr)
	}

	return Config{
		Count:          *count,
		Strategies:     strategies,
		Engine:         engineName,
		Adapter:        adapter,
		DSN:            resolveDSN(*dsn, engineName),
		AllocationSize: *allocationSize,
		PersistTimeout: *persistTimeout,
		CreateSchema:   *createSchema,
		Truncate:       *truncate,
		Output:         outputFormat,
		LogLevel:       level,
		Metrics:        *withMetrics,
	}, nil
}

// parseStrategies parses "all" or a comma-separated list of strategy names.
func parseStrategies(value string) ([]bulkinsert.IdentifierStrategy, error) {
	if strings.EqualFold(strings.TrimSpace(value), strategyAllIdentifier) {
		return bulkinsert.AllIdentifierStrategies(), nil
	}

	var strategies []bulkinsert.IdentifierStrategy
	for _, name := range strings.Split(value, ",") {
		strategy, err := bulkinsert.ParseIdentifierStrategy(name)
		if err != nil {
			return nil, err
		}

		strategies = append(strategies, strategy)
	}

	return strategies, nil
}

func resolveDSN(dsn string, engine string) string {
	if dsn != "" {
		return dsn
	}

	switch engine {
	case enginePostgres:
		return dbconfig.PostgresDSN()
	case engineMySQL:
		return dbconfig.MySQLDSN()
	default:
		return ""
	}
}
