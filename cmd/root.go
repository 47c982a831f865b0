package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/isq/internal/index"
	"github.com/joescharf/isq/internal/logger"
	"github.com/joescharf/isq/internal/output"
	"github.com/joescharf/isq/internal/search"
	"github.com/joescharf/isq/internal/store"
	"github.com/joescharf/isq/internal/telemetry"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui         *output.UI
	dataStore  *store.SQLiteStore
	dataReader store.Reader
	pgStore    *store.PostgresStore
	backend    index.Backend
	engine     *search.Engine
	tel        *telemetry.Telemetry

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "isq",
	Short: "Issue search query engine",
	Long: `isq searches static-analysis issues across a component tree.

It resolves the caller's browse permissions, filters and pages issues from a
search index, computes facets and serves the result over HTTP, MCP or the CLI.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeDeps()
	},
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		_ = closeDeps()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/isq/config.yaml)")
}

func initConfig() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ISQ")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default, rooted at dir.
func setDefaults(dir string) {
	limits := search.DefaultLimits()

	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "isq.db"))
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("postgres.dsn", "")
	viper.SetDefault("index.backend", "sqlite")
	viper.SetDefault("index.path", filepath.Join(dir, "index.db"))
	viper.SetDefault("typesense.url", "http://localhost:8108")
	viper.SetDefault("typesense.api_key", "")
	viper.SetDefault("typesense.collection", "issues")
	viper.SetDefault("search.max_limit", limits.MaxLimit)
	viper.SetDefault("search.default_page_size", limits.DefaultPageSize)
	viper.SetDefault("search.facet_size", limits.FacetSize)
	viper.SetDefault("search.timeout", limits.Timeout)
	viper.SetDefault("port", 9000)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.headers", "")
	viper.SetDefault("otel.service_name", "isq")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	logger.Setup(logger.Config{
		Level:  level,
		Format: viper.GetString("log.format"),
	}, os.Stderr)

	// Store, index and engine are opened lazily so config/version run without them.
}

// setupTelemetry installs OTLP exporters when an endpoint is configured and
// routes slog records through the OTel bridge.
func setupTelemetry(ctx context.Context) error {
	cfg := telemetry.Config{
		Endpoint:       viper.GetString("otel.endpoint"),
		Headers:        viper.GetString("otel.headers"),
		ServiceName:    viper.GetString("otel.service_name"),
		ServiceVersion: buildVersion,
	}
	t, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	if t == nil {
		return nil
	}
	tel = t
	logger.Setup(logger.Config{OTel: true, ServiceName: cfg.ServiceName}, os.Stderr)
	slog.Info("telemetry enabled", "endpoint", cfg.Endpoint)
	return nil
}

// getStore returns the writable SQLite store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getReader returns the store the engine reads from, selected by store.driver.
func getReader(ctx context.Context) (store.Reader, error) {
	if dataReader != nil {
		return dataReader, nil
	}

	switch driver := viper.GetString("store.driver"); driver {
	case "", "sqlite":
		s, err := getStore()
		if err != nil {
			return nil, err
		}
		dataReader = s
	case "postgres":
		dsn := viper.GetString("postgres.dsn")
		if dsn == "" {
			return nil, fmt.Errorf("postgres.dsn is required when store.driver is postgres")
		}
		s, err := store.NewPostgresStore(ctx, store.PostgresConfig{DSN: dsn})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pgStore = s
		dataReader = s
	default:
		return nil, fmt.Errorf("unknown store.driver %q (want sqlite or postgres)", driver)
	}
	return dataReader, nil
}

// getBackend opens the search index selected by index.backend.
func getBackend() (index.Backend, error) {
	if backend != nil {
		return backend, nil
	}

	switch kind := viper.GetString("index.backend"); kind {
	case "", "sqlite":
		path := viper.GetString("index.path")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		x, err := index.NewSQLiteIndex(path)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		backend = x
	case "typesense":
		x, err := index.NewTypesenseIndex(index.TypesenseConfig{
			URL:        viper.GetString("typesense.url"),
			APIKey:     viper.GetString("typesense.api_key"),
			Collection: viper.GetString("typesense.collection"),
		})
		if err != nil {
			return nil, fmt.Errorf("open typesense index: %w", err)
		}
		backend = x
	default:
		return nil, fmt.Errorf("unknown index.backend %q (want sqlite or typesense)", kind)
	}
	return backend, nil
}

// configuredLimits reads the search.* keys.
func configuredLimits() search.Limits {
	return search.Limits{
		MaxLimit:        viper.GetInt("search.max_limit"),
		DefaultPageSize: viper.GetInt("search.default_page_size"),
		FacetSize:       viper.GetInt("search.facet_size"),
		Timeout:         viper.GetDuration("search.timeout"),
	}
}

// getEngine wires the reader, the index backend and the configured limits.
func getEngine(ctx context.Context) (*search.Engine, error) {
	if engine != nil {
		return engine, nil
	}
	r, err := getReader(ctx)
	if err != nil {
		return nil, err
	}
	b, err := getBackend()
	if err != nil {
		return nil, err
	}
	engine = search.NewEngine(r, b, configuredLimits())
	return engine, nil
}

// closeDeps releases whatever was opened. It is idempotent.
func closeDeps() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if backend != nil {
		keep(backend.Close())
		backend = nil
	}
	dataReader = nil
	if pgStore != nil {
		keep(pgStore.Close())
		pgStore = nil
	}
	if dataStore != nil {
		keep(dataStore.Close())
		dataStore = nil
	}
	engine = nil
	if tel != nil {
		keep(tel.Shutdown(context.Background()))
		tel = nil
	}
	return firstErr
}
