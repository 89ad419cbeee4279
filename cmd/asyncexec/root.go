package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/store"
	"github.com/xraph/asyncexec/store/memory"
	"github.com/xraph/asyncexec/store/postgres"
	"github.com/xraph/asyncexec/store/redis"
)

var (
	configPath string
	storeKind  string
	dsn        string
	logLevel   string

	cfg    asyncexec.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "asyncexec",
	Short:         "Async job executor for process engine jobs.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		loaded, err := asyncexec.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file (ASYNCEXEC_* env vars override it)")
	flags.StringVar(&storeKind, "store", envOr("ASYNCEXEC_STORE", "memory"), "Job store backend (memory|postgres|redis)")
	flags.StringVar(&dsn, "dsn", os.Getenv("ASYNCEXEC_DSN"), "Connection string for the postgres or redis store")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
}

// openStore connects the backend selected by --store.
func openStore(ctx context.Context) (store.Store, error) {
	switch strings.ToLower(storeKind) {
	case "memory":
		return memory.New(), nil
	case "postgres", "postgresql":
		if dsn == "" {
			return nil, fmt.Errorf("--dsn is required for the postgres store")
		}
		return postgres.New(ctx, dsn, postgres.WithLogger(logger))
	case "redis":
		if dsn == "" {
			return nil, fmt.Errorf("--dsn is required for the redis store")
		}
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		return redis.New(goredis.NewClient(opts), redis.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown store %q", storeKind)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
