package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/asyncexec/engine"
	"github.com/xraph/asyncexec/job"
)

// LogHandlerType is the handler type served by the run command. It logs
// the job and succeeds, which is enough to smoke-test a deployment.
const LogHandlerType = "log"

var (
	runMigrate          bool
	runMessageQueueMode bool
	runMetricsAddr      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the acquisition loops and worker pool until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if runMigrate {
			if err := s.Migrate(ctx); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("message-queue-mode") {
			cfg.MessageQueueMode = runMessageQueueMode
		}

		opts := []engine.Option{engine.WithLogger(logger)}
		if runMetricsAddr != "" {
			mp, stopMetrics, err := startMetrics(runMetricsAddr)
			if err != nil {
				return err
			}
			defer func() {
				if err := stopMetrics(context.Background()); err != nil {
					logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
				}
			}()
			opts = append(opts, engine.WithMeterProvider(mp))
		}

		eng, err := engine.New(cfg, s, opts...)
		if err != nil {
			return err
		}
		eng.Register(LogHandlerType, func(ctx context.Context, _ job.Tx, j *job.Job, _ job.VariableScope) error {
			logger.InfoContext(ctx, "job executed",
				slog.String("job_id", j.ID.String()),
				slog.String("process_instance_id", j.ProcessInstanceID),
				slog.String("handler_config", j.HandlerConfig),
			)
			return nil
		})

		if err := eng.Start(ctx); err != nil {
			return err
		}
		logger.Info("executor started",
			slog.String("lock_owner", eng.Config().LockOwner),
			slog.String("store", storeKind),
			slog.Bool("message_queue_mode", cfg.MessageQueueMode),
		)

		<-ctx.Done()
		logger.Info("shutting down")

		// The executor bounds its own wait with ShutdownTimeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
		defer cancel()
		return eng.Shutdown(shutdownCtx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runMigrate, "migrate", false, "Apply migrations before starting")
	runCmd.Flags().BoolVar(&runMessageQueueMode, "message-queue-mode", false, "Only move timers and reset expired locks")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(runCmd)
}
