package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/asyncexec/dlq"
	"github.com/xraph/asyncexec/engine"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/store"
)

var (
	requeueRetries int
	purgeOlderThan time.Duration
)

var deadLetterCmd = &cobra.Command{
	Use:     "deadletter",
	Aliases: []string{"dlq"},
	Short:   "Inspect, requeue and purge dead-letter jobs",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listJobs(cmd.Context(), job.KindDeadLetter)
	},
}

var deadLetterRequeueCmd = &cobra.Command{
	Use:   "requeue <job-id>...",
	Short: "Move dead-letter jobs back to the executable collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		retries := requeueRetries
		if !cmd.Flags().Changed("retries") {
			retries = cfg.DefaultRetries
		}

		s, svc, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, arg := range args {
			jobID, err := id.ParseJobID(arg)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", arg, err)
			}
			if _, err := svc.Requeue(ctx, jobID, retries); err != nil {
				return fmt.Errorf("requeue %s: %w", jobID, err)
			}
			logger.Info("dead-letter job requeued", slog.String("job_id", jobID.String()), slog.Int("retries", retries))
		}
		return nil
	},
}

var deadLetterPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead-letter jobs older than --older-than",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, svc, err := openDLQ(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := svc.Purge(cmd.Context(), time.Now().Add(-purgeOlderThan))
		if err != nil {
			return err
		}
		logger.Info("dead-letter jobs purged", slog.Int64("count", n))
		return nil
	},
}

// openDLQ opens the store and a dead-letter service backed by an engine
// that is never started.
func openDLQ(cmd *cobra.Command) (store.Store, *dlq.Service, error) {
	s, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(cfg, s, engine.WithLogger(logger))
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, dlq.NewService(s, eng.Manager()), nil
}

func init() {
	addListFlags(deadLetterListCmd)
	deadLetterRequeueCmd.Flags().IntVar(&requeueRetries, "retries", 0, "Retry budget of the requeued job (default: config default_retries)")
	deadLetterPurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 7*24*time.Hour, "Minimum age of purged jobs")

	deadLetterCmd.AddCommand(deadLetterListCmd, deadLetterRequeueCmd, deadLetterPurgeCmd)
	rootCmd.AddCommand(deadLetterCmd)
}
