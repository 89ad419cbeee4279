package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/asyncexec/job"
)

var (
	listKind              string
	listProcessInstanceID string
	listHandlerType       string
	listTenantID          string
	listLimit             int
	listOffset            int
	listJSON              bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the job collections",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs of one kind",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listJobs(cmd.Context(), job.Kind(listKind))
	},
}

var jobsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count jobs of every kind",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		q := listQuery()
		return s.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
			for _, kind := range job.Kinds {
				n, err := tx.CountJobs(ctx, kind, q)
				if err != nil {
					return err
				}
				fmt.Printf("%-11s %d\n", kind, n)
			}
			return nil
		})
	},
}

func listQuery() job.Query {
	return job.Query{
		ProcessInstanceID: listProcessInstanceID,
		HandlerType:       listHandlerType,
		TenantID:          listTenantID,
		Limit:             listLimit,
		Offset:            listOffset,
	}
}

func listJobs(ctx context.Context, kind job.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q (executable|timer|suspended|deadletter)", kind)
	}
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var jobs []*job.Job
	err = s.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		jobs, err = tx.FindJobs(ctx, kind, listQuery())
		return err
	})
	if err != nil {
		return err
	}

	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	for _, j := range jobs {
		due := "-"
		if j.DueDate != nil {
			due = j.DueDate.Format("2006-01-02T15:04:05Z")
		}
		fmt.Printf("%s  %-10s  handler=%s  pi=%s  due=%s  retries=%d  owner=%q  err=%q\n",
			j.ID, j.Type, j.HandlerType, j.ProcessInstanceID, due, j.Retries, j.LockOwner, j.ExceptionMessage)
	}
	return nil
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&listProcessInstanceID, "process-instance", "", "Filter by process instance ID")
	cmd.Flags().StringVar(&listHandlerType, "handler", "", "Filter by handler type")
	cmd.Flags().StringVar(&listTenantID, "tenant", "", "Filter by tenant ID")
	cmd.Flags().IntVar(&listLimit, "limit", 50, "Max rows")
	cmd.Flags().IntVar(&listOffset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&listJSON, "json", false, "JSON output")
}

func init() {
	jobsListCmd.Flags().StringVar(&listKind, "kind", string(job.KindExecutable), "Collection (executable|timer|suspended|deadletter)")
	addListFlags(jobsListCmd)
	jobsCountCmd.Flags().StringVar(&listProcessInstanceID, "process-instance", "", "Filter by process instance ID")
	jobsCountCmd.Flags().StringVar(&listTenantID, "tenant", "", "Filter by tenant ID")

	jobsCmd.AddCommand(jobsListCmd, jobsCountCmd)
	rootCmd.AddCommand(jobsCmd)
}
