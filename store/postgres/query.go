package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// buildWhere renders the filters of q as a WHERE clause with positional
// arguments. The semantics match job.Query.Match.
func buildWhere(q job.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.ProcessInstanceID != "" {
		add("process_instance_id = $%d", q.ProcessInstanceID)
	}
	if q.ExecutionID != "" {
		add("execution_id = $%d", q.ExecutionID)
	}
	if q.HandlerType != "" {
		add("handler_type = $%d", q.HandlerType)
	}
	if q.TenantID != "" {
		add("tenant_id = $%d", q.TenantID)
	}
	if q.DueBefore != nil {
		add("(due_date IS NULL OR due_date <= $%d)", q.DueBefore.UTC())
	}
	if q.AvailableAt != nil {
		add("(lock_expiration IS NULL OR lock_expiration <= $%d)", q.AvailableAt.UTC())
	}
	if q.UnlockedOnly {
		conds = append(conds, "lock_expiration IS NULL")
	}
	if q.LockExpiredBefore != nil {
		add("(lock_expiration IS NOT NULL AND lock_expiration < $%d)", q.LockExpiredBefore.UTC())
	}
	if q.ExclusiveOnly {
		conds = append(conds, "exclusive")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanJob scans a single job row of the given kind.
func scanJob(row pgx.Row, kind job.Kind) (*job.Job, error) {
	var (
		j       job.Job
		idStr   string
		typeStr string
	)
	err := row.Scan(
		&idStr, &typeStr, &j.HandlerType, &j.HandlerConfig,
		&j.ExecutionID, &j.ProcessInstanceID, &j.ProcessDefinitionID, &j.ElementID, &j.TenantID,
		&j.DueDate, &j.Retries, &j.Exclusive, &j.LockOwner, &j.LockExpiration,
		&j.ExceptionMessage, &j.ExceptionStacktrace,
		&j.Repeat, &j.EndDate, &j.MaxIterations, &j.Revision, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("asyncexec/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID
	j.Kind = kind
	j.Type = job.Type(typeStr)
	j.DueDate = utc(j.DueDate)
	j.LockExpiration = utc(j.LockExpiration)
	j.EndDate = utc(j.EndDate)
	j.CreatedAt = j.CreatedAt.UTC()
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows, kind job.Kind) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("asyncexec/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("asyncexec/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return job.TimePtr(*t)
}
