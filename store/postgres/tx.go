package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// tables maps each job kind to its table.
var tables = map[job.Kind]string{
	job.KindExecutable: "asyncexec_jobs",
	job.KindTimer:      "asyncexec_timer_jobs",
	job.KindSuspended:  "asyncexec_suspended_jobs",
	job.KindDeadLetter: "asyncexec_deadletter_jobs",
}

func tableFor(k job.Kind) (string, error) {
	t, ok := tables[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", asyncexec.ErrInvalidKind, k)
	}
	return t, nil
}

const jobColumns = `id, type, handler_type, handler_config,
	execution_id, process_instance_id, process_definition_id, element_id, tenant_id,
	due_date, retries, exclusive, lock_owner, lock_expiration,
	exception_message, exception_stacktrace,
	repeat, end_date, max_iterations, revision, created_at`

// tx implements job.Tx on a pgx transaction.
type tx struct {
	tx          pgx.Tx
	done        bool
	afterCommit []func(ctx context.Context)
}

func (t *tx) check(j *job.Job) (string, error) {
	if t.done {
		return "", asyncexec.ErrTxDone
	}
	if j == nil {
		return "", asyncexec.ErrNilJob
	}
	return tableFor(j.Kind)
}

// InsertJob implements job.Tx.
func (t *tx) InsertJob(ctx context.Context, j *job.Job) error {
	table, err := t.check(j)
	if err != nil {
		return err
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}

	tag, err := t.tx.Exec(ctx, `
		INSERT INTO `+table+` (`+jobColumns+`) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16,
			$17, $18, $19, $20, $21
		) ON CONFLICT (id) DO NOTHING`,
		j.ID.String(), string(j.Type), j.HandlerType, j.HandlerConfig,
		j.ExecutionID, j.ProcessInstanceID, j.ProcessDefinitionID, j.ElementID, j.TenantID,
		j.DueDate, j.Retries, j.Exclusive, j.LockOwner, j.LockExpiration,
		j.ExceptionMessage, j.ExceptionStacktrace,
		j.Repeat, j.EndDate, j.MaxIterations, j.Revision, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("asyncexec/postgres: insert %s job: %w", j.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return asyncexec.ErrJobAlreadyExists
	}
	return nil
}

// UpdateJob implements job.Tx.
func (t *tx) UpdateJob(ctx context.Context, j *job.Job) error {
	table, err := t.check(j)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE `+table+` SET
			type = $3, handler_type = $4, handler_config = $5,
			execution_id = $6, process_instance_id = $7, process_definition_id = $8,
			element_id = $9, tenant_id = $10,
			due_date = $11, retries = $12, exclusive = $13,
			lock_owner = $14, lock_expiration = $15,
			exception_message = $16, exception_stacktrace = $17,
			repeat = $18, end_date = $19, max_iterations = $20,
			revision = revision + 1
		WHERE id = $1 AND revision = $2`,
		j.ID.String(), j.Revision,
		string(j.Type), j.HandlerType, j.HandlerConfig,
		j.ExecutionID, j.ProcessInstanceID, j.ProcessDefinitionID,
		j.ElementID, j.TenantID,
		j.DueDate, j.Retries, j.Exclusive,
		j.LockOwner, j.LockExpiration,
		j.ExceptionMessage, j.ExceptionStacktrace,
		j.Repeat, j.EndDate, j.MaxIterations,
	)
	if err != nil {
		return fmt.Errorf("asyncexec/postgres: update %s job: %w", j.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return asyncexec.ErrOptimisticLock
	}
	j.Revision++
	return nil
}

// DeleteJob implements job.Tx.
func (t *tx) DeleteJob(ctx context.Context, j *job.Job) error {
	table, err := t.check(j)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`DELETE FROM `+table+` WHERE id = $1 AND revision = $2`,
		j.ID.String(), j.Revision,
	)
	if err != nil {
		return fmt.Errorf("asyncexec/postgres: delete %s job: %w", j.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return asyncexec.ErrOptimisticLock
	}
	return nil
}

// GetJob implements job.Tx.
func (t *tx) GetJob(ctx context.Context, kind job.Kind, jobID id.JobID) (*job.Job, error) {
	if t.done {
		return nil, asyncexec.ErrTxDone
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM `+table+` WHERE id = $1`, jobID.String())
	j, err := scanJob(row, kind)
	if err != nil {
		if isNoRows(err) {
			return nil, asyncexec.ErrJobNotFound
		}
		return nil, fmt.Errorf("asyncexec/postgres: get %s job: %w", kind, err)
	}
	return j, nil
}

// FindJobs implements job.Tx.
func (t *tx) FindJobs(ctx context.Context, kind job.Kind, q job.Query) ([]*job.Job, error) {
	if t.done {
		return nil, asyncexec.ErrTxDone
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	where, args := buildWhere(q)
	var b strings.Builder
	b.WriteString(`SELECT ` + jobColumns + ` FROM ` + table + where)
	b.WriteString(` ORDER BY due_date ASC NULLS FIRST, created_at ASC, id COLLATE "C" ASC`)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("asyncexec/postgres: find %s jobs: %w", kind, err)
	}
	defer rows.Close()

	return collectJobs(rows, kind)
}

// CountJobs implements job.Tx.
func (t *tx) CountJobs(ctx context.Context, kind job.Kind, q job.Query) (int64, error) {
	if t.done {
		return 0, asyncexec.ErrTxDone
	}
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	where, args := buildWhere(q)
	var count int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("asyncexec/postgres: count %s jobs: %w", kind, err)
	}
	return count, nil
}

// LockInstance implements job.Tx. The upsert only replaces a lock that
// expired at now, so a held lock leaves zero rows affected.
func (t *tx) LockInstance(ctx context.Context, processInstanceID, owner string, until, now time.Time) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO asyncexec_instance_locks (process_instance_id, owner, lock_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (process_instance_id) DO UPDATE
			SET owner = EXCLUDED.owner, lock_until = EXCLUDED.lock_until
			WHERE asyncexec_instance_locks.lock_until <= $4`,
		processInstanceID, owner, lockTime(until), now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("asyncexec/postgres: lock instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return asyncexec.ErrOptimisticLock
	}
	return nil
}

// UnlockInstance implements job.Tx.
func (t *tx) UnlockInstance(ctx context.Context, processInstanceID, owner string, until time.Time) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	_, err := t.tx.Exec(ctx,
		`DELETE FROM asyncexec_instance_locks
		WHERE process_instance_id = $1 AND owner = $2 AND lock_until = $3`,
		processInstanceID, owner, lockTime(until),
	)
	if err != nil {
		return fmt.Errorf("asyncexec/postgres: unlock instance: %w", err)
	}
	return nil
}

// lockTime matches the microsecond precision of timestamptz so the until
// written by LockInstance compares equal in UnlockInstance.
func lockTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// AfterCommit implements job.Tx.
func (t *tx) AfterCommit(fn func(ctx context.Context)) {
	t.afterCommit = append(t.afterCommit, fn)
}
