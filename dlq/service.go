package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// purgePageSize bounds the rows one purge transaction deletes.
const purgePageSize = 100

// ListOpts controls pagination and filtering for dead-letter queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// ProcessInstanceID filters by process instance. Empty means all.
	ProcessInstanceID string
	// HandlerType filters by handler type. Empty means all.
	HandlerType string
	// TenantID filters by tenant. Empty means all.
	TenantID string
}

func (o ListOpts) query() job.Query {
	return job.Query{
		ProcessInstanceID: o.ProcessInstanceID,
		HandlerType:       o.HandlerType,
		TenantID:          o.TenantID,
		Limit:             o.Limit,
		Offset:            o.Offset,
	}
}

// Requeuer moves a dead-letter job back to the executable collection.
// *manager.Manager satisfies it.
type Requeuer interface {
	MoveDeadLetterJobToExecutableJob(ctx context.Context, tx job.Tx, dead *job.Job, retries int) (*job.Job, error)
}

// Service provides dead-letter operations over a job store.
type Service struct {
	store    job.Store
	requeuer Requeuer
}

// NewService creates a dead-letter service.
func NewService(store job.Store, requeuer Requeuer) *Service {
	return &Service{store: store, requeuer: requeuer}
}

// List returns dead-letter jobs matching opts in acquisition order.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*job.Job, error) {
	var jobs []*job.Job
	err := s.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		var err error
		jobs, err = tx.FindJobs(ctx, job.KindDeadLetter, opts.query())
		return err
	})
	return jobs, err
}

// Get returns one dead-letter job or asyncexec.ErrJobNotFound.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j *job.Job
	err := s.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		var err error
		j, err = tx.GetJob(ctx, job.KindDeadLetter, jobID)
		return err
	})
	return j, err
}

// Count returns the number of dead-letter jobs matching opts, ignoring
// Limit and Offset.
func (s *Service) Count(ctx context.Context, opts ListOpts) (int64, error) {
	var n int64
	err := s.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		var err error
		n, err = tx.CountJobs(ctx, job.KindDeadLetter, opts.query())
		return err
	})
	return n, err
}

// Requeue moves a dead-letter job back to the executable collection with
// the given retry budget. It returns asyncexec.ErrJobAlreadyExists if an
// executable row with the same ID is already present.
func (s *Service) Requeue(ctx context.Context, jobID id.JobID, retries int) (*job.Job, error) {
	if retries < 1 {
		return nil, fmt.Errorf("dlq: retries must be at least 1, got %d", retries)
	}
	var requeued *job.Job
	err := s.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
		dead, err := tx.GetJob(ctx, job.KindDeadLetter, jobID)
		if err != nil {
			return err
		}
		requeued, err = s.requeuer.MoveDeadLetterJobToExecutableJob(ctx, tx, dead, retries)
		if err != nil {
			return err
		}
		if requeued == nil {
			return asyncexec.ErrJobAlreadyExists
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return requeued, nil
}

// Purge deletes dead-letter jobs created before the cutoff and returns how
// many were removed.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	offset := 0
	for {
		var (
			deleted int64
			scanned int
		)
		err := s.store.Transact(ctx, func(ctx context.Context, tx job.Tx) error {
			deleted = 0
			page, err := tx.FindJobs(ctx, job.KindDeadLetter, job.Query{Limit: purgePageSize, Offset: offset})
			if err != nil {
				return err
			}
			scanned = len(page)
			for _, j := range page {
				if !j.CreatedAt.Before(before) {
					continue
				}
				if err := tx.DeleteJob(ctx, j); err != nil {
					return fmt.Errorf("delete dead-letter job %s: %w", j.ID, err)
				}
				deleted++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += deleted
		if scanned < purgePageSize {
			return total, nil
		}
		offset += scanned - int(deleted)
	}
}
