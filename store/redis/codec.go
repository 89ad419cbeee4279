package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// row is the stored form of a job.
type row struct {
	ID                  string     `msgpack:"id"`
	Type                string     `msgpack:"type"`
	HandlerType         string     `msgpack:"handler_type"`
	HandlerConfig       string     `msgpack:"handler_config,omitempty"`
	ExecutionID         string     `msgpack:"execution_id,omitempty"`
	ProcessInstanceID   string     `msgpack:"process_instance_id,omitempty"`
	ProcessDefinitionID string     `msgpack:"process_definition_id,omitempty"`
	ElementID           string     `msgpack:"element_id,omitempty"`
	TenantID            string     `msgpack:"tenant_id,omitempty"`
	DueDate             *time.Time `msgpack:"due_date,omitempty"`
	Retries             int        `msgpack:"retries"`
	Exclusive           bool       `msgpack:"exclusive"`
	LockOwner           string     `msgpack:"lock_owner,omitempty"`
	LockExpiration      *time.Time `msgpack:"lock_expiration,omitempty"`
	ExceptionMessage    string     `msgpack:"exception_message,omitempty"`
	ExceptionStacktrace string     `msgpack:"exception_stacktrace,omitempty"`
	Repeat              string     `msgpack:"repeat,omitempty"`
	EndDate             *time.Time `msgpack:"end_date,omitempty"`
	MaxIterations       int        `msgpack:"max_iterations,omitempty"`
	Revision            int        `msgpack:"revision"`
	CreatedAt           time.Time  `msgpack:"created_at"`
}

// instanceLock is the stored form of a process instance lock.
type instanceLock struct {
	Owner string    `msgpack:"owner"`
	Until time.Time `msgpack:"until"`
}

func encodeJob(j *job.Job) ([]byte, error) {
	return msgpack.Marshal(&row{
		ID:                  j.ID.String(),
		Type:                string(j.Type),
		HandlerType:         j.HandlerType,
		HandlerConfig:       j.HandlerConfig,
		ExecutionID:         j.ExecutionID,
		ProcessInstanceID:   j.ProcessInstanceID,
		ProcessDefinitionID: j.ProcessDefinitionID,
		ElementID:           j.ElementID,
		TenantID:            j.TenantID,
		DueDate:             j.DueDate,
		Retries:             j.Retries,
		Exclusive:           j.Exclusive,
		LockOwner:           j.LockOwner,
		LockExpiration:      j.LockExpiration,
		ExceptionMessage:    j.ExceptionMessage,
		ExceptionStacktrace: j.ExceptionStacktrace,
		Repeat:              j.Repeat,
		EndDate:             j.EndDate,
		MaxIterations:       j.MaxIterations,
		Revision:            j.Revision,
		CreatedAt:           j.CreatedAt,
	})
}

func decodeJob(data []byte, kind job.Kind) (*job.Job, error) {
	var r row
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("asyncexec/redis: decode job: %w", err)
	}
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("asyncexec/redis: parse job id %q: %w", r.ID, err)
	}
	return &job.Job{
		ID:                  jobID,
		Kind:                kind,
		Type:                job.Type(r.Type),
		HandlerType:         r.HandlerType,
		HandlerConfig:       r.HandlerConfig,
		ExecutionID:         r.ExecutionID,
		ProcessInstanceID:   r.ProcessInstanceID,
		ProcessDefinitionID: r.ProcessDefinitionID,
		ElementID:           r.ElementID,
		TenantID:            r.TenantID,
		DueDate:             utc(r.DueDate),
		Retries:             r.Retries,
		Exclusive:           r.Exclusive,
		LockOwner:           r.LockOwner,
		LockExpiration:      utc(r.LockExpiration),
		ExceptionMessage:    r.ExceptionMessage,
		ExceptionStacktrace: r.ExceptionStacktrace,
		Repeat:              r.Repeat,
		EndDate:             utc(r.EndDate),
		MaxIterations:       r.MaxIterations,
		Revision:            r.Revision,
		CreatedAt:           r.CreatedAt.UTC(),
	}, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return job.TimePtr(*t)
}
