package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

// lockRetention keeps an instance lock key around after it expired so
// crashed owners do not leak keys forever.
const lockRetention = time.Hour

// entry tracks one key touched by a transaction.
type entry struct {
	base   []byte // value when first read; nil when absent
	staged bool
	value  []byte // staged value; nil deletes the key

	kind     job.Kind // set for job rows
	rowID    string
	expireAt time.Time // set for instance locks
}

type tx struct {
	store       *Store
	entries     map[string]*entry
	done        bool
	afterCommit []func(ctx context.Context)
}

func newTx(s *Store) *tx {
	return &tx{store: s, entries: make(map[string]*entry)}
}

// read returns the value of key as this transaction sees it and records
// the committed value on first access.
func (t *tx) read(ctx context.Context, key string) (*entry, []byte, error) {
	if e, ok := t.entries[key]; ok {
		if e.staged {
			return e, e.value, nil
		}
		return e, e.base, nil
	}
	val, err := t.store.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		val, err = nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("asyncexec/redis: get %s: %w", key, err)
	}
	e := &entry{base: val}
	t.entries[key] = e
	return e, val, nil
}

func (t *tx) check(j *job.Job) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	if j == nil {
		return asyncexec.ErrNilJob
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: %q", asyncexec.ErrInvalidKind, j.Kind)
	}
	return nil
}

// current decodes the row of j's key as the transaction sees it.
func (t *tx) current(ctx context.Context, kind job.Kind, rowID string) (*entry, *job.Job, error) {
	e, val, err := t.read(ctx, jobKey(kind, rowID))
	if err != nil || val == nil {
		return e, nil, err
	}
	cur, err := decodeJob(val, kind)
	return e, cur, err
}

func (t *tx) stageJob(e *entry, j *job.Job) error {
	e.kind = j.Kind
	e.rowID = j.ID.String()
	e.staged = true
	data, err := encodeJob(j)
	if err != nil {
		return fmt.Errorf("asyncexec/redis: encode job: %w", err)
	}
	e.value = data
	return nil
}

// InsertJob implements job.Tx.
func (t *tx) InsertJob(ctx context.Context, j *job.Job) error {
	if err := t.check(j); err != nil {
		return err
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	e, cur, err := t.current(ctx, j.Kind, j.ID.String())
	if err != nil {
		return err
	}
	if cur != nil {
		return asyncexec.ErrJobAlreadyExists
	}
	return t.stageJob(e, j)
}

// UpdateJob implements job.Tx.
func (t *tx) UpdateJob(ctx context.Context, j *job.Job) error {
	if err := t.check(j); err != nil {
		return err
	}
	e, cur, err := t.current(ctx, j.Kind, j.ID.String())
	if err != nil {
		return err
	}
	if cur == nil || cur.Revision != j.Revision {
		return asyncexec.ErrOptimisticLock
	}
	next := j.Clone()
	next.Revision++
	if err := t.stageJob(e, next); err != nil {
		return err
	}
	j.Revision++
	return nil
}

// DeleteJob implements job.Tx.
func (t *tx) DeleteJob(ctx context.Context, j *job.Job) error {
	if err := t.check(j); err != nil {
		return err
	}
	e, cur, err := t.current(ctx, j.Kind, j.ID.String())
	if err != nil {
		return err
	}
	if cur == nil || cur.Revision != j.Revision {
		return asyncexec.ErrOptimisticLock
	}
	e.kind = j.Kind
	e.rowID = j.ID.String()
	e.staged = true
	e.value = nil
	return nil
}

// GetJob implements job.Tx.
func (t *tx) GetJob(ctx context.Context, kind job.Kind, jobID id.JobID) (*job.Job, error) {
	if t.done {
		return nil, asyncexec.ErrTxDone
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", asyncexec.ErrInvalidKind, kind)
	}
	_, cur, err := t.current(ctx, kind, jobID.String())
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, asyncexec.ErrJobNotFound
	}
	return cur, nil
}

// view loads every row of kind, overlaid with this transaction's writes.
// Scanned rows are not recorded, so a find alone never causes a conflict.
func (t *tx) view(ctx context.Context, kind job.Kind, q job.Query) ([]*job.Job, error) {
	ids, err := t.store.client.SMembers(ctx, idsKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("asyncexec/redis: list %s ids: %w", kind, err)
	}
	seen := make(map[string]bool, len(ids))
	keys := make([]string, 0, len(ids))
	for _, rowID := range ids {
		seen[rowID] = true
		keys = append(keys, jobKey(kind, rowID))
	}
	for _, e := range t.entries {
		if e.staged && e.kind == kind && !seen[e.rowID] {
			seen[e.rowID] = true
			keys = append(keys, jobKey(kind, e.rowID))
		}
	}

	var values []any
	if len(keys) > 0 {
		values, err = t.store.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("asyncexec/redis: load %s rows: %w", kind, err)
		}
	}

	out := make([]*job.Job, 0, len(keys))
	for i, key := range keys {
		var data []byte
		if e, ok := t.entries[key]; ok {
			data = e.base
			if e.staged {
				data = e.value
			}
		} else if s, ok := values[i].(string); ok {
			data = []byte(s)
		}
		if data == nil {
			continue
		}
		j, err := decodeJob(data, kind)
		if err != nil {
			return nil, err
		}
		if q.Match(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

// FindJobs implements job.Tx.
func (t *tx) FindJobs(ctx context.Context, kind job.Kind, q job.Query) ([]*job.Job, error) {
	if t.done {
		return nil, asyncexec.ErrTxDone
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", asyncexec.ErrInvalidKind, kind)
	}
	jobs, err := t.view(ctx, kind, q)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(a, b int) bool { return job.Less(jobs[a], jobs[b]) })
	return q.Page(jobs), nil
}

// CountJobs implements job.Tx.
func (t *tx) CountJobs(ctx context.Context, kind job.Kind, q job.Query) (int64, error) {
	if t.done {
		return 0, asyncexec.ErrTxDone
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", asyncexec.ErrInvalidKind, kind)
	}
	jobs, err := t.view(ctx, kind, q)
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// LockInstance implements job.Tx.
func (t *tx) LockInstance(ctx context.Context, processInstanceID, owner string, until, now time.Time) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	e, val, err := t.read(ctx, lockKey(processInstanceID))
	if err != nil {
		return err
	}
	if val != nil {
		var cur instanceLock
		if err := msgpack.Unmarshal(val, &cur); err != nil {
			return fmt.Errorf("asyncexec/redis: decode instance lock: %w", err)
		}
		if cur.Until.After(now) {
			return asyncexec.ErrOptimisticLock
		}
	}
	data, err := msgpack.Marshal(&instanceLock{Owner: owner, Until: until.UTC()})
	if err != nil {
		return fmt.Errorf("asyncexec/redis: encode instance lock: %w", err)
	}
	e.staged = true
	e.value = data
	e.expireAt = until.Add(lockRetention)
	return nil
}

// UnlockInstance implements job.Tx.
func (t *tx) UnlockInstance(ctx context.Context, processInstanceID, owner string, until time.Time) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	e, val, err := t.read(ctx, lockKey(processInstanceID))
	if err != nil || val == nil {
		return err
	}
	var cur instanceLock
	if err := msgpack.Unmarshal(val, &cur); err != nil {
		return fmt.Errorf("asyncexec/redis: decode instance lock: %w", err)
	}
	if cur.Owner != owner || !cur.Until.Equal(until) {
		return nil
	}
	e.staged = true
	e.value = nil
	return nil
}

// AfterCommit implements job.Tx.
func (t *tx) AfterCommit(fn func(ctx context.Context)) {
	t.afterCommit = append(t.afterCommit, fn)
}

// commit applies staged writes if no staged key changed since it was
// first read.
func (t *tx) commit(ctx context.Context) error {
	keys := make([]string, 0, len(t.entries))
	for key, e := range t.entries {
		if e.staged {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	err := t.store.client.Watch(ctx, func(rtx *goredis.Tx) error {
		for _, key := range keys {
			cur, err := rtx.Get(ctx, key).Bytes()
			if errors.Is(err, goredis.Nil) {
				cur, err = nil, nil
			}
			if err != nil {
				return fmt.Errorf("asyncexec/redis: validate %s: %w", key, err)
			}
			if !bytes.Equal(cur, t.entries[key].base) || (cur == nil) != (t.entries[key].base == nil) {
				return asyncexec.ErrOptimisticLock
			}
		}

		_, err := rtx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			for _, key := range keys {
				e := t.entries[key]
				switch {
				case e.value == nil:
					p.Del(ctx, key)
					if e.kind != "" {
						p.SRem(ctx, idsKey(e.kind), e.rowID)
					}
				default:
					p.Set(ctx, key, e.value, 0)
					if e.kind != "" {
						p.SAdd(ctx, idsKey(e.kind), e.rowID)
					}
					if !e.expireAt.IsZero() {
						p.ExpireAt(ctx, key, e.expireAt)
					}
				}
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, goredis.TxFailedErr) {
		return asyncexec.ErrOptimisticLock
	}
	return err
}
