package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

type rowKey struct {
	kind job.Kind
	id   string
}

// rowWrite is the buffered state of one row. job nil means deleted. base
// is the committed version seen when the row was first touched.
type rowWrite struct {
	job  *job.Job
	base uint64
}

type lockWrite struct {
	owner string
	until time.Time
	base  uint64
}

type tx struct {
	store       *Store
	rows        map[rowKey]*rowWrite
	locks       map[string]*lockWrite
	afterCommit []func(ctx context.Context)
	done        bool
}

var _ job.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		store: s,
		rows:  make(map[rowKey]*rowWrite),
		locks: make(map[string]*lockWrite),
	}
}

// current returns this transaction's view of a row and whether it exists.
func (t *tx) current(k rowKey) (*job.Job, bool) {
	if w, ok := t.rows[k]; ok {
		return w.job, w.job != nil
	}
	j, _ := t.store.snapshotRow(k.kind, k.id)
	return j, j != nil
}

// stage records the new state of a row, capturing its base version on
// first touch.
func (t *tx) stage(k rowKey, j *job.Job) {
	if w, ok := t.rows[k]; ok {
		w.job = j
		return
	}
	_, ver := t.store.snapshotRow(k.kind, k.id)
	t.rows[k] = &rowWrite{job: j, base: ver}
}

func checkKind(k job.Kind) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %q", asyncexec.ErrInvalidKind, k)
	}
	return nil
}

func (t *tx) InsertJob(_ context.Context, j *job.Job) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	if j == nil {
		return asyncexec.ErrNilJob
	}
	if err := checkKind(j.Kind); err != nil {
		return err
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	k := rowKey{j.Kind, j.ID.String()}
	if _, exists := t.current(k); exists {
		return asyncexec.ErrJobAlreadyExists
	}
	t.stage(k, j.Clone())
	return nil
}

func (t *tx) UpdateJob(_ context.Context, j *job.Job) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	if j == nil {
		return asyncexec.ErrNilJob
	}
	if err := checkKind(j.Kind); err != nil {
		return err
	}
	k := rowKey{j.Kind, j.ID.String()}
	cur, ok := t.current(k)
	if !ok || cur.Revision != j.Revision {
		return asyncexec.ErrOptimisticLock
	}
	j.Revision++
	t.stage(k, j.Clone())
	return nil
}

func (t *tx) DeleteJob(_ context.Context, j *job.Job) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	if j == nil {
		return asyncexec.ErrNilJob
	}
	if err := checkKind(j.Kind); err != nil {
		return err
	}
	k := rowKey{j.Kind, j.ID.String()}
	cur, ok := t.current(k)
	if !ok || cur.Revision != j.Revision {
		return asyncexec.ErrOptimisticLock
	}
	t.stage(k, nil)
	return nil
}

func (t *tx) GetJob(_ context.Context, kind job.Kind, jobID id.JobID) (*job.Job, error) {
	if t.done {
		return nil, asyncexec.ErrTxDone
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	j, ok := t.current(rowKey{kind, jobID.String()})
	if !ok {
		return nil, asyncexec.ErrJobNotFound
	}
	return j.Clone(), nil
}

// view merges committed rows of one kind with this transaction's writes.
func (t *tx) view(kind job.Kind, q job.Query) []*job.Job {
	rows := t.store.snapshotTable(kind)
	for k, w := range t.rows {
		if k.kind != kind {
			continue
		}
		if w.job == nil {
			delete(rows, k.id)
		} else {
			rows[k.id] = w.job
		}
	}

	out := make([]*job.Job, 0, len(rows))
	for _, j := range rows {
		if q.Match(j) {
			out = append(out, j)
		}
	}
	return out
}

func (t *tx) FindJobs(_ context.Context, kind job.Kind, q job.Query) ([]*job.Job, error) {
	if t.done {
		return nil, asyncexec.ErrTxDone
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	matched := t.view(kind, q)
	sortJobs(matched)
	matched = q.Page(matched)

	result := make([]*job.Job, len(matched))
	for i, j := range matched {
		result[i] = j.Clone()
	}
	return result, nil
}

func (t *tx) CountJobs(_ context.Context, kind job.Kind, q job.Query) (int64, error) {
	if t.done {
		return 0, asyncexec.ErrTxDone
	}
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	return int64(len(t.view(kind, q))), nil
}

// currentLock returns this transaction's view of an instance lock.
func (t *tx) currentLock(pid string) (owner string, until time.Time) {
	if w, ok := t.locks[pid]; ok {
		return w.owner, w.until
	}
	l, _ := t.store.snapshotLock(pid)
	return l.owner, l.until
}

func (t *tx) stageLock(pid, owner string, until time.Time) {
	if w, ok := t.locks[pid]; ok {
		w.owner, w.until = owner, until
		return
	}
	l, _ := t.store.snapshotLock(pid)
	t.locks[pid] = &lockWrite{owner: owner, until: until, base: l.ver}
}

func (t *tx) LockInstance(_ context.Context, processInstanceID, owner string, until, now time.Time) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	cur, curUntil := t.currentLock(processInstanceID)
	if cur != "" && curUntil.After(now) {
		return asyncexec.ErrOptimisticLock
	}
	t.stageLock(processInstanceID, owner, until.UTC())
	return nil
}

func (t *tx) UnlockInstance(_ context.Context, processInstanceID, owner string, until time.Time) error {
	if t.done {
		return asyncexec.ErrTxDone
	}
	if cur, curUntil := t.currentLock(processInstanceID); cur != owner || !curUntil.Equal(until) {
		return nil
	}
	t.stageLock(processInstanceID, "", time.Time{})
	return nil
}

func (t *tx) AfterCommit(fn func(ctx context.Context)) {
	t.afterCommit = append(t.afterCommit, fn)
}
