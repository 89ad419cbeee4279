// Package memory provides an in-memory job store. Transactions buffer
// their writes and validate them optimistically at commit, so concurrent
// transactions race the same way they would against a database: the
// first commit wins and the loser gets asyncexec.ErrOptimisticLock.
//
// Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/id"
	"github.com/xraph/asyncexec/job"
)

var _ job.Store = (*Store)(nil)

// row is a committed job row. ver changes on every committed write so a
// deleted and re-inserted row never looks unchanged to a stale transaction.
type row struct {
	job *job.Job
	ver uint64
}

type instanceLock struct {
	owner string
	until time.Time
	ver   uint64
}

// Store is an in-memory implementation of job.Store.
// Safe for concurrent access.
type Store struct {
	mu     sync.RWMutex
	closed bool
	seq    uint64

	tables map[job.Kind]map[string]row
	locks  map[string]instanceLock
}

// New returns a new empty Store.
func New() *Store {
	tables := make(map[job.Kind]map[string]row, len(job.Kinds))
	for _, k := range job.Kinds {
		tables[k] = make(map[string]row)
	}
	return &Store{
		tables: tables,
		locks:  make(map[string]instanceLock),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return asyncexec.ErrStoreClosed
	}
	return nil
}

// Close makes every later transaction fail with asyncexec.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// Transact implements job.Store.
func (m *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx job.Tx) error) error {
	if err := m.Ping(ctx); err != nil {
		return err
	}

	t := newTx(m)
	err := fn(ctx, t)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		t.done = true
		return err
	}
	if err := m.commit(t); err != nil {
		return err
	}
	for _, f := range t.afterCommit {
		f(ctx)
	}
	return nil
}

// commit validates every touched key against its base version and then
// applies the buffered writes atomically.
func (m *Store) commit(t *tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.done = true

	if m.closed {
		return asyncexec.ErrStoreClosed
	}

	for k, w := range t.rows {
		if m.tables[k.kind][k.id].ver != w.base {
			return asyncexec.ErrOptimisticLock
		}
	}
	for pid, w := range t.locks {
		if m.locks[pid].ver != w.base {
			return asyncexec.ErrOptimisticLock
		}
	}

	for k, w := range t.rows {
		if w.job == nil {
			delete(m.tables[k.kind], k.id)
			continue
		}
		m.seq++
		m.tables[k.kind][k.id] = row{job: w.job, ver: m.seq}
	}
	for pid, w := range t.locks {
		if w.owner == "" {
			delete(m.locks, pid)
			continue
		}
		m.seq++
		m.locks[pid] = instanceLock{owner: w.owner, until: w.until, ver: m.seq}
	}
	return nil
}

// snapshotRow returns the committed row and its version (0 when absent).
func (m *Store) snapshotRow(kind job.Kind, key string) (*job.Job, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tables[kind][key]
	if !ok {
		return nil, 0
	}
	return r.job, r.ver
}

func (m *Store) snapshotLock(pid string) (instanceLock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locks[pid]
	return l, ok
}

// snapshotTable returns the committed rows of one kind.
func (m *Store) snapshotTable(kind job.Kind) map[string]*job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*job.Job, len(m.tables[kind]))
	for k, r := range m.tables[kind] {
		out[k] = r.job
	}
	return out
}

// Len returns the number of committed rows of one kind.
func (m *Store) Len(kind job.Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[kind])
}

// Locate returns the kinds whose collection holds a row with the given ID.
func (m *Store) Locate(jobID id.JobID) []job.Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var kinds []job.Kind
	for _, k := range job.Kinds {
		if _, ok := m.tables[k][jobID.String()]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// sortJobs orders rows the way job.Query results are ordered.
func sortJobs(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool { return job.Less(jobs[i], jobs[k]) })
}
