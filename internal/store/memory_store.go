package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/encodis/encodis/internal/model"
)

// MemoryStore is an in-memory JobStore used for tests and single-node
// ephemeral runs. Not durable across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[int64]*model.Job
	batches map[string]*model.Batch
	nextID  int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[int64]*model.Job),
		batches: make(map[string]*model.Batch),
	}
}

// NextJobID issues a monotonically increasing job ID.
func (m *MemoryStore) NextJobID(_ context.Context) (int64, error) {
	return atomic.AddInt64(&m.nextID, 1), nil
}

func (m *MemoryStore) CreateJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := job.Clone()
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id int64) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := job.Clone()
	return &cp, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*model.Job, error) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*model.Job
	for _, id := range ids {
		if id <= filter.Cursor {
			continue
		}
		m.mu.RLock()
		job, ok := m.jobs[id]
		var cp model.Job
		if ok {
			cp = job.Clone()
		}
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if cp.Cleared && !filter.IncludeCleared {
			continue
		}
		if filter.Status != "" && cp.Status != filter.Status {
			continue
		}
		if filter.BatchID != "" && cp.BatchID != filter.BatchID {
			continue
		}
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, id int64, fn func(*model.Job) error) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := job.Clone()
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.jobs[id] = &cp
	out := cp.Clone()
	return &out, nil
}

func (m *MemoryStore) ClearFinished(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && !job.Cleared {
			cp := job.Clone()
			cp.Cleared = true
			m.jobs[id] = &cp
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateBatch(_ context.Context, batch *model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *batch
	m.batches[batch.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBatch(_ context.Context, id string) (*model.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBatches(_ context.Context) ([]*model.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateBatch(_ context.Context, id string, fn func(*model.Batch) error) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.batches[id] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) DeleteBatch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ JobStore = (*MemoryStore)(nil)
