package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/encodis/encodis/internal/model"
)

const (
	jobKeyPrefix   = "job:"
	batchKeyPrefix = "batch:"
	jobSeqKey      = "seq:job"
)

// BadgerStore is a durable, embedded JobStore backed by Badger. It keeps the
// same key-prefix-per-record-type layout the rest of the pack uses: one flat
// keyspace, JSON-encoded values, prefix scans for listing.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if absent) a Badger database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) NextJobID(_ context.Context) (int64, error) {
	seq, err := s.db.GetSequence([]byte(jobSeqKey), 1)
	if err != nil {
		return 0, err
	}
	defer func() { _ = seq.Release() }()
	next, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(next) + 1, nil
}

func (s *BadgerStore) CreateJob(_ context.Context, job *model.Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.ID), buf)
	})
}

func (s *BadgerStore) GetJob(_ context.Context, id int64) (*model.Job, error) {
	var out model.Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &out) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) UpdateJob(_ context.Context, id int64, fn func(*model.Job) error) (*model.Job, error) {
	var out model.Job
	key := jobKey(id)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &out) }); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error) {
	var out []*model.Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var job model.Job
			item := it.Item()
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &job) }); err != nil {
				continue
			}
			if job.ID <= filter.Cursor {
				continue
			}
			if job.Cleared && !filter.IncludeCleared {
				continue
			}
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}
			if filter.BatchID != "" && job.BatchID != filter.BatchID {
				continue
			}
			cp := job
			out = append(out, &cp)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ClearFinished(ctx context.Context) (int, error) {
	jobs, err := s.ListJobs(ctx, JobFilter{IncludeCleared: false})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			continue
		}
		if _, err := s.UpdateJob(ctx, j.ID, func(job *model.Job) error {
			job.Cleared = true
			return nil
		}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *BadgerStore) CreateBatch(_ context.Context, batch *model.Batch) error {
	buf, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(batchKey(batch.ID), buf)
	})
}

func (s *BadgerStore) GetBatch(_ context.Context, id string) (*model.Batch, error) {
	var out model.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(batchKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &out) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListBatches(ctx context.Context) ([]*model.Batch, error) {
	var out []*model.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(batchKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var b model.Batch
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &b) }); err != nil {
				continue
			}
			cp := b
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) UpdateBatch(_ context.Context, id string, fn func(*model.Batch) error) (*model.Batch, error) {
	var out model.Batch
	key := batchKey(id)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &out) }); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) DeleteBatch(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(batchKey(id))
	})
}

// jobKey zero-pads the ID so Badger's byte-lexicographic prefix scan visits
// jobs in ascending numeric order.
func jobKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", jobKeyPrefix, id))
}

func batchKey(id string) []byte {
	return append([]byte(batchKeyPrefix), []byte(id)...)
}

var _ JobStore = (*BadgerStore)(nil)
