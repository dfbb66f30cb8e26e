// Package memstore keeps retry records in process memory. It backs tests and
// single-process setups that do not need durability.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// Store is a concurrency-safe in-memory retries.Store.
type Store struct {
	mu      sync.Mutex
	records map[int64]retries.Record
	nextID  int64
	nowFunc func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: map[int64]retries.Record{},
		nowFunc: time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

func (s *Store) Insert(ctx context.Context, rec *retries.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.nowFunc()
	rec.ID = s.nextID
	if rec.Status == "" {
		rec.Status = retries.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	cp, err := clone(*rec)
	if err != nil {
		return 0, &retries.StorageError{Op: "insert", Err: err}
	}
	s.records[rec.ID] = cp
	return rec.ID, nil
}

func (s *Store) FindPendingByFingerprint(ctx context.Context, fp string) (*retries.Record, error) {
	if fp == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.sortedIDs() {
		r := s.records[id]
		if retries.IsPending(r) && r.Fingerprint == fp {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) QueryDue(ctx context.Context, f retries.Filter) ([]retries.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := f.Due(s.nowFunc())
	var out []retries.Record
	for _, id := range s.sortedIDs() {
		if r := s.records[id]; due(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*retries.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, retries.ErrNotFound
	}
	return &r, nil
}

func (s *Store) List(ctx context.Context, opts retries.ListOptions) ([]retries.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.sortedIDs()
	out := make([]retries.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		r := s.records[ids[i]]
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		out = append(out, r)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, id int64, p retries.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return retries.ErrNotFound
	}
	if p.ExpectStatus != nil && r.Status != *p.ExpectStatus {
		return retries.ErrStatusMismatch
	}
	r.Apply(p, s.nowFunc())
	s.records[id] = r
	return nil
}

func (s *Store) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// clone deep-copies the JSON-shaped fields so callers can't mutate stored state.
func clone(r retries.Record) (retries.Record, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return r, err
	}
	var out retries.Record
	if err := json.Unmarshal(b, &out); err != nil {
		return r, err
	}
	if r.Body != nil {
		// Re-decode so integers are not widened to float64.
		body, err := json.Marshal(r.Body)
		if err != nil {
			return r, err
		}
		if out.Body, err = retries.DecodeParams(body); err != nil {
			return r, err
		}
	}
	return out, nil
}
