// Package memory provides an in-process versioned cache store.
package memory

import (
	"context"
	"sync"
	"time"

	"registry-service/internal/core"
)

type key struct {
	companyID string
	country   core.CountryCode
}

// Store keeps every version of every company in memory. The last element of
// a key's log is the current record.
type Store struct {
	mu     sync.RWMutex
	logs   map[key][]core.CachedRecord
	nextID int64
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		logs: make(map[key][]core.CachedRecord),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) current(k key) (core.CachedRecord, bool) {
	log := s.logs[k]
	if len(log) == 0 {
		return core.CachedRecord{}, false
	}
	return log[len(log)-1], true
}

func (s *Store) FindCurrent(_ context.Context, companyID string, country core.CountryCode) (*core.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.current(key{companyID, country})
	if !ok {
		return nil, nil
	}
	company := rec.Company.Clone()
	return &company, nil
}

func (s *Store) IsFresh(_ context.Context, companyID string, country core.CountryCode, ttl time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.current(key{companyID, country})
	if !ok {
		return false, nil
	}
	return s.now().Sub(rec.FetchedAt) < ttl, nil
}

func (s *Store) Store(_ context.Context, company *core.Company, rawPayload []byte) (*core.CachedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{company.ID, company.CountryCode}
	log := s.logs[k]

	version := 1
	if n := len(log); n > 0 {
		log[n-1].Current = false
		version = log[n-1].Version + 1
	}

	s.nextID++
	rec := core.CachedRecord{
		ID:         s.nextID,
		CompanyID:  company.ID,
		Country:    company.CountryCode,
		Version:    version,
		Current:    true,
		Company:    company.Clone(),
		RawPayload: append([]byte(nil), rawPayload...),
		FetchedAt:  s.now(),
	}
	s.logs[k] = append(log, rec)

	out := cloneRecord(rec)
	return &out, nil
}

func (s *Store) GetHistory(_ context.Context, companyID string, country core.CountryCode) ([]core.CachedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[key{companyID, country}]
	out := make([]core.CachedRecord, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Tombstoned() {
			continue
		}
		out = append(out, cloneRecord(log[i]))
	}
	return out, nil
}

func cloneRecord(rec core.CachedRecord) core.CachedRecord {
	out := rec
	out.Company = rec.Company.Clone()
	out.RawPayload = append([]byte(nil), rec.RawPayload...)
	if rec.DeletedAt != nil {
		at := *rec.DeletedAt
		out.DeletedAt = &at
	}
	return out
}

func (s *Store) TombstoneSuperseded(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for _, log := range s.logs {
		for i := range log {
			rec := &log[i]
			if rec.Current || rec.Tombstoned() || !rec.FetchedAt.Before(before) {
				continue
			}
			rec.DeletedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}
