package nonce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type memoryEntry struct {
	purpose   string
	issuedAt  time.Time
	expiresAt time.Time
	consumed  atomic.Bool
}

// MemoryStore keeps records in process memory.
//
// The map itself is a sync.Map; the consumed flag of each record is its own
// atomic, so verifying one token never waits on another.
type MemoryStore struct {
	entries sync.Map // id -> *memoryEntry
	size    atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	e := &memoryEntry{
		purpose:   rec.Purpose,
		issuedAt:  rec.IssuedAt,
		expiresAt: rec.ExpiresAt,
	}
	e.consumed.Store(rec.Consumed)

	if _, loaded := s.entries.LoadOrStore(rec.ID, e); loaded {
		return ErrDuplicateID
	}
	s.size.Add(1)
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, id, purpose string, now time.Time) (Result, error) {
	v, ok := s.entries.Load(id)
	if !ok {
		return NotFound, nil
	}
	e := v.(*memoryEntry)

	if e.purpose != purpose {
		return WrongPurpose, nil
	}
	if e.consumed.Load() {
		return AlreadyConsumed, nil
	}
	if now.After(e.expiresAt) {
		return Expired, nil
	}
	if !e.consumed.CompareAndSwap(false, true) {
		return AlreadyConsumed, nil
	}
	return Valid, nil
}

// Lookup returns the stored record for id without consuming it.
func (s *MemoryStore) Lookup(_ context.Context, id string) (Record, bool, error) {
	v, ok := s.entries.Load(id)
	if !ok {
		return Record{}, false, nil
	}
	e := v.(*memoryEntry)
	return Record{
		ID:        id,
		Purpose:   e.purpose,
		IssuedAt:  e.issuedAt,
		ExpiresAt: e.expiresAt,
		Consumed:  e.consumed.Load(),
	}, true, nil
}

// Sweep deletes records that expired before now, consumed or not.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	s.entries.Range(func(key, value any) bool {
		e := value.(*memoryEntry)
		if e.expiresAt.Before(now) {
			if _, loaded := s.entries.LoadAndDelete(key); loaded {
				s.size.Add(-1)
				removed++
			}
		}
		return true
	})
	return removed, nil
}

// Len returns the number of records currently held.
func (s *MemoryStore) Len() int {
	return int(s.size.Load())
}
