// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package sampledb

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when no verdict exists for a digest.
var ErrNotFound = errors.New("verdict not found")

// Store is a keyed verdict store. Put inserts or overwrites the verdict under
// its SHA-256 digest. Implementations must be safe for concurrent use.
type Store interface {
	Put(v Verdict) error
	Get(digest string) (Verdict, error)
	Has(digest string) (bool, error)
}

// MemoryStore keeps verdicts for the lifetime of the process only.
type MemoryStore struct {
	lock     sync.RWMutex
	verdicts map[string]Verdict
}

// MakeMemoryStore returns an empty MemoryStore.
func MakeMemoryStore() *MemoryStore {
	return &MemoryStore{
		verdicts: make(map[string]Verdict),
	}
}

// Put stores a copy of v, replacing any previous verdict for the digest.
func (s *MemoryStore) Put(v Verdict) error {
	if v.Sha256 == "" {
		return errors.New("verdict without digest")
	}
	c := v.Clone()
	c.ID = v.Sha256
	s.lock.Lock()
	s.verdicts[c.Sha256] = c
	s.lock.Unlock()
	return nil
}

// Get returns a copy of the verdict stored for digest.
func (s *MemoryStore) Get(digest string) (Verdict, error) {
	s.lock.RLock()
	v, ok := s.verdicts[digest]
	s.lock.RUnlock()
	if !ok {
		return Verdict{}, ErrNotFound
	}
	return v.Clone(), nil
}

// Has reports whether a verdict is stored for digest.
func (s *MemoryStore) Has(digest string) (bool, error) {
	s.lock.RLock()
	_, ok := s.verdicts[digest]
	s.lock.RUnlock()
	return ok, nil
}

// Len returns the number of stored verdicts.
func (s *MemoryStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.verdicts)
}
