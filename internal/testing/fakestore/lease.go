package fakestore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/giantswarm/ctrlloop/internal/leaderelection"
)

// LeaseStore holds one lease record shared by any number of Locks.
type LeaseStore struct {
	mu sync.Mutex

	record  *leaderelection.Record
	version uint64

	partitioned map[string]bool
	updates     int
}

// NewLeaseStore returns an empty lease store.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{partitioned: make(map[string]bool)}
}

// Lock returns a lock that claims identity.
func (s *LeaseStore) Lock(identity string) *Lock {
	return &Lock{store: s, identity: identity}
}

// Partition makes every operation of identity fail until Heal is called.
func (s *LeaseStore) Partition(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitioned[identity] = true
}

// Heal ends the partition of identity.
func (s *LeaseStore) Heal(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitioned, identity)
}

// Record returns a copy of the stored record, or nil.
func (s *LeaseStore) Record() *leaderelection.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	r := *s.record
	return &r
}

// Updates returns how many writes succeeded.
func (s *LeaseStore) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Lock implements leaderelection.Lock over a LeaseStore.
type Lock struct {
	store    *LeaseStore
	identity string
}

func (l *Lock) Get(ctx context.Context) (*leaderelection.Record, string, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitioned[l.identity] {
		return nil, "", ErrPartitioned
	}
	if s.record == nil {
		return nil, "", leaderelection.ErrNotFound
	}
	r := *s.record
	return &r, strconv.FormatUint(s.version, 10), nil
}

func (l *Lock) Create(ctx context.Context, record leaderelection.Record) (string, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitioned[l.identity] {
		return "", ErrPartitioned
	}
	if s.record != nil {
		return "", leaderelection.ErrConflict
	}
	return s.writeLocked(record), nil
}

func (l *Lock) Update(ctx context.Context, record leaderelection.Record, version string) (string, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitioned[l.identity] {
		return "", ErrPartitioned
	}
	if s.record == nil {
		return "", leaderelection.ErrNotFound
	}
	if version != strconv.FormatUint(s.version, 10) {
		return "", fmt.Errorf("version %s is stale: %w", version, leaderelection.ErrConflict)
	}
	return s.writeLocked(record), nil
}

func (s *LeaseStore) writeLocked(record leaderelection.Record) string {
	s.version++
	s.updates++
	s.record = &record
	return strconv.FormatUint(s.version, 10)
}

func (l *Lock) Identity() string {
	return l.identity
}

func (l *Lock) Describe() string {
	return "fakestore/lease"
}
