package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used by embedded hosts and tests.
type MemoryStore struct {
	mu      sync.Mutex
	byKey   map[string]int
	entries []Entry
	clock   func() time.Time
}

type MemoryStoreOption func(*MemoryStore)

func WithMemoryClock(clock func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.clock = clock }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		byKey: map[string]int{},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scopedKey(correlationID, idempotencyKey string) string {
	return correlationID + "\x1f" + idempotencyKey
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) (Entry, bool, error) {
	if err := entry.validate(); err != nil {
		return Entry{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopedKey(entry.CorrelationID, entry.IdempotencyKey)
	if idx, ok := s.byKey[key]; ok {
		return s.entries[idx], false, nil
	}

	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.clock().UTC()
	}
	s.byKey[key] = len(s.entries)
	s.entries = append(s.entries, entry)
	return entry, true, nil
}

func (s *MemoryStore) Lookup(_ context.Context, correlationID, idempotencyKey string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byKey[scopedKey(correlationID, idempotencyKey)]
	if !ok {
		return nil, nil
	}
	entry := s.entries[idx]
	return &entry, nil
}

func (s *MemoryStore) List(_ context.Context, correlationID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	for _, entry := range s.entries {
		if entry.CorrelationID == correlationID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
