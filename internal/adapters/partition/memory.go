package partition

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/loanlabel/internal/domain/record"
)

// MemoryStore keeps every partition in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	parts    [][]record.RawRecord
	keyIndex int
	sealed   bool
}

// NewMemoryStore returns a store with n partitions keyed on the field at
// keyIndex.
func NewMemoryStore(n, keyIndex int) *MemoryStore {
	if n < 1 {
		n = 1
	}
	return &MemoryStore{parts: make([][]record.RawRecord, n), keyIndex: keyIndex}
}

func (s *MemoryStore) Add(rec record.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrSealed
	}
	p := Shard(rec.Get(s.keyIndex), len(s.parts))
	s.parts[p] = append(s.parts[p], rec)
	return nil
}

func (s *MemoryStore) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return nil
}

func (s *MemoryStore) Partitions() int { return len(s.parts) }

// Load returns the partition's records. The slice is shared with the store
// and must not be modified.
func (s *MemoryStore) Load(ctx context.Context, p int) ([]record.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.sealed {
		return nil, ErrNotSealed
	}
	if p < 0 || p >= len(s.parts) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPartition, p)
	}
	return s.parts[p], nil
}

func (s *MemoryStore) Len(p int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p < 0 || p >= len(s.parts) {
		return 0
	}
	return len(s.parts[p])
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.parts {
		s.parts[i] = nil
	}
	s.sealed = true
	return nil
}
