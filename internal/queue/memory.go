package queue

import (
	"context"
	"sync"

	"github.com/langchou/fieldtrack/internal/models"
)

// MemoryStore 内存队列存储，进程退出即丢失
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[models.RecordKind][]models.QueuedRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[models.RecordKind][]models.QueuedRecord)}
}

func (s *MemoryStore) Append(ctx context.Context, rec models.QueuedRecord) (models.QueuedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records[rec.Kind] = append(s.records[rec.Kind], rec)
	return rec, nil
}

func (s *MemoryStore) ReadAll(ctx context.Context, kind models.RecordKind) ([]models.QueuedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueuedRecord, len(s.records[kind]))
	copy(out, s.records[kind])
	return out, nil
}

func (s *MemoryStore) RemoveSubset(ctx context.Context, kind models.RecordKind, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.records[kind][:0:0]
	for _, rec := range s.records[kind] {
		if _, ok := drop[rec.ID]; !ok {
			kept = append(kept, rec)
		}
	}
	s.records[kind] = kept
	return nil
}

func (s *MemoryStore) TrimOldest(ctx context.Context, kind models.RecordKind, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[kind]
	if len(recs) <= keep {
		return 0, nil
	}
	dropped := len(recs) - keep
	s.records[kind] = append([]models.QueuedRecord(nil), recs[dropped:]...)
	return dropped, nil
}

func (s *MemoryStore) Count(ctx context.Context, kind models.RecordKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[kind]), nil
}

func (s *MemoryStore) Close() error { return nil }
