package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/models"
)

// Queue 离线队列。同一分区的写操作互斥，读-改-写视为原子操作
type Queue struct {
	logger     *zap.Logger
	store      Store
	maxRecords int

	mu    sync.Mutex
	locks map[models.RecordKind]*sync.Mutex
}

// New 创建队列。maxRecords 为每个分区保留的最大条数，0 表示不限制
func New(store Store, maxRecords int, logger *zap.Logger) *Queue {
	return &Queue{
		logger:     logger,
		store:      store,
		maxRecords: maxRecords,
		locks:      make(map[models.RecordKind]*sync.Mutex),
	}
}

func (q *Queue) lock(kind models.RecordKind) func() {
	q.mu.Lock()
	l, ok := q.locks[kind]
	if !ok {
		l = &sync.Mutex{}
		q.locks[kind] = l
	}
	q.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Enqueue 追加一条记录到对应分区
func (q *Queue) Enqueue(ctx context.Context, kind models.RecordKind, payload any) (models.QueuedRecord, error) {
	if !kind.Valid() {
		return models.QueuedRecord{}, fmt.Errorf("unknown record kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return models.QueuedRecord{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	unlock := q.lock(kind)
	defer unlock()

	rec, err := q.store.Append(ctx, models.QueuedRecord{
		Kind:       kind,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return models.QueuedRecord{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}

	if q.maxRecords > 0 {
		dropped, err := q.store.TrimOldest(ctx, kind, q.maxRecords)
		if err != nil {
			q.logger.Warn("Failed to trim offline queue", zap.String("kind", string(kind)), zap.Error(err))
		} else if dropped > 0 {
			q.logger.Warn("Offline queue full, dropped oldest records",
				zap.String("kind", string(kind)),
				zap.Int("dropped", dropped),
				zap.Int("max_records", q.maxRecords))
		}
	}

	q.logger.Debug("Record queued", zap.String("kind", string(kind)), zap.Int64("id", rec.ID))
	return rec, nil
}

// Drain 返回分区内所有记录（不删除）
func (q *Queue) Drain(ctx context.Context, kind models.RecordKind) ([]models.QueuedRecord, error) {
	unlock := q.lock(kind)
	defer unlock()
	return q.store.ReadAll(ctx, kind)
}

// RemoveUploaded 删除已确认上传的记录，其余记录保持原有顺序
func (q *Queue) RemoveUploaded(ctx context.Context, kind models.RecordKind, uploaded []models.QueuedRecord) error {
	if len(uploaded) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(uploaded))
	for _, rec := range uploaded {
		if rec.Kind != kind {
			return fmt.Errorf("record %d belongs to %q, not %q", rec.ID, rec.Kind, kind)
		}
		ids = append(ids, rec.ID)
	}

	unlock := q.lock(kind)
	defer unlock()
	return q.store.RemoveSubset(ctx, kind, ids)
}

// Count 分区内记录数量
func (q *Queue) Count(ctx context.Context, kind models.RecordKind) (int, error) {
	return q.store.Count(ctx, kind)
}

// Total 所有分区的记录总数
func (q *Queue) Total(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range models.RecordKinds {
		n, err := q.store.Count(ctx, kind)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
