// Package queue 设备本地的离线队列，按记录类型分区，分区内先进先出。
package queue

import (
	"context"

	"github.com/langchou/fieldtrack/internal/models"
)

// Store 队列的持久化后端
type Store interface {
	// Append 追加记录并返回分配的 ID
	Append(ctx context.Context, rec models.QueuedRecord) (models.QueuedRecord, error)
	// ReadAll 按插入顺序返回分区内所有记录
	ReadAll(ctx context.Context, kind models.RecordKind) ([]models.QueuedRecord, error)
	// RemoveSubset 删除分区内指定 ID 的记录
	RemoveSubset(ctx context.Context, kind models.RecordKind, ids []int64) error
	// TrimOldest 只保留最新的 keep 条，返回删除数量
	TrimOldest(ctx context.Context, kind models.RecordKind, keep int) (int, error)
	Count(ctx context.Context, kind models.RecordKind) (int, error)
	Close() error
}
