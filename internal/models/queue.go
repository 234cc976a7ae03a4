package models

import (
	"encoding/json"
	"time"
)

// RecordKind 离线队列分区
type RecordKind string

const (
	KindLocation RecordKind = "location"
	KindIncident RecordKind = "incident"
)

// RecordKinds 同步顺序
var RecordKinds = []RecordKind{KindLocation, KindIncident}

// Valid 是否为已知分区
func (k RecordKind) Valid() bool {
	return k == KindLocation || k == KindIncident
}

// QueuedRecord 等待上传的记录，只会整条追加或删除
type QueuedRecord struct {
	ID         int64           `json:"id"`
	Kind       RecordKind      `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}
