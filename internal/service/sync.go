package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/connectivity"
	"github.com/langchou/fieldtrack/internal/models"
	"github.com/langchou/fieldtrack/internal/queue"
)

const defaultMaxConsecutiveFailures = 3

// Summary 一次同步的结果
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Discarded 无法解析、永远无法上传的记录
	Discarded int `json:"discarded"`
	Remaining int `json:"remaining"`
	// Aborted 连续失败次数达到上限，提前结束
	Aborted bool `json:"aborted"`
	// Coalesced 已有同步在进行，本次触发被合并
	Coalesced  bool      `json:"coalesced"`
	FinishedAt time.Time `json:"finished_at"`
}

// SyncEngine 把离线队列同步到远端存储
type SyncEngine struct {
	logger       *zap.Logger
	queue        *queue.Queue
	remote       RemoteStore
	monitor      *connectivity.Monitor
	maxFailures  int
	writeTimeout time.Duration

	mu          sync.Mutex
	running     bool
	rerun       bool
	subscribers []chan Summary
}

// NewSyncEngine 创建同步引擎。maxFailures 为连续失败上限，0 使用默认值 3
func NewSyncEngine(logger *zap.Logger, q *queue.Queue, remote RemoteStore, monitor *connectivity.Monitor, maxFailures int) *SyncEngine {
	if maxFailures <= 0 {
		maxFailures = defaultMaxConsecutiveFailures
	}
	return &SyncEngine{
		logger:       logger,
		queue:        q,
		remote:       remote,
		monitor:      monitor,
		maxFailures:  maxFailures,
		writeTimeout: defaultWriteTimeout,
	}
}

// Watch 订阅联网状态，离线恢复在线且队列非空时触发同步。返回取消订阅函数
func (e *SyncEngine) Watch() (unsubscribe func()) {
	return e.monitor.OnChange(func(from, to connectivity.State) {
		if from != connectivity.Offline || to != connectivity.Online {
			return
		}
		go e.syncIfPending()
	})
}

func (e *SyncEngine) syncIfPending() {
	ctx := context.Background()
	pending, err := e.queue.Total(ctx)
	if err != nil {
		e.logger.Error("Failed to count pending records", zap.Error(err))
		return
	}
	if pending == 0 {
		return
	}
	e.logger.Info("Connectivity restored, syncing offline queue", zap.Int("pending", pending))
	if _, err := e.Run(ctx); err != nil {
		e.logger.Warn("Automatic sync incomplete", zap.Error(err))
	}
}

// Run 执行同步。同一时刻只有一个同步在进行，期间的触发会被合并，
// 本轮结束后如果有合并的触发，再执行一轮
func (e *SyncEngine) Run(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	if e.running {
		e.rerun = true
		e.mu.Unlock()
		e.logger.Debug("Sync already running, trigger coalesced")
		return Summary{Coalesced: true}, nil
	}
	e.running = true
	e.rerun = false
	e.mu.Unlock()

	sum, err := e.pass(ctx)
	for e.again(sum, err) {
		next, nextErr := e.pass(ctx)
		next.Succeeded += sum.Succeeded
		next.Discarded += sum.Discarded
		sum, err = next, nextErr
	}

	e.logger.Info("Sync finished",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("discarded", sum.Discarded),
		zap.Int("remaining", sum.Remaining),
		zap.Bool("aborted", sum.Aborted))
	e.notifySubscribers(sum)
	return sum, err
}

// again 决定是否再执行一轮。不再执行时在同一临界区内结束本次同步，
// 保证检查之后到达的触发不会被合并后丢失
func (e *SyncEngine) again(sum Summary, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 触发可能在 Remaining 统计之后才入队，不能用 Remaining 判断
	if e.rerun && err == nil {
		e.rerun = false
		return true
	}
	e.running = false
	e.rerun = false
	return false
}

// pass 按分区顺序同步一轮
func (e *SyncEngine) pass(ctx context.Context) (Summary, error) {
	var sum Summary

	if e.remote == nil || !e.monitor.IsOnline() {
		sum.Aborted = true
		sum.Remaining, _ = e.queue.Total(ctx)
		sum.FinishedAt = time.Now().UTC()
		return sum, ErrRemoteUnreachable
	}

	consecutive := 0
	for _, kind := range models.RecordKinds {
		records, err := e.queue.Drain(ctx, kind)
		if err != nil {
			return sum, fmt.Errorf("drain %s: %w", kind, err)
		}

		done := make([]models.QueuedRecord, 0, len(records))
		uploaded := 0
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				sum.Aborted = true
				break
			}

			err := e.upload(ctx, rec)
			switch {
			case err == nil:
				consecutive = 0
				uploaded++
				done = append(done, rec)
			case isUndecodable(err):
				e.logger.Error("Discarding unreadable queued record",
					zap.String("kind", string(kind)),
					zap.Int64("id", rec.ID),
					zap.Error(err))
				sum.Discarded++
				done = append(done, rec)
			default:
				consecutive++
				sum.Failed++
				e.logger.Warn("Failed to upload queued record",
					zap.String("kind", string(kind)),
					zap.Int64("id", rec.ID),
					zap.Int("consecutive", consecutive),
					zap.Error(err))
			}

			if consecutive >= e.maxFailures {
				sum.Aborted = true
				break
			}
		}

		if err := e.queue.RemoveUploaded(ctx, kind, done); err != nil {
			return sum, fmt.Errorf("remove uploaded %s: %w", kind, err)
		}
		sum.Succeeded += uploaded

		if sum.Aborted {
			break
		}
	}

	remaining, err := e.queue.Total(ctx)
	if err != nil {
		return sum, fmt.Errorf("count remaining: %w", err)
	}
	sum.Remaining = remaining
	sum.FinishedAt = time.Now().UTC()

	if sum.Aborted {
		return sum, ErrRemoteUnreachable
	}
	return sum, nil
}

// undecodableError 队列中的记录无法解析
type undecodableError struct{ err error }

func (e undecodableError) Error() string { return "decode queued record: " + e.err.Error() }
func (e undecodableError) Unwrap() error { return e.err }

func isUndecodable(err error) bool {
	_, ok := err.(undecodableError)
	return ok
}

// upload 上传单条记录，远端按 ID 去重，重复上传是安全的
func (e *SyncEngine) upload(ctx context.Context, rec models.QueuedRecord) error {
	wctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	switch rec.Kind {
	case models.KindLocation:
		var loc models.LocationRecord
		if err := json.Unmarshal(rec.Payload, &loc); err != nil {
			return undecodableError{err}
		}
		return e.remote.SaveLocation(wctx, loc)
	case models.KindIncident:
		var inc models.Incident
		if err := json.Unmarshal(rec.Payload, &inc); err != nil {
			return undecodableError{err}
		}
		return e.remote.SaveIncident(wctx, inc)
	default:
		return undecodableError{fmt.Errorf("unknown kind %q", rec.Kind)}
	}
}

// PendingCount 等待同步的记录数
func (e *SyncEngine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.Total(ctx)
}

// Subscribe 订阅同步结果
func (e *SyncEngine) Subscribe() <-chan Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Summary, 10)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

func (e *SyncEngine) notifySubscribers(sum Summary) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.subscribers {
		select {
		case ch <- sum:
		default:
		}
	}
}
