// Package connectivity 跟踪平台报告的联网状态。
//
// 只信任平台上报的状态，不做端到端可达性探测：接口在线并不代表远端可达。
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 联网状态
type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

// Source 平台联网状态查询
type Source interface {
	Online() bool
}

// Listener 状态变化回调
type Listener func(from, to State)

// Monitor 联网状态监视器
type Monitor struct {
	logger *zap.Logger
	source Source

	mu        sync.RWMutex
	state     State
	nextID    int
	listeners map[int]Listener
}

// NewMonitor 创建监视器，初始状态同步查询平台
func NewMonitor(source Source, logger *zap.Logger) *Monitor {
	m := &Monitor{
		logger:    logger,
		source:    source,
		state:     Offline,
		listeners: make(map[int]Listener),
	}
	if source != nil && source.Online() {
		m.state = Online
	}
	return m
}

// State 当前状态
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOnline 是否在线
func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// OnChange 订阅状态变化，返回取消订阅函数
func (m *Monitor) OnChange(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// ListenerCount 当前订阅数量
func (m *Monitor) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// Set 由平台事件驱动更新状态
func (m *Monitor) Set(next State) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	m.logger.Info("Connectivity changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))

	for _, fn := range listeners {
		fn(prev, next)
	}
}

// Watch 定期查询平台状态并发布变化，直到 ctx 结束
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) {
	if m.source == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.source.Online() {
				m.Set(Online)
			} else {
				m.Set(Offline)
			}
		}
	}
}
