package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 追踪控制器状态
const (
	StateIdle     = "idle"
	StateStarting = "starting"
	StateActive   = "active"
	StateStopping = "stopping"
)

// 事件常量
const (
	EventStart    = "start"    // idle -> starting
	EventActivate = "activate" // starting -> active
	EventAbort    = "abort"    // starting -> idle，权限被拒绝或传感器不可用
	EventStop     = "stop"     // active/starting -> stopping
	EventStopped  = "stopped"  // stopping -> idle
	EventFatal    = "fatal"    // active -> idle，连续致命错误后自动停止
)

// Transition 一次状态变化
type Transition struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Machine 追踪控制器状态机
type Machine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	since         time.Time
	onStateChange func(t Transition)
}

// NewMachine 创建状态机，初始为 idle
func NewMachine(onStateChange func(t Transition)) *Machine {
	m := &Machine{
		since:         time.Now(),
		onStateChange: onStateChange,
	}

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateStarting},
			{Name: EventActivate, Src: []string{StateStarting}, Dst: StateActive},
			{Name: EventAbort, Src: []string{StateStarting}, Dst: StateIdle},
			{Name: EventStop, Src: []string{StateActive, StateStarting}, Dst: StateStopping},
			{Name: EventStopped, Src: []string{StateStopping}, Dst: StateIdle},
			{Name: EventFatal, Src: []string{StateActive}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(Transition{From: e.Src, To: e.Dst, Event: e.Event, At: time.Now()})
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Since 进入当前状态的时间
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Is 是否处于指定状态
func (m *Machine) Is(state string) bool {
	return m.CurrentState() == state
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}
