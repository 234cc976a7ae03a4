package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/connectivity"
	"github.com/langchou/fieldtrack/internal/device"
	"github.com/langchou/fieldtrack/internal/models"
	"github.com/langchou/fieldtrack/internal/queue"
	"github.com/langchou/fieldtrack/internal/sampler"
	"github.com/langchou/fieldtrack/internal/state"
)

const (
	defaultMaxFatalFailures = 3
	defaultWriteTimeout     = 15 * time.Second
	maxSubjectIDLength      = 128
)

// TrackerOptions 追踪控制器参数
type TrackerOptions struct {
	// MaxFatalFailures 连续致命错误达到该次数后自动停止
	MaxFatalFailures int
	// WriteTimeout 单次远端写入超时
	WriteTimeout time.Duration
}

// StartOptions 启动追踪的参数
type StartOptions struct {
	SampleInterval time.Duration `json:"sample_interval"`
	VehicleID      *string       `json:"vehicle_id,omitempty"`
	RouteID        *string       `json:"route_id,omitempty"`
}

// lastStatus 本机最近一次成功采样
type lastStatus struct {
	subjectID string
	sample    models.GeoSample
	at        time.Time
	battery   *float64
}

// sampleLoop 周期采样任务的句柄，只保存在控制器内部
type sampleLoop struct {
	stopCh chan struct{}
	ticker *time.Ticker
}

// Tracker 追踪控制器，每个进程只创建一个，由 main 注入到各层
type Tracker struct {
	logger  *zap.Logger
	source  LocationSource
	monitor *connectivity.Monitor
	queue   *queue.Queue
	remote  RemoteStore
	profile device.Profile
	battery device.BatteryReader
	machine *state.Machine
	opts    TrackerOptions

	lifecycle     sync.Mutex // 串行化 Start/Stop
	sessionWrites sync.Mutex // 串行化远端会话写入
	wg            sync.WaitGroup

	mu          sync.RWMutex
	session     *models.TrackingSession
	loop        *sampleLoop
	last        *lastStatus
	fatalCount  int
	subscribers []chan models.TrackingStatusSnapshot

	// pendingSessions 尚未写入远端的会话状态，按对象只保留最新一份
	pendingSessions map[string]models.TrackingSession
}

// NewTracker 创建追踪控制器。remote 为 nil 时所有记录都进入离线队列
func NewTracker(
	logger *zap.Logger,
	source LocationSource,
	monitor *connectivity.Monitor,
	q *queue.Queue,
	remote RemoteStore,
	profile device.Profile,
	battery device.BatteryReader,
	opts TrackerOptions,
) *Tracker {
	if opts.MaxFatalFailures <= 0 {
		opts.MaxFatalFailures = defaultMaxFatalFailures
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if battery == nil {
		battery = device.NoBattery{}
	}

	t := &Tracker{
		logger:  logger,
		source:  source,
		monitor: monitor,
		queue:   q,
		remote:  remote,
		profile: profile,
		battery: battery,
		opts:    opts,

		pendingSessions: make(map[string]models.TrackingSession),
	}
	t.machine = state.NewMachine(t.onStateChange)
	return t
}

// Watch 订阅联网状态，恢复在线时补写离线期间未能保存的会话。返回取消订阅函数
func (t *Tracker) Watch() (unsubscribe func()) {
	return t.monitor.OnChange(func(from, to connectivity.State) {
		if to != connectivity.Online {
			return
		}
		go t.FlushSessions(context.Background())
	})
}

// Start 开始追踪。已有会话时先隐式停止，保证任何时刻最多一个采样循环
func (t *Tracker) Start(ctx context.Context, subjectID string, opts StartOptions) error {
	if err := validateSubject(subjectID); err != nil {
		return err
	}
	interval := opts.SampleInterval
	if interval <= 0 {
		interval = models.DefaultSampleInterval
	}

	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if !t.machine.Is(state.StateIdle) {
		t.logger.Info("Tracking already active, restarting", zap.String("subject_id", subjectID))
		t.stopLocked(ctx)
	}
	// 回收因致命错误自行退出的循环
	t.haltLoop()

	if err := t.machine.Trigger(state.EventStart); err != nil {
		return fmt.Errorf("start tracking: %w", err)
	}

	if err := t.source.RequestPermission(ctx); err != nil {
		if abortErr := t.machine.Trigger(state.EventAbort); abortErr != nil {
			t.logger.Error("Failed to abort start", zap.Error(abortErr))
		}
		t.logger.Warn("Location permission not granted",
			zap.String("subject_id", subjectID),
			zap.Error(err))
		return fmt.Errorf("request location permission: %w", err)
	}

	now := time.Now().UTC()
	session := &models.TrackingSession{
		SubjectID:      subjectID,
		OrganizationID: t.profile.OrganizationID(),
		VehicleID:      opts.VehicleID,
		RouteID:        opts.RouteID,
		IsActive:       true,
		SampleInterval: interval,
		StartedAt:      &now,
		UpdatedAt:      now,
	}

	t.mu.Lock()
	t.session = session
	t.fatalCount = 0
	t.mu.Unlock()

	t.saveSession(ctx, *session)

	// 立即采样一次，失败不影响启动
	t.tick(ctx)

	if err := t.machine.Trigger(state.EventActivate); err != nil {
		return fmt.Errorf("activate tracking: %w", err)
	}

	loop := &sampleLoop{
		stopCh: make(chan struct{}),
		ticker: time.NewTicker(interval),
	}
	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(loop)

	t.logger.Info("Tracking started",
		zap.String("subject_id", subjectID),
		zap.Duration("interval", interval))
	t.notifySubscribers(t.localSnapshot())
	return nil
}

// Stop 停止追踪。总是在本地成功，远端会话标记为非活跃是尽力而为
func (t *Tracker) Stop(ctx context.Context) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	t.stopLocked(ctx)
}

func (t *Tracker) stopLocked(ctx context.Context) {
	if err := t.machine.Trigger(state.EventStop); err != nil {
		// 已经是 idle（可能已因致命错误自动停止）
		t.haltLoop()
		return
	}

	t.haltLoop()

	t.mu.Lock()
	session := t.session
	t.session = nil
	t.fatalCount = 0
	t.mu.Unlock()

	if session != nil {
		inactive := *session
		inactive.IsActive = false
		inactive.UpdatedAt = time.Now().UTC()
		t.saveSession(ctx, inactive)
	}

	if err := t.machine.Trigger(state.EventStopped); err != nil {
		t.logger.Error("Failed to finish stop", zap.Error(err))
	}

	if session != nil {
		t.logger.Info("Tracking stopped", zap.String("subject_id", session.SubjectID))
	}
	t.notifySubscribers(t.localSnapshot())
}

// haltLoop 同步取消周期任务并等待正在执行的采样完成
func (t *Tracker) haltLoop() {
	t.mu.Lock()
	loop := t.loop
	t.loop = nil
	t.mu.Unlock()

	if loop != nil {
		loop.ticker.Stop()
		close(loop.stopCh)
	}
	t.wg.Wait()
}

// run 周期采样循环。单个 goroutine 顺序执行，采样期间到期的 tick 被丢弃
func (t *Tracker) run(loop *sampleLoop) {
	defer t.wg.Done()
	defer loop.ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-loop.stopCh:
			return
		case <-loop.ticker.C:
			select {
			case <-loop.stopCh:
				return
			default:
			}
			if t.tick(ctx) {
				t.selfStop()
				return
			}
		}
	}
}

// tick 执行一次采样，返回 true 表示连续致命错误已达上限
func (t *Tracker) tick(ctx context.Context) bool {
	t.mu.RLock()
	session := t.session
	t.mu.RUnlock()
	if session == nil {
		return false
	}

	sample, err := t.source.CurrentSample(ctx)
	if err != nil {
		if !sampler.IsFatal(err) {
			t.logger.Warn("Location sample failed, skipping tick",
				zap.String("subject_id", session.SubjectID),
				zap.Error(err))
			return false
		}

		t.mu.Lock()
		t.fatalCount++
		n := t.fatalCount
		t.mu.Unlock()

		t.logger.Warn("Fatal location error",
			zap.String("subject_id", session.SubjectID),
			zap.Int("consecutive", n),
			zap.Error(err))
		return n >= t.opts.MaxFatalFailures
	}

	rec := models.LocationRecord{
		Sample:         sample,
		SubjectID:      session.SubjectID,
		OrganizationID: session.OrganizationID,
		VehicleID:      session.VehicleID,
		RouteID:        session.RouteID,
		BatteryLevel:   t.battery.Level(),
	}

	delivery := t.deliver(ctx, models.KindLocation, rec, func(ctx context.Context) error {
		return t.remote.SaveLocation(ctx, rec)
	})

	t.mu.Lock()
	t.fatalCount = 0
	t.last = &lastStatus{
		subjectID: session.SubjectID,
		sample:    sample,
		at:        time.Now().UTC(),
		battery:   rec.BatteryLevel,
	}
	t.mu.Unlock()

	t.logger.Debug("Location sampled",
		zap.String("subject_id", session.SubjectID),
		zap.Float64("lat", sample.Latitude),
		zap.Float64("lng", sample.Longitude),
		zap.String("delivery", string(delivery)))

	// 在线写入成功说明远端已恢复，顺便补写之前失败的会话
	if delivery == DeliveredRemote && t.hasPendingSessions() {
		t.FlushSessions(ctx)
	}

	t.notifySubscribers(t.localSnapshot())
	return false
}

// selfStop 连续致命错误后由采样循环调用
func (t *Tracker) selfStop() {
	if err := t.machine.Trigger(state.EventFatal); err != nil {
		// Stop 已在进行中
		return
	}

	t.mu.Lock()
	session := t.session
	t.session = nil
	t.fatalCount = 0
	t.mu.Unlock()

	if session == nil {
		return
	}

	t.logger.Error("Tracking stopped after repeated fatal location errors",
		zap.String("subject_id", session.SubjectID),
		zap.Int("max_failures", t.opts.MaxFatalFailures))

	inactive := *session
	inactive.IsActive = false
	inactive.UpdatedAt = time.Now().UTC()
	t.saveSession(context.Background(), inactive)
	t.notifySubscribers(t.localSnapshot())
}

// deliver 在线时直接写远端，写失败或离线时进入离线队列
func (t *Tracker) deliver(ctx context.Context, kind models.RecordKind, payload any, write func(ctx context.Context) error) Delivery {
	if t.remoteReachable() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.WriteTimeout)
		err := write(wctx)
		cancel()
		if err == nil {
			return DeliveredRemote
		}
		t.logger.Warn("Remote write failed, queueing record",
			zap.String("kind", string(kind)),
			zap.Error(err))
	}

	if _, err := t.queue.Enqueue(context.WithoutCancel(ctx), kind, payload); err != nil {
		t.logger.Error("Failed to queue record", zap.String("kind", string(kind)), zap.Error(err))
		return DeliveryDropped
	}
	return DeliveredQueue
}

// saveSession 记录会话最新状态并尽力写入远端。写入失败或离线时保留，
// 等待 FlushSessions 补写
func (t *Tracker) saveSession(ctx context.Context, session models.TrackingSession) {
	t.sessionWrites.Lock()
	defer t.sessionWrites.Unlock()

	t.mu.Lock()
	t.pendingSessions[session.SubjectID] = session
	t.mu.Unlock()

	t.writePendingSessions(ctx)
}

// FlushSessions 把尚未写入远端的会话状态补写到远端
func (t *Tracker) FlushSessions(ctx context.Context) {
	t.sessionWrites.Lock()
	defer t.sessionWrites.Unlock()

	if n := t.writePendingSessions(ctx); n > 0 {
		t.logger.Info("Pending tracking sessions saved", zap.Int("count", n))
	}
}

// writePendingSessions 调用方必须持有 sessionWrites，返回成功写入的数量
func (t *Tracker) writePendingSessions(ctx context.Context) int {
	if !t.remoteReachable() {
		return 0
	}

	t.mu.RLock()
	pending := make([]models.TrackingSession, 0, len(t.pendingSessions))
	for _, session := range t.pendingSessions {
		pending = append(pending, session)
	}
	t.mu.RUnlock()

	saved := 0
	for _, session := range pending {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.WriteTimeout)
		err := t.remote.UpsertSession(wctx, session)
		cancel()
		if err != nil {
			t.logger.Warn("Failed to save tracking session",
				zap.String("subject_id", session.SubjectID),
				zap.Bool("active", session.IsActive),
				zap.Error(err))
			continue
		}

		t.mu.Lock()
		delete(t.pendingSessions, session.SubjectID)
		t.mu.Unlock()
		saved++
	}
	return saved
}

func (t *Tracker) hasPendingSessions() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pendingSessions) > 0
}

func (t *Tracker) remoteReachable() bool {
	return t.remote != nil && t.monitor.IsOnline()
}

// CurrentLocation 按需单次定位，与是否在追踪无关
func (t *Tracker) CurrentLocation(ctx context.Context) (models.GeoSample, error) {
	sample, err := t.source.CurrentSample(ctx)
	if err != nil {
		return models.GeoSample{}, fmt.Errorf("current location: %w", err)
	}
	return sample, nil
}

// State 控制器当前状态
func (t *Tracker) State() string {
	return t.machine.CurrentState()
}

// StateSince 进入当前状态的时间
func (t *Tracker) StateSince() time.Time {
	return t.machine.Since()
}

// Session 当前会话副本，未追踪时返回 nil
func (t *Tracker) Session() *models.TrackingSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.session == nil {
		return nil
	}
	s := *t.session
	return &s
}

// Subscribe 订阅本机状态快照
func (t *Tracker) Subscribe() <-chan models.TrackingStatusSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan models.TrackingStatusSnapshot, 10)
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// notifySubscribers 通知订阅者
func (t *Tracker) notifySubscribers(snap models.TrackingStatusSnapshot) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ch := range t.subscribers {
		select {
		case ch <- snap:
		default:
			// 跳过慢消费者
		}
	}
}

// onStateChange 状态变化回调，在状态机锁内执行，不能回调状态机
func (t *Tracker) onStateChange(tr state.Transition) {
	t.logger.Info("Tracker state changed",
		zap.String("from", tr.From),
		zap.String("to", tr.To),
		zap.String("event", tr.Event))
}

// validateSubject 对象 ID 必须非空、长度有限且不含空白或控制字符
func validateSubject(subjectID string) error {
	if subjectID == "" || len(subjectID) > maxSubjectIDLength {
		return fmt.Errorf("%w: %q", ErrInvalidSubject, subjectID)
	}
	if strings.IndexFunc(subjectID, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidSubject, subjectID)
	}
	return nil
}
