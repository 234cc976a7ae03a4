package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/connectivity"
	"github.com/langchou/fieldtrack/internal/models"
	"github.com/langchou/fieldtrack/internal/queue"
)

type syncFixture struct {
	engine  *SyncEngine
	remote  *fakeRemote
	monitor *connectivity.Monitor
	queue   *queue.Queue
}

func newSyncFixture(t *testing.T, online bool) *syncFixture {
	t.Helper()
	logger := zap.NewNop()
	f := &syncFixture{
		remote:  newFakeRemote(),
		monitor: connectivity.NewMonitor(connectivity.StaticSource(online), logger),
		queue:   queue.New(queue.NewMemoryStore(), 0, logger),
	}
	f.engine = NewSyncEngine(logger, f.queue, f.remote, f.monitor, 3)
	return f
}

// enqueueLocations 入队 n 条位置，第 i 条的纬度为 i
func (f *syncFixture) enqueueLocations(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		sample, err := models.NewGeoSample(models.SampleFields{Latitude: float64(i), Longitude: 100})
		require.NoError(t, err)
		_, err = f.queue.Enqueue(context.Background(), models.KindLocation, models.LocationRecord{
			Sample:    sample,
			SubjectID: testSubject,
		})
		require.NoError(t, err)
	}
}

func (f *syncFixture) remainingLatitudes(t *testing.T) []float64 {
	t.Helper()
	records, err := f.queue.Drain(context.Background(), models.KindLocation)
	require.NoError(t, err)

	out := make([]float64, 0, len(records))
	for _, rec := range records {
		var loc models.LocationRecord
		require.NoError(t, json.Unmarshal(rec.Payload, &loc))
		out = append(out, loc.Sample.Latitude)
	}
	return out
}

func TestSyncPartialFailure(t *testing.T) {
	f := newSyncFixture(t, true)
	f.enqueueLocations(t, 5)
	f.remote.onLocation = func(rec models.LocationRecord) error {
		if rec.Sample.Latitude == 3 || rec.Sample.Latitude == 5 {
			return errors.New("rejected")
		}
		return nil
	}

	sum, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2, sum.Remaining)
	assert.False(t, sum.Aborted)
	assert.Equal(t, []float64{3, 5}, f.remainingLatitudes(t))

	count, err := f.engine.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncUploadsInOrder(t *testing.T) {
	f := newSyncFixture(t, true)
	f.enqueueLocations(t, 4)

	sum, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Zero(t, sum.Remaining)

	for i, rec := range f.remote.locations {
		assert.InDelta(t, float64(i+1), rec.Sample.Latitude, 1e-9)
	}
	assert.Empty(t, f.remainingLatitudes(t))
}

func TestSyncFailsFast(t *testing.T) {
	f := newSyncFixture(t, true)
	f.enqueueLocations(t, 6)
	_, err := f.queue.Enqueue(context.Background(), models.KindIncident, models.Incident{ID: uuid.New(), Description: "pothole"})
	require.NoError(t, err)
	f.remote.onLocation = func(models.LocationRecord) error { return errors.New("connection refused") }

	sum, err := f.engine.Run(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnreachable)

	assert.True(t, sum.Aborted)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 7, sum.Remaining)
	assert.Equal(t, 3, f.remote.attemptCount(), "incidents are not attempted after abort")
}

func TestSyncSkipsWhenOffline(t *testing.T) {
	f := newSyncFixture(t, false)
	f.enqueueLocations(t, 2)

	sum, err := f.engine.Run(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnreachable)
	assert.Equal(t, 2, sum.Remaining)
	assert.Zero(t, f.remote.attemptCount())
}

func TestSyncLocationsBeforeIncidents(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.KindIncident, models.Incident{ID: uuid.New(), Category: "accident"})
	require.NoError(t, err)
	f.enqueueLocations(t, 1)

	var order []string
	f.remote.onLocation = func(models.LocationRecord) error { order = append(order, "location"); return nil }
	f.remote.onIncident = func(models.Incident) error { order = append(order, "incident"); return nil }

	sum, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, []string{"location", "incident"}, order)
}

func TestSyncDiscardsUnreadableRecords(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, models.KindLocation, "not a location")
	require.NoError(t, err)
	f.enqueueLocations(t, 1)

	sum, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Discarded)
	assert.Zero(t, sum.Remaining)
}

func TestSyncCoalescesConcurrentTriggers(t *testing.T) {
	f := newSyncFixture(t, true)
	f.enqueueLocations(t, 2)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.remote.onLocation = func(models.LocationRecord) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	done := make(chan Summary, 1)
	go func() {
		sum, _ := f.engine.Run(context.Background())
		done <- sum
	}()

	<-entered
	second, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Coalesced)

	close(release)
	first := <-done
	assert.False(t, first.Coalesced)
	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, 2, f.remote.attemptCount())
}

func TestSyncCoalescedTriggerRunsAnotherPass(t *testing.T) {
	f := newSyncFixture(t, true)
	f.enqueueLocations(t, 2)

	var coalesced Summary
	calls := 0
	f.remote.onLocation = func(models.LocationRecord) error {
		calls++
		if calls == 1 {
			// 第一轮已取出快照，这条只能由补跑的一轮上传
			f.enqueueLocations(t, 1)
			coalesced, _ = f.engine.Run(context.Background())
		}
		return nil
	}

	sum, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, coalesced.Coalesced)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Zero(t, sum.Remaining)
	assert.Equal(t, 3, f.remote.locationCount())
}

func TestSyncNeverLosesCoalescedTrigger(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = f.engine.Run(ctx)
		}()

		f.enqueueLocations(t, 1)
		_, err := f.engine.Run(ctx)
		require.NoError(t, err)
		<-done

		pending, err := f.engine.PendingCount(ctx)
		require.NoError(t, err)
		require.Zero(t, pending, "iteration %d: a coalesced trigger was dropped", i)
	}
	assert.Equal(t, 200, f.remote.locationCount())
}

func TestSyncWatchTriggersOnReconnect(t *testing.T) {
	f := newSyncFixture(t, false)
	f.enqueueLocations(t, 3)
	results := f.engine.Subscribe()

	unsubscribe := f.engine.Watch()
	defer unsubscribe()

	f.monitor.Set(connectivity.Online)

	select {
	case sum := <-results:
		assert.Equal(t, 3, sum.Succeeded)
		assert.Zero(t, sum.Remaining)
	case <-time.After(2 * time.Second):
		t.Fatal("sync was not triggered on reconnect")
	}

	unsubscribe()
	assert.Zero(t, f.monitor.ListenerCount())
}

func TestSyncWatchIgnoresEmptyQueue(t *testing.T) {
	f := newSyncFixture(t, false)
	results := f.engine.Subscribe()

	unsubscribe := f.engine.Watch()
	defer unsubscribe()

	f.monitor.Set(connectivity.Online)

	select {
	case <-results:
		t.Fatal("empty queue must not trigger a sync")
	case <-time.After(50 * time.Millisecond):
	}
}
