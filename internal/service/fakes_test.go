package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/connectivity"
	"github.com/langchou/fieldtrack/internal/device"
	"github.com/langchou/fieldtrack/internal/models"
	"github.com/langchou/fieldtrack/internal/queue"
	"github.com/langchou/fieldtrack/internal/repository"
)

const testSubject = "driver-7"

type fakeSource struct {
	mu          sync.Mutex
	permErr     error
	failWith    error
	delay       time.Duration
	calls       int
	failedCalls int
	inFlight    int
	maxInFlight int
}

func (f *fakeSource) RequestPermission(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permErr
}

func (f *fakeSource) CurrentSample(ctx context.Context) (models.GeoSample, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	err := f.failWith
	if err != nil {
		f.failedCalls++
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err != nil {
		return models.GeoSample{}, err
	}
	return models.NewGeoSample(models.SampleFields{Latitude: 31.2304, Longitude: 121.4737, AccuracyMeters: 5})
}

func (f *fakeSource) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeSource) counts() (calls, failed, maxInFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.failedCalls, f.maxInFlight
}

type fakeRemote struct {
	mu         sync.Mutex
	locations  []models.LocationRecord
	incidents  []models.Incident
	sessions   map[string]models.TrackingSession
	latest     map[string]models.LocationRecord
	attempts   int
	onLocation func(rec models.LocationRecord) error
	onIncident func(inc models.Incident) error
	sessionErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		sessions: make(map[string]models.TrackingSession),
		latest:   make(map[string]models.LocationRecord),
	}
}

func (r *fakeRemote) SaveLocation(ctx context.Context, rec models.LocationRecord) error {
	r.mu.Lock()
	r.attempts++
	hook := r.onLocation
	r.mu.Unlock()

	if hook != nil {
		if err := hook(rec); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations = append(r.locations, rec)
	r.latest[rec.SubjectID] = rec
	return nil
}

func (r *fakeRemote) SaveIncident(ctx context.Context, inc models.Incident) error {
	r.mu.Lock()
	r.attempts++
	hook := r.onIncident
	r.mu.Unlock()

	if hook != nil {
		if err := hook(inc); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, inc)
	return nil
}

func (r *fakeRemote) UpsertSession(ctx context.Context, session models.TrackingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionErr != nil {
		return r.sessionErr
	}
	r.sessions[session.SubjectID] = session
	return nil
}

func (r *fakeRemote) LatestLocation(ctx context.Context, subjectID string) (*models.LocationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.latest[subjectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (r *fakeRemote) Session(ctx context.Context, subjectID string) (*models.TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[subjectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *fakeRemote) ActiveSessions(ctx context.Context, organizationID string) ([]*models.TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TrackingSession
	for _, s := range r.sessions {
		if s.IsActive && s.OrganizationID == organizationID {
			s := s
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *fakeRemote) locationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locations)
}

func (r *fakeRemote) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *fakeRemote) session(subjectID string) (models.TrackingSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[subjectID]
	return s, ok
}

type trackerFixture struct {
	tracker *Tracker
	source  *fakeSource
	remote  *fakeRemote
	monitor *connectivity.Monitor
	queue   *queue.Queue
}

func newTrackerFixture(t *testing.T, online bool) *trackerFixture {
	t.Helper()
	logger := zap.NewNop()

	f := &trackerFixture{
		source:  &fakeSource{},
		remote:  newFakeRemote(),
		monitor: connectivity.NewMonitor(connectivity.StaticSource(online), logger),
		queue:   queue.New(queue.NewMemoryStore(), 0, logger),
	}
	f.tracker = NewTracker(
		logger,
		f.source,
		f.monitor,
		f.queue,
		f.remote,
		device.StaticProfile{Subject: testSubject, Organization: "org-1"},
		device.NoBattery{},
		TrackerOptions{},
	)
	unwatch := f.tracker.Watch()
	t.Cleanup(func() {
		unwatch()
		f.tracker.Stop(context.Background())
	})
	return f
}

func (f *trackerFixture) queued(t *testing.T, kind models.RecordKind) int {
	t.Helper()
	n, err := f.queue.Count(context.Background(), kind)
	if err != nil {
		t.Fatalf("count queue: %v", err)
	}
	return n
}
