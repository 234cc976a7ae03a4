package repository

import (
	"context"

	"github.com/langchou/fieldtrack/internal/models"
)

// Store 汇总各仓库，作为追踪服务的远端存储
type Store struct {
	Locations *LocationRepository
	Sessions  *SessionRepository
	Incidents *IncidentRepository
}

// NewStore 创建远端存储
func NewStore(db Querier) *Store {
	return &Store{
		Locations: NewLocationRepository(db),
		Sessions:  NewSessionRepository(db),
		Incidents: NewIncidentRepository(db),
	}
}

func (s *Store) SaveLocation(ctx context.Context, rec models.LocationRecord) error {
	return s.Locations.Create(ctx, rec)
}

func (s *Store) SaveIncident(ctx context.Context, inc models.Incident) error {
	return s.Incidents.Create(ctx, inc)
}

func (s *Store) UpsertSession(ctx context.Context, session models.TrackingSession) error {
	return s.Sessions.Upsert(ctx, session)
}

func (s *Store) LatestLocation(ctx context.Context, subjectID string) (*models.LocationRecord, error) {
	return s.Locations.GetLatestBySubject(ctx, subjectID)
}

func (s *Store) Session(ctx context.Context, subjectID string) (*models.TrackingSession, error) {
	return s.Sessions.Get(ctx, subjectID)
}

func (s *Store) ActiveSessions(ctx context.Context, organizationID string) ([]*models.TrackingSession, error) {
	return s.Sessions.ListActive(ctx, organizationID)
}
