package service

import (
	"context"
	"errors"

	"github.com/langchou/fieldtrack/internal/models"
)

// 服务层错误
var (
	ErrInvalidSubject    = errors.New("invalid subject id")
	ErrRemoteUnreachable = errors.New("remote store unreachable")
)

// RemoteStore 远端存储，*repository.Store 满足该接口
type RemoteStore interface {
	SaveLocation(ctx context.Context, rec models.LocationRecord) error
	SaveIncident(ctx context.Context, inc models.Incident) error
	UpsertSession(ctx context.Context, session models.TrackingSession) error
	LatestLocation(ctx context.Context, subjectID string) (*models.LocationRecord, error)
	Session(ctx context.Context, subjectID string) (*models.TrackingSession, error)
	ActiveSessions(ctx context.Context, organizationID string) ([]*models.TrackingSession, error)
}

// LocationSource 定位来源，*sampler.Sampler 满足该接口
type LocationSource interface {
	RequestPermission(ctx context.Context) error
	CurrentSample(ctx context.Context) (models.GeoSample, error)
}

// Delivery 记录的去向
type Delivery string

const (
	DeliveredRemote Delivery = "remote"
	DeliveredQueue  Delivery = "queued"
	DeliveryDropped Delivery = "dropped"
)
