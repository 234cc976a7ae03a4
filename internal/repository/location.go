package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/fieldtrack/internal/models"
)

// LocationRepository 位置数据仓库
type LocationRepository struct {
	db Querier
}

// NewLocationRepository 创建位置仓库
func NewLocationRepository(db Querier) *LocationRepository {
	return &LocationRepository{db: db}
}

// Create 写入位置记录，重复上传同一样本时忽略
func (r *LocationRepository) Create(ctx context.Context, rec models.LocationRecord) error {
	query := `
		INSERT INTO tracked_locations (id, subject_id, organization_id, vehicle_id, route_id, latitude, longitude, accuracy_m, altitude_m, heading_deg, speed_mps, battery_level, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	s := rec.Sample
	_, err := r.db.Exec(ctx, query,
		s.ID,
		rec.SubjectID,
		rec.OrganizationID,
		rec.VehicleID,
		rec.RouteID,
		s.Latitude,
		s.Longitude,
		s.AccuracyMeters,
		s.AltitudeMeters,
		s.HeadingDegrees,
		s.SpeedMPS,
		rec.BatteryLevel,
		s.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

// GetLatestBySubject 获取对象最新位置
func (r *LocationRepository) GetLatestBySubject(ctx context.Context, subjectID string) (*models.LocationRecord, error) {
	query := `
		SELECT id::text, subject_id, organization_id, vehicle_id, route_id, latitude, longitude, accuracy_m, altitude_m, heading_deg, speed_mps, battery_level, captured_at
		FROM tracked_locations WHERE subject_id = $1 ORDER BY captured_at DESC LIMIT 1
	`
	rec := &models.LocationRecord{}
	var id string
	err := r.db.QueryRow(ctx, query, subjectID).Scan(
		&id,
		&rec.SubjectID,
		&rec.OrganizationID,
		&rec.VehicleID,
		&rec.RouteID,
		&rec.Sample.Latitude,
		&rec.Sample.Longitude,
		&rec.Sample.AccuracyMeters,
		&rec.Sample.AltitudeMeters,
		&rec.Sample.HeadingDegrees,
		&rec.Sample.SpeedMPS,
		&rec.BatteryLevel,
		&rec.Sample.CapturedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest location: %w", err)
	}
	if rec.Sample.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse location id: %w", err)
	}
	return rec, nil
}
