package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/fieldtrack/internal/models"
)

// SessionRepository 追踪会话仓库，每个对象一行
type SessionRepository struct {
	db Querier
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

// Upsert 创建或覆盖对象的会话
func (r *SessionRepository) Upsert(ctx context.Context, s models.TrackingSession) error {
	query := `
		INSERT INTO tracking_sessions (subject_id, organization_id, vehicle_id, route_id, is_active, sample_interval_ms, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			vehicle_id = EXCLUDED.vehicle_id,
			route_id = EXCLUDED.route_id,
			is_active = EXCLUDED.is_active,
			sample_interval_ms = EXCLUDED.sample_interval_ms,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query,
		s.SubjectID,
		s.OrganizationID,
		s.VehicleID,
		s.RouteID,
		s.IsActive,
		s.SampleInterval.Milliseconds(),
		s.StartedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

const sessionColumns = `subject_id, organization_id, vehicle_id, route_id, is_active, sample_interval_ms, started_at, updated_at`

func scanSession(row pgx.Row) (*models.TrackingSession, error) {
	s := &models.TrackingSession{}
	var intervalMs int64
	err := row.Scan(
		&s.SubjectID,
		&s.OrganizationID,
		&s.VehicleID,
		&s.RouteID,
		&s.IsActive,
		&intervalMs,
		&s.StartedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SampleInterval = time.Duration(intervalMs) * time.Millisecond
	return s, nil
}

// Get 获取对象的会话
func (r *SessionRepository) Get(ctx context.Context, subjectID string) (*models.TrackingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM tracking_sessions WHERE subject_id = $1`
	s, err := scanSession(r.db.QueryRow(ctx, query, subjectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListActive 列出组织内所有活跃会话
func (r *SessionRepository) ListActive(ctx context.Context, organizationID string) ([]*models.TrackingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM tracking_sessions WHERE organization_id = $1 AND is_active ORDER BY subject_id`
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.TrackingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
