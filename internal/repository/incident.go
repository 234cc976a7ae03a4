package repository

import (
	"context"
	"fmt"

	"github.com/langchou/fieldtrack/internal/models"
)

// IncidentRepository 事件上报仓库
type IncidentRepository struct {
	db Querier
}

// NewIncidentRepository 创建事件仓库
func NewIncidentRepository(db Querier) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create 写入事件，重复上传时忽略
func (r *IncidentRepository) Create(ctx context.Context, inc models.Incident) error {
	query := `
		INSERT INTO incident_reports (id, subject_id, organization_id, category, description, latitude, longitude, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		inc.ID,
		inc.SubjectID,
		inc.OrganizationID,
		inc.Category,
		inc.Description,
		inc.Latitude,
		inc.Longitude,
		inc.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}
