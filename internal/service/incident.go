package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/models"
)

// ReportIncident 上报现场事件。未带坐标时附上最近一次位置，离线或远端写失败时进入队列
func (t *Tracker) ReportIncident(ctx context.Context, inc models.Incident) (models.Incident, Delivery, error) {
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	if inc.ReportedAt.IsZero() {
		inc.ReportedAt = time.Now().UTC()
	}
	if inc.OrganizationID == "" {
		inc.OrganizationID = t.profile.OrganizationID()
	}

	t.mu.RLock()
	if inc.SubjectID == "" {
		inc.SubjectID = t.profile.SubjectID()
		if t.session != nil {
			inc.SubjectID = t.session.SubjectID
		}
	}
	if inc.Latitude == nil && inc.Longitude == nil && t.last != nil && t.last.subjectID == inc.SubjectID {
		lat, lng := t.last.sample.Latitude, t.last.sample.Longitude
		inc.Latitude = &lat
		inc.Longitude = &lng
	}
	t.mu.RUnlock()

	if err := validateSubject(inc.SubjectID); err != nil {
		return inc, "", err
	}
	if err := inc.Validate(); err != nil {
		return inc, "", fmt.Errorf("validate incident: %w", err)
	}

	delivery := t.deliver(ctx, models.KindIncident, inc, func(ctx context.Context) error {
		return t.remote.SaveIncident(ctx, inc)
	})
	if delivery == DeliveryDropped {
		return inc, delivery, fmt.Errorf("incident %s could not be stored", inc.ID)
	}

	t.logger.Info("Incident reported",
		zap.String("incident_id", inc.ID.String()),
		zap.String("subject_id", inc.SubjectID),
		zap.String("category", inc.Category),
		zap.String("delivery", string(delivery)))
	return inc, delivery, nil
}
