package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyIncident 事件缺少描述
var ErrEmptyIncident = errors.New("incident requires a category or description")

// Incident 司机上报的现场事件
type Incident struct {
	ID             uuid.UUID `json:"id"`
	SubjectID      string    `json:"subject_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Category       string    `json:"category"`
	Description    string    `json:"description"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	ReportedAt     time.Time `json:"reported_at"`
}

// Validate 校验事件内容
func (i Incident) Validate() error {
	if i.Category == "" && i.Description == "" {
		return ErrEmptyIncident
	}
	if i.Latitude != nil && (!finite(*i.Latitude) || *i.Latitude < -90 || *i.Latitude > 90) {
		return ErrInvalidLatitude
	}
	if i.Longitude != nil && (!finite(*i.Longitude) || *i.Longitude < -180 || *i.Longitude > 180) {
		return ErrInvalidLongitude
	}
	return nil
}
