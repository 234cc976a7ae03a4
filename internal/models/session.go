package models

import "time"

// DefaultSampleInterval 默认采样间隔
const DefaultSampleInterval = 10 * time.Second

// TrackingSession 当前设备上的追踪会话
type TrackingSession struct {
	SubjectID      string        `json:"subject_id" db:"subject_id"`
	OrganizationID string        `json:"organization_id,omitempty" db:"organization_id"`
	VehicleID      *string       `json:"vehicle_id,omitempty" db:"vehicle_id"`
	RouteID        *string       `json:"route_id,omitempty" db:"route_id"`
	IsActive       bool          `json:"is_active" db:"is_active"`
	SampleInterval time.Duration `json:"sample_interval" db:"sample_interval_ms"`
	StartedAt      *time.Time    `json:"started_at,omitempty" db:"started_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// ConnectivityQuality 连接质量
type ConnectivityQuality string

const (
	QualityExcellent ConnectivityQuality = "excellent"
	QualityGood      ConnectivityQuality = "good"
	QualityFair      ConnectivityQuality = "fair"
	QualityPoor      ConnectivityQuality = "poor"
)

// 连接质量的时效阈值
const (
	excellentWithin = 30 * time.Second
	goodWithin      = 2 * time.Minute
	fairWithin      = 10 * time.Minute
)

// QualityFor 根据在线状态和最后更新时间估算连接质量
func QualityFor(online bool, lastUpdate *time.Time, now time.Time) ConnectivityQuality {
	if !online || lastUpdate == nil {
		return QualityPoor
	}
	age := now.Sub(*lastUpdate)
	switch {
	case age <= excellentWithin:
		return QualityExcellent
	case age <= goodWithin:
		return QualityGood
	case age <= fairWithin:
		return QualityFair
	default:
		return QualityPoor
	}
}

// TrackingStatusSnapshot 只读的追踪状态视图
type TrackingStatusSnapshot struct {
	SubjectID           string              `json:"subject_id"`
	LastKnownLocation   *GeoSample          `json:"last_known_location,omitempty"`
	LastUpdateAt        *time.Time          `json:"last_update_at,omitempty"`
	BatteryLevel        *float64            `json:"battery_level,omitempty"`
	ConnectivityQuality ConnectivityQuality `json:"connectivity_quality"`
	IsTracking          bool                `json:"is_tracking"`
}
