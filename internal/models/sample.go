package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// 坐标校验错误
var (
	ErrInvalidLatitude  = errors.New("latitude out of range [-90, 90]")
	ErrInvalidLongitude = errors.New("longitude out of range [-180, 180]")
	ErrInvalidAccuracy  = errors.New("accuracy must be finite and non-negative")
	ErrInvalidAltitude  = errors.New("altitude must be finite")
	ErrInvalidHeading   = errors.New("heading out of range [0, 360]")
	ErrInvalidSpeed     = errors.New("speed must be finite and non-negative")
)

// coordEpsilon 判断坐标相等的阈值（约 1.1cm）
const coordEpsilon = 1e-9

// GeoSample 一次定位读数，创建后不可修改
type GeoSample struct {
	ID             uuid.UUID `json:"id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_m"`
	AltitudeMeters *float64  `json:"altitude_m,omitempty"`
	HeadingDegrees *float64  `json:"heading_deg,omitempty"`
	SpeedMPS       *float64  `json:"speed_mps,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// SampleFields 构造 GeoSample 的输入
type SampleFields struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	AltitudeMeters *float64
	HeadingDegrees *float64
	SpeedMPS       *float64
	// CapturedAt 为零值时使用采集时刻
	CapturedAt time.Time
}

// NewGeoSample 校验并创建定位样本
func NewGeoSample(f SampleFields) (GeoSample, error) {
	if !finite(f.Latitude) || f.Latitude < -90 || f.Latitude > 90 {
		return GeoSample{}, fmt.Errorf("%w: %v", ErrInvalidLatitude, f.Latitude)
	}
	if !finite(f.Longitude) || f.Longitude < -180 || f.Longitude > 180 {
		return GeoSample{}, fmt.Errorf("%w: %v", ErrInvalidLongitude, f.Longitude)
	}
	if !finite(f.AccuracyMeters) || f.AccuracyMeters < 0 {
		return GeoSample{}, fmt.Errorf("%w: %v", ErrInvalidAccuracy, f.AccuracyMeters)
	}
	if f.AltitudeMeters != nil && !finite(*f.AltitudeMeters) {
		return GeoSample{}, fmt.Errorf("%w: %v", ErrInvalidAltitude, *f.AltitudeMeters)
	}
	if f.HeadingDegrees != nil && (!finite(*f.HeadingDegrees) || *f.HeadingDegrees < 0 || *f.HeadingDegrees > 360) {
		return GeoSample{}, fmt.Errorf("%w: %v", ErrInvalidHeading, *f.HeadingDegrees)
	}
	if f.SpeedMPS != nil && (!finite(*f.SpeedMPS) || *f.SpeedMPS < 0) {
		return GeoSample{}, fmt.Errorf("%w: %v", ErrInvalidSpeed, *f.SpeedMPS)
	}

	heading := copyFloat(f.HeadingDegrees)
	if heading != nil && *heading == 360 {
		// 360° 与 0° 是同一方向
		*heading = 0
	}

	capturedAt := f.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	return GeoSample{
		ID:             uuid.New(),
		Latitude:       f.Latitude,
		Longitude:      f.Longitude,
		AccuracyMeters: f.AccuracyMeters,
		AltitudeMeters: copyFloat(f.AltitudeMeters),
		HeadingDegrees: heading,
		SpeedMPS:       copyFloat(f.SpeedMPS),
		CapturedAt:     capturedAt.UTC(),
	}, nil
}

// SamePosition 判断两个样本坐标是否一致
func (s GeoSample) SamePosition(o GeoSample) bool {
	return math.Abs(s.Latitude-o.Latitude) < coordEpsilon &&
		math.Abs(s.Longitude-o.Longitude) < coordEpsilon
}

// finite 非 NaN 且非 ±Inf，否则无法序列化为 JSON
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// LocationRecord 远端存储中的位置行
type LocationRecord struct {
	Sample         GeoSample `json:"sample"`
	SubjectID      string    `json:"subject_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	VehicleID      *string   `json:"vehicle_id,omitempty"`
	RouteID        *string   `json:"route_id,omitempty"`
	BatteryLevel   *float64  `json:"battery_level,omitempty"` // 0-1
}
