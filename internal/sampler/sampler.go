package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/models"
)

// DefaultTimeout 单次定位的最长等待时间
const DefaultTimeout = 10 * time.Second

// Reading 传感器原始读数
type Reading struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Altitude  *float64
	Heading   *float64
	Speed     *float64
	// Timestamp 传感器时间，可能为零值
	Timestamp time.Time
}

// Sensor 平台定位传感器
type Sensor interface {
	RequestPermission(ctx context.Context) error
	Read(ctx context.Context) (Reading, error)
}

// Options 采样器配置
type Options struct {
	Sensor        Sensor
	SecureContext bool
	Timeout       time.Duration
}

// Sampler 单次定位采样器，不做重试
type Sampler struct {
	logger  *zap.Logger
	sensor  Sensor
	secure  bool
	timeout time.Duration
}

// New 创建采样器
func New(opts Options, logger *zap.Logger) *Sampler {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sampler{
		logger:  logger,
		sensor:  opts.Sensor,
		secure:  opts.SecureContext,
		timeout: timeout,
	}
}

// precheck 检查传感器是否存在以及是否处于安全上下文
func (s *Sampler) precheck() error {
	if s.sensor == nil {
		return ErrSensorUnavailable
	}
	if !s.secure {
		return ErrInsecureContext
	}
	return nil
}

// RequestPermission 请求定位权限
func (s *Sampler) RequestPermission(ctx context.Context) error {
	if err := s.precheck(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.sensor.RequestPermission(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// CurrentSample 获取一次定位
func (s *Sampler) CurrentSample(ctx context.Context) (models.GeoSample, error) {
	if err := s.precheck(); err != nil {
		return models.GeoSample{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reading, err := s.sensor.Read(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrPermissionDenied) {
			return models.GeoSample{}, ErrTimeout
		}
		return models.GeoSample{}, classify(err)
	}

	sample, err := models.NewGeoSample(models.SampleFields{
		Latitude:       reading.Latitude,
		Longitude:      reading.Longitude,
		AccuracyMeters: reading.Accuracy,
		AltitudeMeters: reading.Altitude,
		HeadingDegrees: reading.Heading,
		SpeedMPS:       reading.Speed,
		CapturedAt:     reading.Timestamp,
	})
	if err != nil {
		s.logger.Warn("Sensor returned invalid reading", zap.Error(err))
		return models.GeoSample{}, fmt.Errorf("%w: %w", ErrPositionUnavailable, err)
	}

	return sample, nil
}
