package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSensor struct {
	permErr error
	reading Reading
	readErr error
	block   bool
}

func (s *stubSensor) RequestPermission(ctx context.Context) error { return s.permErr }

func (s *stubSensor) Read(ctx context.Context) (Reading, error) {
	if s.block {
		<-ctx.Done()
		return Reading{}, ctx.Err()
	}
	return s.reading, s.readErr
}

func TestSamplerPreconditions(t *testing.T) {
	s := New(Options{SecureContext: true}, zap.NewNop())
	_, err := s.CurrentSample(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)

	s = New(Options{Sensor: &stubSensor{}, SecureContext: false}, zap.NewNop())
	_, err = s.CurrentSample(context.Background())
	assert.ErrorIs(t, err, ErrInsecureContext)
	assert.ErrorIs(t, s.RequestPermission(context.Background()), ErrInsecureContext)
}

func TestSamplerCurrentSample(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s := New(Options{
		Sensor:        &stubSensor{reading: Reading{Latitude: -6.2, Longitude: 106.8, Accuracy: 8, Timestamp: at}},
		SecureContext: true,
	}, zap.NewNop())

	sample, err := s.CurrentSample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -6.2, sample.Latitude)
	assert.Equal(t, 106.8, sample.Longitude)
	assert.True(t, sample.CapturedAt.Equal(at))
}

func TestSamplerErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		sensor *stubSensor
		want   error
	}{
		{"permission", &stubSensor{readErr: ErrPermissionDenied}, ErrPermissionDenied},
		{"unknown failure", &stubSensor{readErr: errors.New("hardware fault")}, ErrPositionUnavailable},
		{"invalid reading", &stubSensor{reading: Reading{Latitude: 123}}, ErrPositionUnavailable},
		{"deadline", &stubSensor{readErr: context.DeadlineExceeded}, ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{Sensor: tt.sensor, SecureContext: true}, zap.NewNop())
			_, err := s.CurrentSample(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSamplerTimeout(t *testing.T) {
	s := New(Options{Sensor: &stubSensor{block: true}, SecureContext: true, Timeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	_, err := s.CurrentSample(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSamplerPermission(t *testing.T) {
	s := New(Options{Sensor: &stubSensor{permErr: ErrPermissionDenied}, SecureContext: true}, zap.NewNop())
	assert.ErrorIs(t, s.RequestPermission(context.Background()), ErrPermissionDenied)
}

func TestIsFatalAndMessages(t *testing.T) {
	assert.True(t, IsFatal(ErrPermissionDenied))
	assert.True(t, IsFatal(ErrSensorUnavailable))
	assert.False(t, IsFatal(ErrTimeout))
	assert.False(t, IsFatal(ErrPositionUnavailable))

	assert.NotEqual(t, UserMessage(ErrPermissionDenied), UserMessage(ErrInsecureContext))
	assert.Empty(t, UserMessage(nil))
}
