package sampler

import (
	"context"
	"errors"
)

// 定位错误类型，均可用 errors.Is 判断
var (
	ErrSensorUnavailable   = errors.New("location sensor unavailable")
	ErrInsecureContext     = errors.New("location requires a secure context")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrTimeout             = errors.New("location fix timed out")
	ErrPositionUnavailable = errors.New("position unavailable")
)

// IsFatal 判断错误是否为致命错误（连续出现会导致追踪自动停止）
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrSensorUnavailable) ||
		errors.Is(err, ErrInsecureContext)
}

// UserMessage 返回面向用户的提示，不同错误的处理方式不同
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Location access was denied. Enable location permission for this app and try again."
	case errors.Is(err, ErrInsecureContext):
		return "Location is only available over a secure connection. Open the app over HTTPS."
	case errors.Is(err, ErrSensorUnavailable):
		return "No location sensor is available on this device."
	case errors.Is(err, ErrTimeout):
		return "Could not get a location fix in time. Move to an open area and retry."
	case errors.Is(err, ErrPositionUnavailable):
		return "The location sensor could not determine your position."
	default:
		return "Location could not be determined."
	}
}

// classify 将传感器返回的错误归类为上面的错误类型
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSensorUnavailable),
		errors.Is(err, ErrInsecureContext),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrPositionUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return errors.Join(ErrPositionUnavailable, err)
	}
}
