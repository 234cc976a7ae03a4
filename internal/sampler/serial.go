package sampler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// NMEASensor 串口 GPS 接收机
type NMEASensor struct {
	logger *zap.Logger
	device string
	open   func() (io.ReadCloser, error)
}

// NewNMEASensor 创建串口 GPS 传感器
func NewNMEASensor(logger *zap.Logger, device string, baud int) *NMEASensor {
	if baud <= 0 {
		baud = 9600
	}
	return &NMEASensor{
		logger: logger,
		device: device,
		open: func() (io.ReadCloser, error) {
			port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
			if err != nil {
				return nil, err
			}
			if err := port.SetReadTimeout(time.Second); err != nil {
				port.Close()
				return nil, fmt.Errorf("set read timeout: %w", err)
			}
			return port, nil
		},
	}
}

// newNMEASensorFromOpener 使用自定义数据源（测试用）
func newNMEASensorFromOpener(logger *zap.Logger, open func() (io.ReadCloser, error)) *NMEASensor {
	return &NMEASensor{logger: logger, device: "test", open: open}
}

// RequestPermission 打开一次串口确认可访问
func (s *NMEASensor) RequestPermission(ctx context.Context) error {
	rc, err := s.open()
	if err != nil {
		return mapOpenError(err)
	}
	return rc.Close()
}

// Read 读取直到得到一个有效定位
func (s *NMEASensor) Read(ctx context.Context) (Reading, error) {
	rc, err := s.open()
	if err != nil {
		return Reading{}, mapOpenError(err)
	}

	type result struct {
		reading Reading
		err     error
	}
	done := make(chan result, 1)

	go func() {
		r, err := s.scan(rc)
		done <- result{r, err}
	}()

	select {
	case res := <-done:
		rc.Close()
		return res.reading, res.err
	case <-ctx.Done():
		// 关闭串口使读取协程退出
		rc.Close()
		<-done
		return Reading{}, ctx.Err()
	}
}

// scan 逐行解析 NMEA，遇到有效 RMC 后尽量合并同一历元的 GGA
func (s *NMEASensor) scan(r io.Reader) (Reading, error) {
	scanner := bufio.NewScanner(r)
	var (
		lastGGA    *nmea.GGA
		pendingRMC *nmea.RMC
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			s.logger.Debug("Skipping bad NMEA sentence", zap.String("device", s.device), zap.Error(err))
			continue
		}

		switch m := sentence.(type) {
		case nmea.GGA:
			if !ggaHasFix(m) {
				continue
			}
			lastGGA = &m
			if pendingRMC != nil && pendingRMC.Time == m.Time {
				return merge(*pendingRMC, lastGGA), nil
			}
		case nmea.RMC:
			if !rmcHasFix(m) {
				continue
			}
			if lastGGA != nil && lastGGA.Time == m.Time {
				return merge(m, lastGGA), nil
			}
			if pendingRMC != nil {
				// 上一历元没有 GGA，直接使用
				return merge(*pendingRMC, nil), nil
			}
			pendingRMC = &m
		}
	}

	if pendingRMC != nil {
		return merge(*pendingRMC, nil), nil
	}
	if err := scanner.Err(); err != nil {
		return Reading{}, fmt.Errorf("%w: read %s: %w", ErrPositionUnavailable, s.device, err)
	}
	return Reading{}, fmt.Errorf("%w: stream from %s ended without a fix", ErrPositionUnavailable, s.device)
}

// mapOpenError 将串口打开错误映射为定位错误类型
func mapOpenError(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case serial.PortNotFound, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
		}
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	return fmt.Errorf("%w: open sensor: %v", ErrPositionUnavailable, err)
}
