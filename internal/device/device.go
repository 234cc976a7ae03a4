// Package device 提供设备侧信号：当前用户身份与电量。
package device

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Profile 身份协作方，提供当前追踪对象与所属组织
type Profile interface {
	SubjectID() string
	OrganizationID() string
}

// StaticProfile 来自配置的固定身份
type StaticProfile struct {
	Subject      string
	Organization string
}

func (p StaticProfile) SubjectID() string      { return p.Subject }
func (p StaticProfile) OrganizationID() string { return p.Organization }

// BatteryReader 电量读取，取值 0-1；无法获取时返回 nil
type BatteryReader interface {
	Level() *float64
}

// SysfsBattery 从 /sys/class/power_supply 读取电量
type SysfsBattery struct {
	// Glob 匹配 capacity 文件，默认 /sys/class/power_supply/BAT*/capacity
	Glob string
}

// Level 实现 BatteryReader
func (b SysfsBattery) Level() *float64 {
	pattern := b.Glob
	if pattern == "" {
		pattern = "/sys/class/power_supply/BAT*/capacity"
	}
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil || pct < 0 {
		return nil
	}
	if pct > 100 {
		pct = 100
	}
	level := pct / 100
	return &level
}

// NoBattery 不提供电量信息
type NoBattery struct{}

func (NoBattery) Level() *float64 { return nil }
