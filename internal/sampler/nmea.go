package sampler

import (
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// 米/节
const knotsToMPS = 0.514444

// uereMeters 用于将 HDOP 换算为水平精度（米）
const uereMeters = 5.0

func rmcHasFix(s nmea.RMC) bool { return s.Validity == nmea.ValidRMC }

func ggaHasFix(s nmea.GGA) bool { return s.FixQuality != "" && s.FixQuality != nmea.Invalid }

// fixTime 由 RMC 的日期与时间得到 UTC 时刻。两位年份 80 以后视为 19xx
func fixTime(d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return time.Time{}
	}
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

// merge 合并同一历元的 RMC 与 GGA
func merge(rmc nmea.RMC, gga *nmea.GGA) Reading {
	speed := rmc.Speed * knotsToMPS
	r := Reading{
		Latitude:  rmc.Latitude,
		Longitude: rmc.Longitude,
		Speed:     &speed,
		Timestamp: fixTime(rmc.Date, rmc.Time),
	}
	// 静止时航向字段为空或无意义
	if rmc.Speed > 0 && rmc.Course >= 0 && rmc.Course <= 360 {
		course := rmc.Course
		r.Heading = &course
	}
	if gga != nil && gga.Time == rmc.Time {
		altitude := gga.Altitude
		r.Altitude = &altitude
		r.Accuracy = gga.HDOP * uereMeters
	}
	return r
}
