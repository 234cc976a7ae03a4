package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/models"
	"github.com/langchou/fieldtrack/internal/repository"
)

// localSnapshot 本机状态快照，电量和连接质量为实时值
func (t *Tracker) localSnapshot() models.TrackingStatusSnapshot {
	t.mu.RLock()
	snap := models.TrackingStatusSnapshot{SubjectID: t.profile.SubjectID()}
	if t.session != nil {
		snap.SubjectID = t.session.SubjectID
		snap.IsTracking = true
	} else if t.last != nil {
		snap.SubjectID = t.last.subjectID
	}
	if t.last != nil && t.last.subjectID == snap.SubjectID {
		sample := t.last.sample
		at := t.last.at
		snap.LastKnownLocation = &sample
		snap.LastUpdateAt = &at
		snap.BatteryLevel = t.last.battery
	}
	t.mu.RUnlock()

	if level := t.battery.Level(); level != nil {
		snap.BatteryLevel = level
	}
	snap.ConnectivityQuality = models.QualityFor(t.monitor.IsOnline(), snap.LastUpdateAt, time.Now())
	return snap
}

// localSnapshotFor 本机是否有该对象的数据
func (t *Tracker) localSnapshotFor(subjectID string) (models.TrackingStatusSnapshot, bool) {
	snap := t.localSnapshot()
	if snap.SubjectID != subjectID {
		return models.TrackingStatusSnapshot{}, false
	}
	if !snap.IsTracking && snap.LastKnownLocation == nil {
		return models.TrackingStatusSnapshot{}, false
	}
	return snap, true
}

// LocalStatus 本机当前状态（用于 WebSocket 推送）
func (t *Tracker) LocalStatus() models.TrackingStatusSnapshot {
	return t.localSnapshot()
}

// TrackingStatus 查询对象的追踪状态。远端可达时读远端，否则使用本机状态；没有任何数据返回 nil
func (t *Tracker) TrackingStatus(ctx context.Context, subjectID string) (*models.TrackingStatusSnapshot, error) {
	if err := validateSubject(subjectID); err != nil {
		return nil, err
	}

	local, hasLocal := t.localSnapshotFor(subjectID)

	if t.remoteReachable() {
		remote, err := t.remoteSnapshot(ctx, subjectID, nil)
		switch {
		case err == nil:
			if hasLocal {
				merged := mergeSnapshots(local, *remote)
				return &merged, nil
			}
			return remote, nil
		case errors.Is(err, repository.ErrNotFound):
		default:
			t.logger.Warn("Failed to read remote status, using local state",
				zap.String("subject_id", subjectID),
				zap.Error(err))
		}
	}

	if hasLocal {
		return &local, nil
	}
	return nil, nil
}

// ActiveSubjects 组织内所有正在追踪的对象。远端不可达时只返回本机
func (t *Tracker) ActiveSubjects(ctx context.Context) ([]models.TrackingStatusSnapshot, error) {
	local := t.localSnapshot()
	hasLocal := local.IsTracking

	if t.remoteReachable() {
		sessions, err := t.remote.ActiveSessions(ctx, t.profile.OrganizationID())
		if err == nil {
			out := make([]models.TrackingStatusSnapshot, 0, len(sessions)+1)
			seenLocal := false
			for _, session := range sessions {
				if hasLocal && session.SubjectID == local.SubjectID {
					seenLocal = true
					remote, err := t.remoteSnapshot(ctx, session.SubjectID, session)
					if err != nil {
						out = append(out, local)
						continue
					}
					out = append(out, mergeSnapshots(local, *remote))
					continue
				}

				snap, err := t.remoteSnapshot(ctx, session.SubjectID, session)
				if err != nil {
					t.logger.Warn("Failed to read subject status",
						zap.String("subject_id", session.SubjectID),
						zap.Error(err))
					continue
				}
				out = append(out, *snap)
			}
			if hasLocal && !seenLocal {
				out = append(out, local)
			}
			return out, nil
		}
		t.logger.Warn("Failed to list active sessions, using local state", zap.Error(err))
	}

	if hasLocal {
		return []models.TrackingStatusSnapshot{local}, nil
	}
	return []models.TrackingStatusSnapshot{}, nil
}

// remoteSnapshot 由远端最新位置和会话拼出快照。session 为 nil 时从远端读取
func (t *Tracker) remoteSnapshot(ctx context.Context, subjectID string, session *models.TrackingSession) (*models.TrackingStatusSnapshot, error) {
	rec, err := t.remote.LatestLocation(ctx, subjectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("latest location: %w", err)
	}

	if session == nil {
		session, err = t.remote.Session(ctx, subjectID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("get session: %w", err)
		}
	}

	if rec == nil && session == nil {
		return nil, repository.ErrNotFound
	}

	snap := &models.TrackingStatusSnapshot{SubjectID: subjectID}
	if rec != nil {
		sample := rec.Sample
		at := sample.CapturedAt
		snap.LastKnownLocation = &sample
		snap.LastUpdateAt = &at
		snap.BatteryLevel = rec.BatteryLevel
	}
	if session != nil {
		snap.IsTracking = session.IsActive
	}
	snap.ConnectivityQuality = models.QualityFor(true, snap.LastUpdateAt, time.Now())
	return snap, nil
}

// mergeSnapshots 本机快照与远端快照合并：位置取较新的一方，追踪状态和电量以本机为准
func mergeSnapshots(local, remote models.TrackingStatusSnapshot) models.TrackingStatusSnapshot {
	merged := local
	if local.LastUpdateAt == nil ||
		(remote.LastUpdateAt != nil && remote.LastUpdateAt.After(*local.LastUpdateAt)) {
		merged.LastKnownLocation = remote.LastKnownLocation
		merged.LastUpdateAt = remote.LastUpdateAt
	}
	if merged.BatteryLevel == nil {
		merged.BatteryLevel = remote.BatteryLevel
	}
	merged.ConnectivityQuality = models.QualityFor(true, merged.LastUpdateAt, time.Now())
	return merged
}
