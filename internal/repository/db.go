package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// Querier 仓库使用的最小数据库接口，*pgxpool.Pool 与 pgxmock 均满足
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 4
	config.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	return migrate(ctx, db.Pool)
}

func migrate(ctx context.Context, q Querier) error {
	migrations := []string{
		migrationCreateTrackedLocations,
		migrationCreateTrackingSessions,
		migrationCreateIncidentReports,
	}

	for _, m := range migrations {
		if _, err := q.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateTrackedLocations = `
CREATE TABLE IF NOT EXISTS tracked_locations (
    id UUID PRIMARY KEY,
    subject_id VARCHAR(255) NOT NULL,
    organization_id VARCHAR(255) NOT NULL DEFAULT '',
    vehicle_id VARCHAR(255),
    route_id VARCHAR(255),
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    accuracy_m DOUBLE PRECISION NOT NULL DEFAULT 0,
    altitude_m DOUBLE PRECISION,
    heading_deg DOUBLE PRECISION,
    speed_mps DOUBLE PRECISION,
    battery_level DOUBLE PRECISION,
    captured_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tracked_locations_subject_captured ON tracked_locations(subject_id, captured_at DESC);
`

const migrationCreateTrackingSessions = `
CREATE TABLE IF NOT EXISTS tracking_sessions (
    subject_id VARCHAR(255) PRIMARY KEY,
    organization_id VARCHAR(255) NOT NULL DEFAULT '',
    vehicle_id VARCHAR(255),
    route_id VARCHAR(255),
    is_active BOOLEAN NOT NULL DEFAULT FALSE,
    sample_interval_ms INTEGER NOT NULL DEFAULT 10000,
    started_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tracking_sessions_org_active ON tracking_sessions(organization_id, is_active);
`

const migrationCreateIncidentReports = `
CREATE TABLE IF NOT EXISTS incident_reports (
    id UUID PRIMARY KEY,
    subject_id VARCHAR(255) NOT NULL,
    organization_id VARCHAR(255) NOT NULL DEFAULT '',
    category VARCHAR(100) NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    reported_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
