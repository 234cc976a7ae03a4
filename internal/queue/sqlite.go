package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/langchou/fieldtrack/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite 文件的队列存储，进程重启后数据仍在
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS queued_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    payload BLOB NOT NULL,
    enqueued_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queued_records_kind ON queued_records(kind, id);
`

// OpenSQLite 打开（或创建）队列数据库
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	// 单连接，写操作串行化
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate queue database: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Append 实现 Store
func (s *SQLiteStore) Append(ctx context.Context, rec models.QueuedRecord) (models.QueuedRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queued_records (kind, payload, enqueued_at) VALUES (?, ?, ?)`,
		string(rec.Kind), []byte(rec.Payload), rec.EnqueuedAt.UnixNano())
	if err != nil {
		return models.QueuedRecord{}, fmt.Errorf("insert queued record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.QueuedRecord{}, fmt.Errorf("queued record id: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// ReadAll 实现 Store
func (s *SQLiteStore) ReadAll(ctx context.Context, kind models.RecordKind) ([]models.QueuedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, payload, enqueued_at FROM queued_records WHERE kind = ? ORDER BY id`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("list queued records: %w", err)
	}
	defer rows.Close()

	var records []models.QueuedRecord
	for rows.Next() {
		var (
			rec      models.QueuedRecord
			k        string
			payload  []byte
			enqueued int64
		)
		if err := rows.Scan(&rec.ID, &k, &payload, &enqueued); err != nil {
			return nil, fmt.Errorf("scan queued record: %w", err)
		}
		rec.Kind = models.RecordKind(k)
		rec.Payload = payload
		rec.EnqueuedAt = time.Unix(0, enqueued).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RemoveSubset 实现 Store
func (s *SQLiteStore) RemoveSubset(ctx context.Context, kind models.RecordKind, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(kind))
	for _, id := range ids {
		args = append(args, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback()

	query := `DELETE FROM queued_records WHERE kind = ? AND id IN (` + placeholders + `)`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove queued records: %w", err)
	}
	return tx.Commit()
}

// TrimOldest 实现 Store
func (s *SQLiteStore) TrimOldest(ctx context.Context, kind models.RecordKind, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queued_records
		WHERE kind = ? AND id NOT IN (
			SELECT id FROM queued_records WHERE kind = ? ORDER BY id DESC LIMIT ?
		)`, string(kind), string(kind), keep)
	if err != nil {
		return 0, fmt.Errorf("trim queued records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count 实现 Store
func (s *SQLiteStore) Count(ctx context.Context, kind models.RecordKind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queued_records WHERE kind = ?`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued records: %w", err)
	}
	return n, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
