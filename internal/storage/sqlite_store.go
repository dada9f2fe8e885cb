package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore хранит снимки в одном файле SQLite (чистый Go драйвер).
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore открывает (или создаёт) базу по пути файла
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func initSQLite(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS layouts (
			volume_id TEXT PRIMARY KEY,
			columns_n INTEGER NOT NULL,
			rows_n INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("sqlite init: %w", err)
		}
	}
	return nil
}

// Path возвращает путь к файлу базы
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrEmptyVolumeID)
	}
	if err := validate(ctx, snap.VolumeID); err != nil {
		return err
	}

	c := cloneSnapshot(snap)
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO layouts (volume_id, columns_n, rows_n, snapshot, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(volume_id) DO UPDATE SET
			columns_n = excluded.columns_n,
			rows_n = excluded.rows_n,
			snapshot = excluded.snapshot,
			saved_at = excluded.saved_at`,
		c.VolumeID, c.Columns, c.Rows, string(data), c.SavedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", c.VolumeID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, volumeID string) (*Snapshot, bool, error) {
	if err := validate(ctx, volumeID); err != nil {
		return nil, false, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM layouts WHERE volume_id = ?`, volumeID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", volumeID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptedValue, err)
	}
	return &snap, true, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT volume_id FROM layouts ORDER BY volume_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, volumeID string) error {
	if err := validate(ctx, volumeID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM layouts WHERE volume_id = ?`, volumeID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", volumeID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
