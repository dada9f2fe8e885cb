package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MariaStore реализует LayoutStore для MariaDB/MySQL.
// Снимок хранится целиком в JSON-колонке таблицы layout_snapshots.
type MariaStore struct {
	db *sql.DB
}

// NewMariaStore подключается к базе и создаёт таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaStore(ctx context.Context, dsn string) (*MariaStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MariaStore{db: db}
	if err := store.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (r *MariaStore) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS layout_snapshots (
			volume_id  VARCHAR(128) PRIMARY KEY,
			columns_n  INT          NOT NULL,
			rows_n     INT          NOT NULL,
			snapshot   LONGTEXT     NOT NULL,
			saved_at   DATETIME(6)  NOT NULL,
			INDEX idx_saved_at (saved_at)
		) ENGINE=InnoDB
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы layout_snapshots: %w", err)
	}
	return nil
}

// Save использует INSERT ... ON DUPLICATE KEY UPDATE для перезаписи.
func (r *MariaStore) Save(ctx context.Context, snap *Snapshot) error {
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
		return fmt.Errorf("ошибка сериализации снимка %s: %w", c.VolumeID, err)
	}

	query := `
		INSERT INTO layout_snapshots (volume_id, columns_n, rows_n, snapshot, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			columns_n = VALUES(columns_n),
			rows_n = VALUES(rows_n),
			snapshot = VALUES(snapshot),
			saved_at = VALUES(saved_at)
	`

	if _, err := r.db.ExecContext(ctx, query, c.VolumeID, c.Columns, c.Rows, string(data), c.SavedAt); err != nil {
		return fmt.Errorf("ошибка сохранения снимка %s: %w", c.VolumeID, err)
	}
	return nil
}

func (r *MariaStore) Load(ctx context.Context, volumeID string) (*Snapshot, bool, error) {
	if err := validate(ctx, volumeID); err != nil {
		return nil, false, err
	}

	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM layout_snapshots WHERE volume_id = ?`, volumeID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки снимка %s: %w", volumeID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptedValue, err)
	}
	return &snap, true, nil
}

func (r *MariaStore) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT volume_id FROM layout_snapshots ORDER BY volume_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка снимков: %w", err)
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

func (r *MariaStore) Delete(ctx context.Context, volumeID string) error {
	if err := validate(ctx, volumeID); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM layout_snapshots WHERE volume_id = ?`, volumeID); err != nil {
		return fmt.Errorf("ошибка удаления снимка %s: %w", volumeID, err)
	}
	return nil
}

func (r *MariaStore) Close() error {
	return r.db.Close()
}
