package storage

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/tilegrid/internal/physics"
	"github.com/annel0/tilegrid/internal/vec"
)

var (
	ErrNotReady       = errors.New("storage: store is not ready")
	ErrEmptyVolumeID  = errors.New("storage: empty volume id")
	ErrCorruptedValue = errors.New("storage: corrupted snapshot")
)

// SlotRecord состояние одной ячейки сетки
type SlotRecord struct {
	Index    int           `json:"index"`
	Coord    vec.Vec2      `json:"coord"`
	TileID   string        `json:"tile_id,omitempty"` // пусто = ячейка свободна
	Position vec.Vec3Float `json:"position"`
	Enabled  bool          `json:"enabled"`
}

// TileRecord тайл объёма в порядке списка, включая не попавшие в сетку
type TileRecord struct {
	ID    string  `json:"id"`
	Scale float64 `json:"scale"`
}

// Snapshot снимок раскладки объёма
type Snapshot struct {
	VolumeID string         `json:"volume_id"`
	Columns  int            `json:"columns"`
	Rows     int            `json:"rows"`
	Plane    string         `json:"plane"`
	Bounds   physics.Bounds `json:"bounds"`
	Slots    []SlotRecord   `json:"slots"`
	Tiles    []TileRecord   `json:"tiles,omitempty"`
	SavedAt  time.Time      `json:"saved_at"`
}

// Assigned возвращает число занятых ячеек
func (s *Snapshot) Assigned() int {
	n := 0
	for _, r := range s.Slots {
		if r.TileID != "" {
			n++
		}
	}
	return n
}

// LayoutStore определяет интерфейс для сохранения и загрузки раскладок.
// Снимки привязаны к идентификатору объёма; повторный Save перезаписывает.
type LayoutStore interface {
	// Save сохраняет снимок; SavedAt заполняется, если пуст.
	Save(ctx context.Context, snap *Snapshot) error

	// Load загружает снимок. found=false, если снимка нет.
	Load(ctx context.Context, volumeID string) (*Snapshot, bool, error)

	// List возвращает идентификаторы сохранённых объёмов по возрастанию.
	List(ctx context.Context) ([]string, error)

	// Delete удаляет снимок; отсутствие снимка не ошибка.
	Delete(ctx context.Context, volumeID string) error

	Close() error
}

func validate(ctx context.Context, volumeID string) error {
	if volumeID == "" {
		return ErrEmptyVolumeID
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

// cloneSnapshot копирует снимок вместе со срезами ячеек и тайлов
func cloneSnapshot(s *Snapshot) *Snapshot {
	c := *s
	c.Slots = append([]SlotRecord(nil), s.Slots...)
	c.Tiles = append([]TileRecord(nil), s.Tiles...)
	return &c
}
