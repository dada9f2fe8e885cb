package volume

import (
	"errors"
	"fmt"

	"github.com/annel0/tilegrid/internal/grid"
	"github.com/annel0/tilegrid/internal/vec"
	"github.com/google/uuid"
)

// ErrSocketLimit превышен лимит одновременно живых сокетов
var ErrSocketLimit = errors.New("volume: socket limit reached")

// Socket маркер ячейки, к которому крепится тайл
type Socket struct {
	ID       string        `json:"id"`
	Position vec.Vec3Float `json:"position"`
}

// SocketInstancer создаёт сокеты для занятых ячеек и ведёт учёт живых.
// Не потокобезопасен; вызывается под мьютексом объёма.
type SocketInstancer struct {
	live    map[string]*Socket
	limit   int
	created uint64
}

// NewSocketInstancer создаёт инстансер; limit <= 0 снимает ограничение
func NewSocketInstancer(limit int) *SocketInstancer {
	return &SocketInstancer{
		live:  make(map[string]*Socket),
		limit: limit,
	}
}

func (si *SocketInstancer) InstantiateMarker(pos vec.Vec3Float) (grid.Marker, error) {
	if si.limit > 0 && len(si.live) >= si.limit {
		return nil, fmt.Errorf("%w (%d)", ErrSocketLimit, si.limit)
	}
	s := &Socket{ID: uuid.NewString(), Position: pos}
	si.live[s.ID] = s
	si.created++
	return s, nil
}

// Release освобождает сокеты прежней модели
func (si *SocketInstancer) Release(markers []grid.Marker) {
	for _, m := range markers {
		if s, ok := m.(*Socket); ok {
			delete(si.live, s.ID)
		}
	}
}

// Live число живых сокетов
func (si *SocketInstancer) Live() int { return len(si.live) }

// Created сколько сокетов создано за всё время
func (si *SocketInstancer) Created() uint64 { return si.created }
