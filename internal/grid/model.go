package grid

import (
	"fmt"

	"github.com/annel0/tilegrid/internal/vec"
)

// Model раскладка слотов сетки. Слоты идут построчно: строки сверху вниз
// (от старшей к младшей), столбцы по возрастанию. len(slots) == Columns*Rows.
type Model struct {
	dims      Dimensions
	slots     []Element
	positions []vec.Vec3Float
	enabled   []bool
	markers   []Marker
}

func newModel(dims Dimensions) *Model {
	n := dims.Slots()
	return &Model{
		dims:      dims,
		slots:     make([]Element, n),
		positions: make([]vec.Vec3Float, n),
		enabled:   make([]bool, n),
	}
}

// Dimensions возвращает размеры сетки
func (m *Model) Dimensions() Dimensions { return m.dims }

// Len возвращает число слотов
func (m *Model) Len() int { return len(m.slots) }

// At возвращает элемент слота или nil
func (m *Model) At(i int) Element {
	if i < 0 || i >= len(m.slots) {
		return nil
	}
	return m.slots[i]
}

// PositionAt возвращает мировую позицию слота
func (m *Model) PositionAt(i int) vec.Vec3Float {
	if i < 0 || i >= len(m.positions) {
		return vec.Vec3Float{}
	}
	return m.positions[i]
}

// Enabled сообщает, включен ли слот последним проходом фильтра
func (m *Model) Enabled(i int) bool {
	if i < 0 || i >= len(m.enabled) {
		return false
	}
	return m.enabled[i]
}

// EnabledCount число включенных слотов
func (m *Model) EnabledCount() int {
	n := 0
	for _, on := range m.enabled {
		if on {
			n++
		}
	}
	return n
}

// Assigned число занятых слотов
func (m *Model) Assigned() int {
	n := 0
	for _, el := range m.slots {
		if el != nil {
			n++
		}
	}
	return n
}

// Markers возвращает копию списка маркеров
func (m *Model) Markers() []Marker {
	out := make([]Marker, len(m.markers))
	copy(out, m.markers)
	return out
}

// IndexOf переводит координату в индекс слота (Y*Columns + X)
func (m *Model) IndexOf(c Coord) (int, error) {
	if c.X < 0 || c.X >= m.dims.Columns || c.Y < 0 || c.Y >= m.dims.Rows {
		return -1, fmt.Errorf("%w: %s in %s grid", ErrIndexOutOfRange, c, m.dims)
	}
	idx := c.Y*m.dims.Columns + c.X
	if idx >= len(m.slots) {
		return -1, fmt.Errorf("%w: %s in %s grid", ErrIndexOutOfRange, c, m.dims)
	}
	return idx, nil
}

// CoordOf переводит индекс слота в координату
func (m *Model) CoordOf(i int) (Coord, error) {
	if i < 0 || i >= len(m.slots) {
		return Coord{}, fmt.Errorf("%w: index %d of %d", ErrIndexOutOfRange, i, len(m.slots))
	}
	return Coord{X: i % m.dims.Columns, Y: i / m.dims.Columns}, nil
}

// ElementAt возвращает элемент по координате
func (m *Model) ElementAt(c Coord) (Element, error) {
	idx, err := m.IndexOf(c)
	if err != nil {
		return nil, err
	}
	return m.slots[idx], nil
}

// Find возвращает индекс слота элемента или -1
func (m *Model) Find(el Element) int {
	if el == nil {
		return -1
	}
	for i, s := range m.slots {
		if s == el {
			return i
		}
	}
	return -1
}

// Each обходит слоты в порядке раскладки
func (m *Model) Each(fn func(i int, el Element)) {
	for i, el := range m.slots {
		fn(i, el)
	}
}

// SetSlotEnabled включает или выключает слот вместе с его элементом.
// Пустой слот включить нельзя.
func (m *Model) SetSlotEnabled(i int, on bool) error {
	if i < 0 || i >= len(m.slots) {
		return fmt.Errorf("%w: index %d of %d", ErrIndexOutOfRange, i, len(m.slots))
	}
	el := m.slots[i]
	if el == nil {
		on = false
	} else {
		el.SetEnabled(on)
	}
	m.enabled[i] = on
	return nil
}

// place записывает элемент в слот и переносит его в позицию слота
func (m *Model) place(i int, el Element) {
	m.slots[i] = el
	if p, ok := el.(Positioner); ok && el != nil {
		p.SetPosition(m.positions[i])
	}
}
