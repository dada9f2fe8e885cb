package grid

import (
	"fmt"
	"math"

	"github.com/annel0/tilegrid/internal/logging"
	"github.com/annel0/tilegrid/internal/vec"
)

// ComputeDimensions вычисляет число столбцов и строк, которые помещаются в объем.
// Неполные ячейки не выделяются.
func ComputeDimensions(boundsSize vec.Vec3Float, cell CellSpec, plane Plane) (Dimensions, error) {
	step := cell.Step()
	colAxis, rowAxis := plane.ColumnAxis(), plane.RowAxis()

	colStep, rowStep := step.Get(colAxis), step.Get(rowAxis)
	if !(colStep > 0) || !(rowStep > 0) {
		return Dimensions{}, fmt.Errorf("%w: size+padding must be positive on %s and %s, got %g and %g",
			ErrConfiguration, colAxis, rowAxis, colStep, rowStep)
	}

	cols := cellCount(boundsSize.Get(colAxis), colStep)
	rows := cellCount(boundsSize.Get(rowAxis), rowStep)
	if cols < 0 || rows < 0 {
		return Dimensions{}, fmt.Errorf("%w: bounds size %+v is not finite", ErrConfiguration, boundsSize)
	}

	return Dimensions{Columns: cols, Rows: rows}, nil
}

func cellCount(extent, step float64) int {
	n := math.Floor(extent / step)
	if math.IsNaN(n) || math.IsInf(n, 0) || n > math.MaxInt32 {
		return -1
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

// EngineConfig параметры движка раскладки
type EngineConfig struct {
	Cell      CellSpec
	Plane     Plane
	Bounds    BoundsProvider
	Instancer Instancer
	Logger    *logging.Logger
}

// Engine строит модель сетки по границам объема и спецификации ячейки
type Engine struct {
	cell      CellSpec
	plane     Plane
	bounds    BoundsProvider
	instancer Instancer
	model     *Model
	log       *logging.Logger
}

// NewEngine создаёт движок раскладки
func NewEngine(cfg EngineConfig) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logging.GetGridLogger()
	}
	return &Engine{
		cell:      cfg.Cell,
		plane:     cfg.Plane,
		bounds:    cfg.Bounds,
		instancer: cfg.Instancer,
		log:       log,
	}
}

// Model возвращает текущую модель (nil до первой успешной сборки)
func (e *Engine) Model() *Model { return e.model }

// Plane возвращает плоскость раскладки
func (e *Engine) Plane() Plane { return e.plane }

// Cell возвращает спецификацию ячейки
func (e *Engine) Cell() CellSpec { return e.cell }

// SetBounds заменяет источник границ (перемещение или масштабирование объема)
func (e *Engine) SetBounds(b BoundsProvider) { e.bounds = b }

// ComputeDimensions вычисляет размеры по текущим границам
func (e *Engine) ComputeDimensions() (Dimensions, error) {
	if e.bounds == nil {
		return Dimensions{}, fmt.Errorf("%w: no bounds provider", ErrConfiguration)
	}
	return ComputeDimensions(e.bounds.BoundsSize(), e.cell, e.plane)
}

// Origin позиция первой ячейки: минимальный угол объема плюс отступ на осях
// раскладки, по глубине центр объема.
func (e *Engine) Origin() vec.Vec3Float {
	if e.bounds == nil {
		return vec.Vec3Float{}
	}
	min, size := e.bounds.BoundsMin(), e.bounds.BoundsSize()
	col, row, depth := e.plane.ColumnAxis(), e.plane.RowAxis(), e.plane.DepthAxis()

	return min.
		With(col, min.Get(col)+e.cell.Padding.Get(col)).
		With(row, min.Get(row)+e.cell.Padding.Get(row)).
		With(depth, min.Get(depth)+size.Get(depth)/2)
}

// SlotPosition возвращает позицию ячейки (col,row); row считается снизу
func (e *Engine) SlotPosition(col, row int) vec.Vec3Float {
	origin := e.Origin()
	step := e.cell.Step()
	colAxis, rowAxis := e.plane.ColumnAxis(), e.plane.RowAxis()

	return origin.
		With(colAxis, origin.Get(colAxis)+float64(col)*step.Get(colAxis)).
		With(rowAxis, origin.Get(rowAxis)+float64(row)*step.Get(rowAxis))
}

// Build собирает новую модель и назначает элементы по слотам.
//
// Отрицательные размеры не ошибка, предыдущая модель остается текущей.
// Маркеры создаются только для слотов, получивших элемент. Сборка атомарна:
// при ошибке создания маркера текущая модель не меняется.
func (e *Engine) Build(dims Dimensions, elements []Element) (*Model, error) {
	if dims.Columns < 0 || dims.Rows < 0 {
		e.log.Warn("Отрицательные размеры сетки %s, перестройка пропущена", dims)
		return e.model, nil
	}

	m := newModel(dims)
	limit := len(elements)
	if limit > m.Len() {
		e.log.Debug("Элементов %d больше, чем слотов %d; лишние не назначены", limit, m.Len())
		limit = m.Len()
	}

	i := 0
	for row := dims.Rows - 1; row >= 0; row-- {
		for col := 0; col < dims.Columns; col++ {
			pos := e.SlotPosition(col, row)
			m.positions[i] = pos

			if i < limit && e.instancer != nil {
				marker, err := e.instancer.InstantiateMarker(pos)
				if err != nil {
					if r, ok := e.instancer.(Releaser); ok {
						r.Release(m.markers)
					}
					return e.model, fmt.Errorf("instantiate marker for slot %d: %w", i, err)
				}
				m.markers = append(m.markers, marker)
			}
			i++
		}
	}

	for i := 0; i < limit; i++ {
		m.place(i, elements[i])
	}

	e.model = m
	e.log.Debug("Сетка %s собрана: %d элементов, %d маркеров", dims, limit, len(m.markers))
	return m, nil
}

// AssignAt записывает элемент в слот по координате (индекс Y*Columns + X).
// Если элемент уже стоял в другом слоте, тот слот освобождается; вытесненный
// элемент выключается. Слот получает состояние включения самого элемента
// (или его прежнего слота, если элемент о нём не сообщает).
func (e *Engine) AssignAt(m *Model, el Element, c Coord) error {
	if m == nil {
		return fmt.Errorf("%w: grid is not built", ErrIndexOutOfRange)
	}

	idx, err := m.IndexOf(c)
	if err != nil {
		return err
	}

	on := false
	if prev := m.Find(el); prev >= 0 && prev != idx {
		on = m.enabled[prev]
		m.slots[prev] = nil
		m.enabled[prev] = false
	} else if prev == idx {
		on = m.enabled[idx]
	}
	if r, ok := el.(EnabledReporter); ok {
		on = r.Enabled()
	}

	if displaced := m.slots[idx]; displaced != nil && displaced != el {
		displaced.SetEnabled(false)
	}

	m.place(idx, el)
	m.enabled[idx] = on && el != nil
	return nil
}

// ApplyContainmentFilter включает элементы, лежащие внутри объема, в порядке
// обхода. Первый пустой слот или элемент вне объема прерывает обход: этот и
// все последующие слоты выключаются. Возвращает число включенных слотов.
func (e *Engine) ApplyContainmentFilter(m *Model, test ContainmentTest) int {
	if m == nil {
		return 0
	}

	cut := m.Len()
	for i, el := range m.slots {
		if el == nil || test == nil || !test(el.Position()) {
			cut = i
			break
		}
		m.enabled[i] = true
		el.SetEnabled(true)
	}

	for i := cut; i < m.Len(); i++ {
		m.enabled[i] = false
		if el := m.slots[i]; el != nil {
			el.SetEnabled(false)
		}
	}

	e.log.Trace("Фильтр принадлежности: включено %d из %d слотов", cut, m.Len())
	return cut
}

// Layout полный проход: размеры по границам, сборка и фильтр принадлежности
func (e *Engine) Layout(elements []Element) (*Model, error) {
	dims, err := e.ComputeDimensions()
	if err != nil {
		return e.model, err
	}

	m, err := e.Build(dims, elements)
	if err != nil {
		return m, err
	}

	e.ApplyContainmentFilter(m, e.bounds.ContainsPoint)
	return m, nil
}
