package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/tilegrid/internal/eventbus"
	"github.com/annel0/tilegrid/internal/grid"
	"github.com/annel0/tilegrid/internal/logging"
	"github.com/annel0/tilegrid/internal/physics"
	"github.com/annel0/tilegrid/internal/storage"
	"github.com/annel0/tilegrid/internal/tile"
	"github.com/annel0/tilegrid/internal/tween"
	"github.com/annel0/tilegrid/internal/vec"
)

var (
	ErrTileNotFound  = errors.New("volume: tile not found")
	ErrDuplicateTile = errors.New("volume: tile id already exists")
	ErrNotMovable    = errors.New("volume: volume cannot be moved")
	ErrNotScalable   = errors.New("volume: volume cannot be resized")
	ErrClosed        = errors.New("volume: volume is closed")
	ErrNoAffordance  = errors.New("volume: affordance settings are required")
)

// TileTemplate флаги, с которыми объём создаёт свои тайлы
type TileTemplate struct {
	RegisterTapEvents  bool
	UseScaleAffordance bool
	UseColorAffordance bool
	Scale              float64
}

// TileSpec параметры одного тайла при добавлении
type TileSpec struct {
	ID    string  `json:"id,omitempty"`
	Scale float64 `json:"scale,omitempty"` // 0 = масштаб из шаблона
}

// Options параметры объёма. Bus, Store и Metrics необязательны.
type Options struct {
	ID         string
	Bounds     physics.Bounds
	Cell       grid.CellSpec
	Plane      grid.Plane
	CanBeMoved bool
	IsScalable bool
	HideTiles  bool

	Affordance *tile.AffordanceSettings
	Template   TileTemplate

	SocketLimit int
	Bus         eventbus.EventBus
	Store       storage.LayoutStore
	Metrics     *Metrics
	Logger      *logging.Logger
}

// Volume ограниченный объём с сеткой тайлов.
//
// Все методы сериализуются на одном мьютексе: планировщик твинов и тайлы
// работают только под ним. Наблюдатели тайлов вызываются под тем же
// мьютексом и не должны обращаться к Volume.
type Volume struct {
	mu sync.Mutex

	id         string
	bounds     physics.Bounds
	canBeMoved bool
	isScalable bool
	hideTiles  bool

	settings  *tile.AffordanceSettings
	template  TileTemplate
	scheduler *tween.Scheduler
	engine    *grid.Engine
	sockets   *SocketInstancer

	tiles []*tile.Tile
	byID  map[string]*tile.Tile

	bridge  *eventbus.TileBridge
	store   storage.LayoutStore
	metrics *Metrics
	log     *logging.Logger

	closed bool
}

// New создаёт объём без тайлов; сетка строится первым Relayout/AddTile
func New(opts Options) (*Volume, error) {
	if opts.Affordance == nil {
		return nil, ErrNoAffordance
	}
	if opts.ID == "" {
		return nil, fmt.Errorf("%w: empty volume id", grid.ErrConfiguration)
	}
	if _, err := grid.ComputeDimensions(opts.Bounds.Size, opts.Cell, opts.Plane); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logging.GetVolumeLogger()
	}
	if opts.Template.Scale == 0 {
		opts.Template.Scale = 1
	}

	sockets := NewSocketInstancer(opts.SocketLimit)
	v := &Volume{
		id:         opts.ID,
		bounds:     opts.Bounds,
		canBeMoved: opts.CanBeMoved,
		isScalable: opts.IsScalable,
		hideTiles:  opts.HideTiles,
		settings:   opts.Affordance,
		template:   opts.Template,
		scheduler:  tween.NewScheduler(nil),
		sockets:    sockets,
		byID:       make(map[string]*tile.Tile),
		store:      opts.Store,
		metrics:    opts.Metrics,
		log:        log,
	}
	v.engine = grid.NewEngine(grid.EngineConfig{
		Cell:      opts.Cell,
		Plane:     opts.Plane,
		Bounds:    opts.Bounds,
		Instancer: sockets,
	})
	if opts.Bus != nil {
		v.bridge = eventbus.NewTileBridge(opts.Bus, opts.ID)
	}

	return v, nil
}

// ID идентификатор объёма
func (v *Volume) ID() string { return v.id }

// Bounds текущие границы объёма
func (v *Volume) Bounds() physics.Bounds {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bounds
}

// AddTile добавляет тайл в конец списка и перестраивает сетку
func (v *Volume) AddTile(ctx context.Context, spec TileSpec) (tile.State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return tile.State{}, ErrClosed
	}

	t, err := v.newTileLocked(spec)
	if err != nil {
		return tile.State{}, err
	}
	v.tiles = append(v.tiles, t)
	v.byID[t.ID()] = t

	if _, err := v.relayoutLocked(ctx); err != nil {
		v.removeLocked(t)
		return tile.State{}, err
	}
	return t.Snapshot(), nil
}

// SetTiles заменяет все тайлы объёма
func (v *Volume) SetTiles(ctx context.Context, specs []TileSpec) (*storage.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]bool, len(specs))
	fresh := make([]*tile.Tile, 0, len(specs))
	for _, spec := range specs {
		if spec.ID != "" {
			if seen[spec.ID] {
				closeAll(fresh)
				return nil, fmt.Errorf("%w: %s", ErrDuplicateTile, spec.ID)
			}
			seen[spec.ID] = true
		}
		t, err := v.buildTile(spec)
		if err != nil {
			closeAll(fresh)
			return nil, err
		}
		fresh = append(fresh, t)
	}

	oldTiles, oldByID := v.tiles, v.byID
	v.tiles = fresh
	v.byID = make(map[string]*tile.Tile, len(fresh))
	for _, t := range fresh {
		v.byID[t.ID()] = t
	}

	snap, err := v.relayoutLocked(ctx)
	if err != nil {
		closeAll(fresh)
		v.tiles, v.byID = oldTiles, oldByID
		return nil, err
	}
	closeAll(oldTiles)
	return snap, nil
}

// RemoveTile закрывает тайл и перестраивает сетку
func (v *Volume) RemoveTile(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}

	t, ok := v.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTileNotFound, id)
	}
	v.removeLocked(t)

	_, err := v.relayoutLocked(ctx)
	return err
}

// PlaceAt ставит тайл в ячейку по координате (индекс Y*Columns + X).
// Фильтр принадлежности проверяет только эту ячейку. Назначение действует до
// следующей перестройки сетки.
func (v *Volume) PlaceAt(id string, c grid.Coord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}

	t, ok := v.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTileNotFound, id)
	}

	m := v.engine.Model()
	if err := v.engine.AssignAt(m, t, c); err != nil {
		return err
	}

	idx, _ := m.IndexOf(c)
	visible := !v.hideTiles && v.bounds.Contains(t.Position())
	if err := m.SetSlotEnabled(idx, visible); err != nil {
		return err
	}

	v.log.Debug("Тайл %s поставлен в %s (включен: %t)", id, c, visible)
	return nil
}

// Relayout перестраивает сетку по текущим границам
func (v *Volume) Relayout(ctx context.Context) (*storage.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}
	return v.relayoutLocked(ctx)
}

// Move сдвигает объём; доступно только при CanBeMoved
func (v *Volume) Move(ctx context.Context, offset vec.Vec3Float) (*storage.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}
	if !v.canBeMoved {
		return nil, ErrNotMovable
	}
	return v.rebound(ctx, v.bounds.Translate(offset))
}

// Resize меняет размер объёма; доступно только при IsScalable
func (v *Volume) Resize(ctx context.Context, size vec.Vec3Float) (*storage.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}
	if !v.isScalable {
		return nil, ErrNotScalable
	}
	return v.rebound(ctx, v.bounds.Resize(size))
}

// SetHideTiles прячет или показывает все тайлы и перестраивает сетку
func (v *Volume) SetHideTiles(ctx context.Context, hide bool) (*storage.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}
	v.hideTiles = hide
	return v.relayoutLocked(ctx)
}

// Tap передаёт нажатие тайлу
func (v *Volume) Tap(id string, interactor tile.EntityRef) (tile.State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	t, err := v.lookupLocked(id)
	if err != nil {
		return tile.State{}, err
	}
	t.Tap(interactor)
	v.metrics.tap()
	v.metrics.tweens(v.scheduler.Stats())
	return t.Snapshot(), nil
}

// ExitTap передаёт отпускание тайлу
func (v *Volume) ExitTap(id string) (tile.State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	t, err := v.lookupLocked(id)
	if err != nil {
		return tile.State{}, err
	}
	t.ExitTap()
	v.metrics.exitTap()
	v.metrics.tweens(v.scheduler.Stats())
	return t.Snapshot(), nil
}

// Subscribe подписывает наблюдателя на события тайла
func (v *Volume) Subscribe(id string, o tile.Observer) (tile.Subscription, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	t, err := v.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return &lockedSubscription{mu: &v.mu, sub: t.Subscribe(o)}, nil
}

// Tick продвигает анимации на dt; возвращает число завершенных твинов
func (v *Volume) Tick(dt time.Duration) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0
	}
	done := v.scheduler.Advance(dt)
	v.metrics.tweens(v.scheduler.Stats())
	return done
}

// Run крутит кадровый цикл до отмены контекста. dt измеряется между кадрами.
func (v *Volume) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: frame interval must be positive", grid.ErrConfiguration)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	v.log.Info("Кадровый цикл объёма %s запущен (%s)", v.id, interval)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			v.log.Info("Кадровый цикл объёма %s остановлен", v.id)
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			v.Tick(dt)
		}
	}
}

// Tile возвращает снимок тайла
func (v *Volume) Tile(id string) (tile.State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	t, ok := v.byID[id]
	if !ok {
		return tile.State{}, fmt.Errorf("%w: %s", ErrTileNotFound, id)
	}
	return t.Snapshot(), nil
}

// Tiles возвращает снимки всех тайлов в порядке добавления
func (v *Volume) Tiles() []tile.State {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]tile.State, 0, len(v.tiles))
	for _, t := range v.tiles {
		out = append(out, t.Snapshot())
	}
	return out
}

// TweenStats счетчики планировщика
func (v *Volume) TweenStats() tween.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scheduler.Stats()
}

// LiveSockets число живых сокетов
func (v *Volume) LiveSockets() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sockets.Live()
}

// Snapshot возвращает снимок текущей раскладки
func (v *Volume) Snapshot() *storage.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Restore восстанавливает тайлы из сохранённого снимка в порядке слотов.
// Возвращает false, если хранилища или снимка нет.
func (v *Volume) Restore(ctx context.Context) (bool, error) {
	if v.store == nil {
		return false, nil
	}

	snap, found, err := v.store.Load(ctx, v.id)
	if err != nil || !found {
		return false, err
	}

	specs := snapshotSpecs(snap)
	if _, err := v.SetTiles(ctx, specs); err != nil {
		return false, err
	}

	v.log.Info("Объём %s восстановлен: %d тайлов (снимок от %s)", v.id, len(specs), snap.SavedAt.Format(time.RFC3339))
	return true, nil
}

// Close закрывает тайлы и освобождает сокеты; повторный вызов безопасен
func (v *Volume) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	closeAll(v.tiles)
	if m := v.engine.Model(); m != nil {
		v.sockets.Release(m.Markers())
	}
	v.tiles = nil
	v.byID = map[string]*tile.Tile{}
	v.closed = true
	v.mu.Unlock()

	if v.bridge != nil {
		v.bridge.Close()
	}
}

func (v *Volume) newTileLocked(spec TileSpec) (*tile.Tile, error) {
	if spec.ID != "" {
		if _, exists := v.byID[spec.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTile, spec.ID)
		}
	}
	return v.buildTile(spec)
}

func (v *Volume) buildTile(spec TileSpec) (*tile.Tile, error) {
	scale := spec.Scale
	if scale == 0 {
		scale = v.template.Scale
	}

	var observers []tile.Observer
	if v.bridge != nil {
		observers = append(observers, v.bridge)
	}

	return tile.New(v.settings, v.scheduler, tile.Options{
		ID:                 spec.ID,
		Scale:              scale,
		Position:           v.bounds.Center(),
		RegisterTapEvents:  v.template.RegisterTapEvents,
		UseScaleAffordance: v.template.UseScaleAffordance,
		UseColorAffordance: v.template.UseColorAffordance,
		Observers:          observers,
	})
}

func (v *Volume) removeLocked(t *tile.Tile) {
	t.Close()
	delete(v.byID, t.ID())
	for i, cur := range v.tiles {
		if cur == t {
			v.tiles = append(v.tiles[:i], v.tiles[i+1:]...)
			break
		}
	}
}

func (v *Volume) lookupLocked(id string) (*tile.Tile, error) {
	if v.closed {
		return nil, ErrClosed
	}
	t, ok := v.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, id)
	}
	return t, nil
}

// rebound применяет новые границы; при ошибке раскладки возвращает прежние
func (v *Volume) rebound(ctx context.Context, b physics.Bounds) (*storage.Snapshot, error) {
	prev := v.bounds
	v.bounds = b
	v.engine.SetBounds(b)

	snap, err := v.relayoutLocked(ctx)
	if err != nil {
		v.bounds = prev
		v.engine.SetBounds(prev)
		return nil, err
	}
	return snap, nil
}

func (v *Volume) relayoutLocked(ctx context.Context) (*storage.Snapshot, error) {
	dims, err := v.engine.ComputeDimensions()
	if err != nil {
		return nil, err
	}

	prev := v.engine.Model()
	elements := make([]grid.Element, len(v.tiles))
	for i, t := range v.tiles {
		elements[i] = t
	}

	m, err := v.engine.Build(dims, elements)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev != m {
		v.sockets.Release(prev.Markers())
	}

	enabled := v.applyVisibilityLocked(m)

	// Тайлы, которым не хватило слотов, выключены
	for i := m.Len(); i < len(v.tiles); i++ {
		v.tiles[i].SetEnabled(false)
	}

	v.metrics.relayout(enabled)
	v.log.Info("Объём %s перестроен: сетка %s, назначено %d, включено %d", v.id, dims, m.Assigned(), enabled)

	snap := v.snapshotLocked()
	if v.store != nil {
		if err := v.store.Save(ctx, snap); err != nil {
			v.log.Error("Не удалось сохранить раскладку %s: %v", v.id, err)
		}
	}
	if v.bridge != nil {
		v.bridge.PublishGridRebuilt(eventbus.GridRebuiltPayload{
			VolumeID: v.id,
			Columns:  dims.Columns,
			Rows:     dims.Rows,
			Assigned: m.Assigned(),
			Enabled:  enabled,
		})
	}
	return snap, nil
}

// applyVisibilityLocked фильтр принадлежности или выключение всего при HideTiles
func (v *Volume) applyVisibilityLocked(m *grid.Model) int {
	if !v.hideTiles {
		return v.engine.ApplyContainmentFilter(m, v.bounds.ContainsPoint)
	}
	return v.engine.ApplyContainmentFilter(m, func(vec.Vec3Float) bool { return false })
}

func (v *Volume) snapshotLocked() *storage.Snapshot {
	snap := &storage.Snapshot{
		VolumeID: v.id,
		Plane:    v.engine.Plane().String(),
		Bounds:   v.bounds,
		SavedAt:  time.Now().UTC(),
	}

	snap.Tiles = make([]storage.TileRecord, 0, len(v.tiles))
	for _, t := range v.tiles {
		snap.Tiles = append(snap.Tiles, storage.TileRecord{ID: t.ID(), Scale: t.BaselineScale()})
	}

	m := v.engine.Model()
	if m == nil {
		return snap
	}

	dims := m.Dimensions()
	snap.Columns, snap.Rows = dims.Columns, dims.Rows
	snap.Slots = make([]storage.SlotRecord, 0, m.Len())
	m.Each(func(i int, el grid.Element) {
		coord, _ := m.CoordOf(i)
		rec := storage.SlotRecord{
			Index:    i,
			Coord:    coord,
			Position: m.PositionAt(i),
			Enabled:  m.Enabled(i),
		}
		if t, ok := el.(*tile.Tile); ok && t != nil {
			rec.TileID = t.ID()
		}
		snap.Slots = append(snap.Slots, rec)
	})
	return snap
}

// snapshotSpecs список тайлов для восстановления. Старые снимки без Tiles
// восстанавливаются по занятым слотам.
func snapshotSpecs(snap *storage.Snapshot) []TileSpec {
	if len(snap.Tiles) > 0 {
		specs := make([]TileSpec, 0, len(snap.Tiles))
		for _, r := range snap.Tiles {
			specs = append(specs, TileSpec{ID: r.ID, Scale: r.Scale})
		}
		return specs
	}

	specs := make([]TileSpec, 0, len(snap.Slots))
	for _, s := range snap.Slots {
		if s.TileID != "" {
			specs = append(specs, TileSpec{ID: s.TileID})
		}
	}
	return specs
}

func closeAll(tiles []*tile.Tile) {
	for _, t := range tiles {
		t.Close()
	}
}

// lockedSubscription отписывает под мьютексом объёма
type lockedSubscription struct {
	mu  *sync.Mutex
	sub tile.Subscription
}

func (s *lockedSubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.Unsubscribe()
}
