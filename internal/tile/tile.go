package tile

import (
	"errors"
	"fmt"

	"github.com/annel0/tilegrid/internal/logging"
	"github.com/annel0/tilegrid/internal/tween"
	"github.com/annel0/tilegrid/internal/vec"
	"github.com/google/uuid"
)

// Phase состояние автомата тайла
type Phase int

const (
	Idle Phase = iota
	Pressed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Pressed:
		return "pressed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	ErrNoSettings  = errors.New("tile: affordance settings are required")
	ErrNoScheduler = errors.New("tile: tween scheduler is required")
)

// Options параметры создания тайла
type Options struct {
	ID                 string  // пусто = сгенерировать UUID
	Scale              float64 // равномерный масштаб; 0 = 1.0
	Position           vec.Vec3Float
	RegisterTapEvents  bool // включает аффордансы; события отправляются всегда
	UseScaleAffordance bool
	UseColorAffordance bool
	Observers          []Observer // подписываются при создании, отписываются в Close
}

// Tile интерактивный элемент сетки.
//
// Состоит из трех независимых частей: канал событий (наблюдатели), ссылка на
// общие настройки аффордансов и состояние анимации (фаза, масштаб, материал).
// Не потокобезопасен.
type Tile struct {
	id        string
	owner     string // ключ твинов; уникален для экземпляра, в отличие от id
	settings  *AffordanceSettings
	scheduler *tween.Scheduler
	log       *logging.Logger

	observers observerSet
	ownSubs   []Subscription

	registerTapEvents bool
	useScale          bool
	useColor          bool

	phase         Phase
	baselineScale float64
	scale         float64
	material      *Material
	proxy         *Material // смешиваемая копия на время цветового твина

	position vec.Vec3Float
	enabled  bool
	closed   bool
}

// New создаёт тайл. Базовый масштаб фиксируется здесь и больше не меняется.
func New(settings *AffordanceSettings, scheduler *tween.Scheduler, opts Options) (*Tile, error) {
	if settings == nil {
		return nil, ErrNoSettings
	}
	if scheduler == nil {
		return nil, ErrNoScheduler
	}
	if opts.UseColorAffordance && (settings.IdleMaterial == nil || settings.PressedMaterial == nil) {
		return nil, ErrMissingMaterial
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}

	t := &Tile{
		id:                id,
		owner:             uuid.NewString(),
		settings:          settings,
		scheduler:         scheduler,
		log:               logging.GetTileLogger(),
		registerTapEvents: opts.RegisterTapEvents,
		useScale:          opts.UseScaleAffordance,
		useColor:          opts.UseColorAffordance,
		phase:             Idle,
		baselineScale:     scale,
		scale:             scale,
		material:          settings.IdleMaterial,
		position:          opts.Position,
		enabled:           true,
	}

	for _, o := range opts.Observers {
		t.ownSubs = append(t.ownSubs, t.Subscribe(o))
	}

	return t, nil
}

// ID возвращает идентификатор тайла
func (t *Tile) ID() string { return t.id }

// Phase возвращает текущую фазу
func (t *Tile) Phase() Phase { return t.phase }

// Scale возвращает текущий масштаб
func (t *Tile) Scale() float64 { return t.scale }

// BaselineScale возвращает масштаб, зафиксированный при создании
func (t *Tile) BaselineScale() float64 { return t.baselineScale }

// Material возвращает смешиваемую копию во время перехода, иначе ассет
func (t *Tile) Material() *Material {
	if t.proxy != nil {
		return t.proxy
	}
	return t.material
}

// Blending сообщает, идет ли цветовой переход
func (t *Tile) Blending() bool { return t.proxy != nil }

// AffordancesEnabled сообщает, реагирует ли тайл на Tap анимацией
func (t *Tile) AffordancesEnabled() bool { return t.registerTapEvents }

// SetAffordancesEnabled включает или выключает аффордансы
func (t *Tile) SetAffordancesEnabled(on bool) { t.registerTapEvents = on }

// Subscribe добавляет наблюдателя
func (t *Tile) Subscribe(o Observer) Subscription {
	id := t.observers.add(o)
	return &subscription{tile: t, id: id}
}

// ObserverCount число подписанных наблюдателей
func (t *Tile) ObserverCount() int { return t.observers.len() }

// Tap обрабатывает нажатие. Событие отправляется всегда и до любых
// изменений состояния; анимации запускаются только при включенных аффордансах.
// Повторный Tap в фазе Pressed перезапускает анимации.
func (t *Tile) Tap(interactor EntityRef) {
	if t.closed {
		return
	}

	ev := TapEvent{Interactor: interactor, Tile: t}
	for _, o := range t.observers.snapshot() {
		o.OnTap(ev)
	}

	if !t.registerTapEvents {
		return
	}

	t.phase = Pressed
	if t.useScale {
		t.animateScale(t.baselineScale + t.settings.ScaleDelta)
	}
	if t.useColor {
		t.animateMaterial(t.settings.IdleMaterial, t.settings.PressedMaterial)
	}
}

// ExitTap обрабатывает отпускание; масштаб возвращается ровно к базовому
func (t *Tile) ExitTap() {
	if t.closed {
		return
	}

	ev := ExitTapEvent{Tile: t}
	for _, o := range t.observers.snapshot() {
		o.OnExitTap(ev)
	}

	if !t.registerTapEvents {
		return
	}

	t.phase = Idle
	if t.useScale {
		t.animateScale(t.baselineScale)
	}
	if t.useColor {
		t.animateMaterial(t.settings.PressedMaterial, t.settings.IdleMaterial)
	}
}

func (t *Tile) animateScale(target float64) {
	tween.Start(t.scheduler, tween.Spec[float64]{
		Key:      tween.Key{Owner: t.owner, Kind: tween.KindScale},
		From:     t.scale,
		To:       target,
		Duration: t.settings.TransitionDuration,
		Lerp:     tween.LerpFloat,
		Apply:    func(v float64) { t.scale = v },
	})
}

// animateMaterial смешивает цвет в копии from; по завершении копия
// отбрасывается и тайлу назначается сам ассет to.
func (t *Tile) animateMaterial(from, to *Material) {
	proxy := &Material{Name: from.Name, Color: from.Color}
	t.proxy = proxy

	tween.Start(t.scheduler, tween.Spec[Color]{
		Key:      tween.Key{Owner: t.owner, Kind: tween.KindColor},
		From:     from.Color,
		To:       to.Color,
		Duration: t.settings.TransitionDuration,
		Lerp:     LerpColor,
		Apply:    func(c Color) { proxy.Color = c },
		OnComplete: func() {
			if t.proxy == proxy {
				t.proxy = nil
			}
			t.material = to
			t.log.Trace("Тайл %s: материал %s", t.id, to.Name)
		},
	})
}

// Position позиция тайла в мире
func (t *Tile) Position() vec.Vec3Float { return t.position }

// SetPosition переносит тайл (вызывается сеткой при назначении слота)
func (t *Tile) SetPosition(p vec.Vec3Float) { t.position = p }

// Enabled сообщает, включен ли тайл
func (t *Tile) Enabled() bool { return t.enabled }

// SetEnabled включает или выключает тайл
func (t *Tile) SetEnabled(enabled bool) { t.enabled = enabled }

// Close отписывает всех наблюдателей и снимает анимации тайла
func (t *Tile) Close() {
	if t.closed {
		return
	}
	for _, s := range t.ownSubs {
		s.Unsubscribe()
	}
	t.ownSubs = nil
	t.observers.entries = nil
	t.scheduler.CancelOwner(t.owner)
	t.closed = true
}

// State снимок состояния тайла
type State struct {
	ID            string        `json:"id"`
	Phase         string        `json:"phase"`
	Scale         float64       `json:"scale"`
	BaselineScale float64       `json:"baseline_scale"`
	Material      string        `json:"material,omitempty"`
	Color         *Color        `json:"color,omitempty"`
	Blending      bool          `json:"blending"`
	Enabled       bool          `json:"enabled"`
	Position      vec.Vec3Float `json:"position"`
}

// Snapshot возвращает снимок состояния
func (t *Tile) Snapshot() State {
	st := State{
		ID:            t.id,
		Phase:         t.phase.String(),
		Scale:         t.scale,
		BaselineScale: t.baselineScale,
		Blending:      t.proxy != nil,
		Enabled:       t.enabled,
		Position:      t.position,
	}
	if m := t.Material(); m != nil {
		c := m.Color
		st.Material = m.Name
		st.Color = &c
	}
	return st
}
