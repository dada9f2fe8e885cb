package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/tilegrid/internal/logging"
	"github.com/annel0/tilegrid/internal/tile"
)

// Типы событий
const (
	TypeTileTap     = "tile.tap"
	TypeTileExitTap = "tile.exit_tap"
	TypeGridRebuilt = "grid.rebuilt"
)

// PriorityNormal события с таким приоритетом не дропаются при переполнении
const PriorityNormal = 5

// TapPayload полезная нагрузка tile.tap
type TapPayload struct {
	TileID     string `json:"tile_id"`
	Interactor string `json:"interactor"`
}

// ExitTapPayload полезная нагрузка tile.exit_tap
type ExitTapPayload struct {
	TileID string `json:"tile_id"`
}

// GridRebuiltPayload полезная нагрузка grid.rebuilt
type GridRebuiltPayload struct {
	VolumeID string `json:"volume_id"`
	Columns  int    `json:"columns"`
	Rows     int    `json:"rows"`
	Assigned int    `json:"assigned"`
	Enabled  int    `json:"enabled"`
}

// TileBridge наблюдатель тайлов, который переносит их события в шину.
// Наблюдатели вызываются под мьютексом объёма, поэтому события ставятся в
// собственную очередь моста и публикуются отдельной горутиной. При полной
// очереди событие отбрасывается.
type TileBridge struct {
	bus     EventBus
	source  string
	timeout time.Duration
	log     *logging.Logger

	queue     chan *Envelope
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Uint64
}

// DefaultBridgeQueue ёмкость очереди моста по умолчанию
const DefaultBridgeQueue = 256

// NewTileBridge создаёт мост; source попадает в Envelope.Source
func NewTileBridge(bus EventBus, source string) *TileBridge {
	return NewTileBridgeWithQueue(bus, source, DefaultBridgeQueue)
}

// NewTileBridgeWithQueue создаёт мост с очередью заданной ёмкости
func NewTileBridgeWithQueue(bus EventBus, source string, capacity int) *TileBridge {
	if capacity <= 0 {
		capacity = DefaultBridgeQueue
	}
	b := &TileBridge{
		bus:     bus,
		source:  source,
		timeout: 2 * time.Second,
		log:     logging.GetBusLogger(),
		queue:   make(chan *Envelope, capacity),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *TileBridge) OnTap(ev tile.TapEvent) {
	b.publish(TypeTileTap, TapPayload{TileID: ev.Tile.ID(), Interactor: string(ev.Interactor)})
}

func (b *TileBridge) OnExitTap(ev tile.ExitTapEvent) {
	b.publish(TypeTileExitTap, ExitTapPayload{TileID: ev.Tile.ID()})
}

// PublishGridRebuilt сообщает о перестройке сетки
func (b *TileBridge) PublishGridRebuilt(p GridRebuiltPayload) {
	b.publish(TypeGridRebuilt, p)
}

// Dropped число событий, отброшенных из-за переполнения очереди или закрытия
func (b *TileBridge) Dropped() uint64 { return b.dropped.Load() }

// Close дожидается публикации очереди; повторный вызов безопасен
func (b *TileBridge) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})
	<-b.done
}

// publish не блокируется
func (b *TileBridge) publish(eventType string, payload interface{}) {
	env, err := NewEnvelope(b.source, eventType, PriorityNormal, payload)
	if err != nil {
		b.log.Error("Не удалось сформировать событие %s: %v", eventType, err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.queue <- env:
	default:
		b.dropped.Add(1)
		b.log.Warn("Очередь моста %s переполнена, событие %s отброшено", b.source, eventType)
	}
}

func (b *TileBridge) run() {
	defer close(b.done)
	for env := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.bus.Publish(ctx, env); err != nil {
			b.log.Warn("Событие %s не опубликовано: %v", env.EventType, err)
		}
		cancel()
	}
}
