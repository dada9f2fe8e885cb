package volume

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/annel0/tilegrid/internal/eventbus"
	"github.com/annel0/tilegrid/internal/grid"
	"github.com/annel0/tilegrid/internal/logging"
	"github.com/annel0/tilegrid/internal/physics"
	"github.com/annel0/tilegrid/internal/storage"
	"github.com/annel0/tilegrid/internal/tile"
	"github.com/annel0/tilegrid/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idleMat    = &tile.Material{Name: "idle", Color: tile.Color{R: 1, G: 1, B: 1, A: 1}}
	pressedMat = &tile.Material{Name: "pressed", Color: tile.Color{R: 0, G: 0.5, B: 1, A: 1}}
)

func testSettings() *tile.AffordanceSettings {
	return &tile.AffordanceSettings{
		IdleMaterial:       idleMat,
		PressedMaterial:    pressedMat,
		ScaleDelta:         0.1,
		TransitionDuration: 100 * time.Millisecond,
	}
}

func testOptions() Options {
	return Options{
		ID:         "vol",
		Bounds:     physics.NewBounds(vec.Vec3Float{}, vec.Uniform(4)),
		Cell:       grid.CellSpec{Size: vec.Uniform(1)},
		Plane:      grid.PlaneXY,
		CanBeMoved: true,
		IsScalable: true,
		Affordance: testSettings(),
		Template: TileTemplate{
			RegisterTapEvents:  true,
			UseScaleAffordance: true,
			UseColorAffordance: true,
		},
		Logger: logging.NewWriterLogger("volume", io.Discard, logging.ERROR),
	}
}

func newTestVolume(t *testing.T, mutate func(o *Options)) *Volume {
	t.Helper()
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	v, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func addTiles(t *testing.T, v *Volume, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := v.AddTile(context.Background(), TileSpec{ID: id})
		require.NoError(t, err)
	}
}

func enabledSlots(s *storage.Snapshot) int {
	n := 0
	for _, r := range s.Slots {
		if r.Enabled {
			n++
		}
	}
	return n
}

func TestNewValidation(t *testing.T) {
	opts := testOptions()
	opts.Affordance = nil
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrNoAffordance)

	opts = testOptions()
	opts.Cell = grid.CellSpec{}
	_, err = New(opts)
	assert.ErrorIs(t, err, grid.ErrConfiguration)

	opts = testOptions()
	opts.ID = ""
	_, err = New(opts)
	assert.ErrorIs(t, err, grid.ErrConfiguration)
}

func TestAddTileLaysOutGrid(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9")

	snap := v.Snapshot()
	assert.Equal(t, 4, snap.Columns)
	assert.Equal(t, 4, snap.Rows)
	require.Len(t, snap.Slots, 16)
	assert.Equal(t, 10, snap.Assigned())
	assert.Equal(t, 10, enabledSlots(snap))
	assert.Equal(t, 10, v.LiveSockets(), "сокеты прежних раскладок освобождаются")

	assert.Equal(t, "t0", snap.Slots[0].TileID)
	assert.Equal(t, vec.Vec3Float{X: 0, Y: 3, Z: 2}, snap.Slots[0].Position)
	assert.Equal(t, vec.Vec2{X: 1, Y: 0}, snap.Slots[1].Coord)

	st, err := v.Tile("t0")
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, snap.Slots[0].Position, st.Position)

	_, err = v.AddTile(context.Background(), TileSpec{ID: "t0"})
	assert.ErrorIs(t, err, ErrDuplicateTile)
}

func TestOverflowTilesAreDisabled(t *testing.T) {
	v := newTestVolume(t, func(o *Options) {
		o.Bounds = physics.NewBounds(vec.Vec3Float{}, vec.Vec3Float{X: 2, Y: 1, Z: 1})
	})
	addTiles(t, v, "a", "b", "c")

	snap := v.Snapshot()
	assert.Equal(t, 2, snap.Assigned())

	st, err := v.Tile("c")
	require.NoError(t, err)
	assert.False(t, st.Enabled)
}

func TestTapTickAndRelease(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a")
	settings := testSettings()

	st, err := v.Tap("a", "hand")
	require.NoError(t, err)
	assert.Equal(t, "pressed", st.Phase)
	assert.Equal(t, 1.0, st.Scale)
	assert.True(t, st.Blending)

	v.Tick(50 * time.Millisecond)
	mid, _ := v.Tile("a")
	assert.InDelta(t, 1.05, mid.Scale, 1e-9)

	assert.Equal(t, 2, v.Tick(50*time.Millisecond))
	done, _ := v.Tile("a")
	assert.Equal(t, 1+settings.ScaleDelta, done.Scale)
	assert.Equal(t, "pressed", done.Material)
	assert.False(t, done.Blending)

	_, err = v.ExitTap("a")
	require.NoError(t, err)
	v.Tick(time.Second)
	idle, _ := v.Tile("a")
	assert.Equal(t, 1.0, idle.Scale)
	assert.Equal(t, "idle", idle.Material)

	stats := v.TweenStats()
	assert.Equal(t, uint64(4), stats.Started)
	assert.Equal(t, uint64(4), stats.Completed)
	assert.Equal(t, 0, stats.Active)

	_, err = v.Tap("missing", "hand")
	assert.ErrorIs(t, err, ErrTileNotFound)
	_, err = v.ExitTap("missing")
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestMoveAndResizeFlags(t *testing.T) {
	v := newTestVolume(t, func(o *Options) {
		o.CanBeMoved = false
		o.IsScalable = false
	})
	addTiles(t, v, "a")

	_, err := v.Move(context.Background(), vec.Vec3Float{X: 1})
	assert.ErrorIs(t, err, ErrNotMovable)
	_, err = v.Resize(context.Background(), vec.Uniform(2))
	assert.ErrorIs(t, err, ErrNotScalable)
	assert.Equal(t, vec.Uniform(4), v.Bounds().Size)
}

func TestMoveRelaysOut(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a", "b")

	snap, err := v.Move(context.Background(), vec.Vec3Float{X: 10})
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3Float{X: 10, Y: 3, Z: 2}, snap.Slots[0].Position)
	assert.Equal(t, 2, enabledSlots(snap))

	st, _ := v.Tile("a")
	assert.Equal(t, 10.0, st.Position.X)
}

func TestResizeShrinksGrid(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "t0", "t1", "t2", "t3", "t4", "t5")

	snap, err := v.Resize(context.Background(), vec.Vec3Float{X: 2, Y: 2, Z: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Columns)
	assert.Equal(t, 2, snap.Rows)
	assert.Equal(t, 4, snap.Assigned())

	for _, id := range []string{"t4", "t5"} {
		st, _ := v.Tile(id)
		assert.False(t, st.Enabled, "тайл %s без слота должен быть выключен", id)
	}
}

func TestSocketLimitKeepsPreviousLayout(t *testing.T) {
	v := newTestVolume(t, func(o *Options) { o.SocketLimit = 3 })
	addTiles(t, v, "a", "b")

	_, err := v.AddTile(context.Background(), TileSpec{ID: "c"})
	assert.ErrorIs(t, err, ErrSocketLimit)

	assert.Len(t, v.Tiles(), 2)
	assert.Equal(t, 2, v.LiveSockets())
	assert.Equal(t, 2, v.Snapshot().Assigned())
}

func TestFailedSetTilesKeepsRunningTweens(t *testing.T) {
	v := newTestVolume(t, func(o *Options) { o.SocketLimit = 3 })
	addTiles(t, v, "a", "b")

	_, err := v.Tap("a", "hand")
	require.NoError(t, err)
	v.Tick(50 * time.Millisecond)
	mid, _ := v.Tile("a")
	require.InDelta(t, 1.05, mid.Scale, 1e-9)
	require.Equal(t, 2, v.TweenStats().Active)

	_, err = v.SetTiles(context.Background(), []TileSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	require.ErrorIs(t, err, ErrSocketLimit)
	assert.Equal(t, 2, v.TweenStats().Active, "твины живого тайла не тронуты")

	v.Tick(time.Second)
	done, _ := v.Tile("a")
	assert.Equal(t, 1+testSettings().ScaleDelta, done.Scale)
	assert.Equal(t, "pressed", done.Material)
	assert.False(t, done.Blending)
}

func TestHideTiles(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a", "b")

	snap, err := v.SetHideTiles(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, enabledSlots(snap))
	for _, st := range v.Tiles() {
		assert.False(t, st.Enabled)
	}

	snap, err = v.SetHideTiles(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, enabledSlots(snap))
}

func TestPlaceAt(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a", "b")

	require.NoError(t, v.PlaceAt("a", grid.Coord{X: 3, Y: 3}))

	snap := v.Snapshot()
	assert.Equal(t, "", snap.Slots[0].TileID)
	assert.Equal(t, "a", snap.Slots[15].TileID)
	assert.True(t, snap.Slots[15].Enabled)

	st, _ := v.Tile("a")
	assert.Equal(t, vec.Vec3Float{X: 3, Y: 0, Z: 2}, st.Position)
	assert.True(t, st.Enabled)

	assert.ErrorIs(t, v.PlaceAt("a", grid.Coord{X: 4, Y: 0}), grid.ErrIndexOutOfRange)
	assert.ErrorIs(t, v.PlaceAt("missing", grid.Coord{}), ErrTileNotFound)
}

func TestRemoveTile(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a", "b")

	require.NoError(t, v.RemoveTile(context.Background(), "a"))
	assert.ErrorIs(t, v.RemoveTile(context.Background(), "a"), ErrTileNotFound)

	snap := v.Snapshot()
	assert.Equal(t, "b", snap.Slots[0].TileID)
	assert.Equal(t, 1, snap.Assigned())
}

func TestSetTilesReplacesAll(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a")

	snap, err := v.SetTiles(context.Background(), []TileSpec{{ID: "x"}, {ID: "y"}, {}})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Assigned())

	_, err = v.Tile("a")
	assert.ErrorIs(t, err, ErrTileNotFound)

	_, err = v.SetTiles(context.Background(), []TileSpec{{ID: "dup"}, {ID: "dup"}})
	assert.ErrorIs(t, err, ErrDuplicateTile)
	assert.Len(t, v.Tiles(), 3, "неудачная замена не меняет набор тайлов")
}

func TestStoreAndRestore(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	v := newTestVolume(t, func(o *Options) { o.Store = store })
	addTiles(t, v, "a", "b", "c")

	saved, found, err := store.Load(ctx, "vol")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, saved.Assigned())

	restored := newTestVolume(t, func(o *Options) { o.Store = store })
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var ids []string
	for _, st := range restored.Tiles() {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	empty := newTestVolume(t, func(o *Options) {
		o.ID = "other"
		o.Store = store
	})
	ok, err = empty.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreKeepsOverflowTilesAndScale(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	narrow := func(o *Options) {
		o.Store = store
		o.Bounds = physics.NewBounds(vec.Vec3Float{}, vec.Vec3Float{X: 2, Y: 1, Z: 1})
	}

	v := newTestVolume(t, narrow)
	_, err := v.SetTiles(ctx, []TileSpec{{ID: "a"}, {ID: "b", Scale: 2}, {ID: "c"}, {ID: "d", Scale: 0.5}})
	require.NoError(t, err)
	require.Equal(t, 2, v.Snapshot().Assigned())

	saved, found, err := store.Load(ctx, "vol")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, saved.Tiles, 4)

	restored := newTestVolume(t, narrow)
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	states := restored.Tiles()
	require.Len(t, states, 4)
	scales := map[string]float64{}
	var ids []string
	for _, st := range states {
		ids = append(ids, st.ID)
		scales[st.ID] = st.BaselineScale
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Equal(t, map[string]float64{"a": 1, "b": 2, "c": 1, "d": 0.5}, scales)
	assert.Equal(t, 2, restored.Snapshot().Assigned())
}

func TestRestoreFromSlotsOnlySnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &storage.Snapshot{
		VolumeID: "vol",
		Columns:  2,
		Rows:     1,
		Slots:    []storage.SlotRecord{{Index: 0, TileID: "x"}, {Index: 1}},
	}))

	v := newTestVolume(t, func(o *Options) { o.Store = store })
	ok, err := v.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.Tiles(), 1)
	assert.Equal(t, "x", v.Tiles()[0].ID)
}

func TestBusReceivesTileAndGridEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()

	var (
		mu    sync.Mutex
		types []string
	)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		types = append(types, ev.EventType)
		mu.Unlock()
	})
	require.NoError(t, err)

	v := newTestVolume(t, func(o *Options) { o.Bus = bus })
	addTiles(t, v, "a")
	_, err = v.Tap("a", "hand")
	require.NoError(t, err)
	_, err = v.ExitTap("a")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{eventbus.TypeGridRebuilt, eventbus.TypeTileTap, eventbus.TypeTileExitTap}, types)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "vol")
	require.NoError(t, err)

	v := newTestVolume(t, func(o *Options) { o.Metrics = m })
	addTiles(t, v, "a", "b")
	_, err = v.Tap("a", "hand")
	require.NoError(t, err)
	v.Tick(time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.taps))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayouts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.enabledSlots))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tweensStarted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tweensDone))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeTweens))

	_, err = NewMetrics(reg, "vol")
	assert.Error(t, err)
}

func TestSubscribeObserver(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a")

	var taps []tile.EntityRef
	sub, err := v.Subscribe("a", tile.ObserverFuncs{
		Tap: func(ev tile.TapEvent) { taps = append(taps, ev.Interactor) },
	})
	require.NoError(t, err)

	_, _ = v.Tap("a", "left")
	sub.Unsubscribe()
	_, _ = v.Tap("a", "right")

	assert.Equal(t, []tile.EntityRef{"left"}, taps)

	_, err = v.Subscribe("missing", tile.ObserverFuncs{})
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestRunAdvancesFrames(t *testing.T) {
	v := newTestVolume(t, func(o *Options) {
		o.Affordance.TransitionDuration = 20 * time.Millisecond
	})
	addTiles(t, v, "a")
	_, err := v.Tap("a", "hand")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, v.Run(ctx, 5*time.Millisecond), context.DeadlineExceeded)

	st, _ := v.Tile("a")
	assert.InDelta(t, 1.1, st.Scale, 1e-9)
	assert.False(t, st.Blending)

	assert.ErrorIs(t, v.Run(context.Background(), 0), grid.ErrConfiguration)
}

func TestClose(t *testing.T) {
	v := newTestVolume(t, nil)
	addTiles(t, v, "a")

	v.Close()
	v.Close()

	assert.Equal(t, 0, v.LiveSockets())
	_, err := v.Tap("a", "hand")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = v.AddTile(context.Background(), TileSpec{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = v.Relayout(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, v.Tick(time.Second))
}
