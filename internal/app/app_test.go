package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/annel0/tilegrid/internal/config"
	"github.com/annel0/tilegrid/internal/grid"
	"github.com/annel0/tilegrid/internal/storage"
	"github.com/annel0/tilegrid/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.RESTPort = freePort(t)
	cfg.Server.Mode = "test"
	cfg.Storage = config.StorageConfig{Backend: "memory"}
	cfg.Scheduler.FrameInterval = 5 * time.Millisecond
	return cfg
}

func tileIDs(states []tile.State) []string {
	ids := make([]string, len(states))
	for i, s := range states {
		ids[i] = s.ID
	}
	return ids
}

func TestAppStartAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Volume.InitialTiles = 6

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	assert.Len(t, a.Volume.Tiles(), 6)

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.RESTPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	// Кадровый цикл доводит твины до конца
	states := a.Volume.Tiles()
	_, err = a.Volume.Tap(states[0].ID, "test")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return a.Volume.TweenStats().Active == 0
	}, 2*time.Second, 10*time.Millisecond)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tilegrid_volume_taps_total"])
	assert.True(t, names["eventbus_messages_published_total"])
	assert.True(t, names["go_goroutines"])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx), "повторный Shutdown безопасен")

	_, err = http.Get(url)
	assert.Error(t, err)
}

func TestAppRestoresLayout(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "tilegrid-app-test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Backend: "badger", Path: tempDir}
	cfg.Volume.InitialTiles = 3

	first, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	want := tileIDs(first.Volume.Tiles())
	require.NoError(t, first.Shutdown(context.Background()))

	cfg.Server.RESTPort = freePort(t)
	cfg.Volume.InitialTiles = 8
	second, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer second.Shutdown(context.Background())
	require.NoError(t, second.Start(context.Background()))

	assert.Equal(t, want, tileIDs(second.Volume.Tiles()), "тайлы восстановлены из снимка, а не созданы заново")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grid.Plane = "xz"

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestOpenStoreAndBus(t *testing.T) {
	ctx := context.Background()

	store, err := OpenStore(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)
	require.NoError(t, store.Close())

	sqlite, err := OpenStore(ctx, config.StorageConfig{Backend: "sqlite", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteStore{}, sqlite)
	require.NoError(t, sqlite.Close())

	_, err = OpenStore(ctx, config.StorageConfig{Backend: "s3"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	bus, err := OpenBus(config.EventBusConfig{Backend: "memory", Buffer: 4})
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = OpenBus(config.EventBusConfig{Backend: "kafka"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestVolumeOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Grid.Plane = "zy"
	cfg.Volume.SocketLimit = 12

	opts, err := VolumeOptions(cfg)
	require.NoError(t, err)

	assert.Equal(t, grid.PlaneZY, opts.Plane)
	assert.Equal(t, 12, opts.SocketLimit)
	assert.Equal(t, "pressed", opts.Affordance.PressedMaterial.Name)
	assert.InDelta(t, 0.6, opts.Affordance.PressedMaterial.Color.G, 1e-9)
	assert.Equal(t, cfg.Affordance.TransitionDuration, opts.Affordance.TransitionDuration)
	assert.True(t, opts.Template.UseColorAffordance)
}
