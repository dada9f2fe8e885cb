package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/tilegrid/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, vec.Uniform(1), cfg.Grid.CellSize)
	assert.Equal(t, "xy", cfg.Grid.Plane)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
grid:
  cell_size: {x: 0.5, y: 0.5}
  plane: zy
volume:
  id: lobby
  size: {x: 2, y: 3, z: 4}
affordance:
  transition_duration: 350ms
  scale_delta: 0.25
scheduler:
  frame_interval: 10ms
eventbus:
  backend: jetstream
  url: nats://localhost:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, vec.Vec3Float{X: 0.5, Y: 0.5, Z: 1}, cfg.Grid.CellSize, "незаданные поля сохраняют значения по умолчанию")
	assert.Equal(t, "zy", cfg.Grid.Plane)
	assert.Equal(t, "lobby", cfg.Volume.ID)
	assert.Equal(t, vec.Vec3Float{X: 2, Y: 3, Z: 4}, cfg.Volume.Size)
	assert.Equal(t, 350*time.Millisecond, cfg.Affordance.TransitionDuration)
	assert.Equal(t, 0.25, cfg.Affordance.ScaleDelta)
	assert.Equal(t, 10*time.Millisecond, cfg.Scheduler.FrameInterval)
	assert.Equal(t, "TILES", cfg.EventBus.Stream)
	assert.Equal(t, "pressed", cfg.Affordance.Pressed.Name)
}

func TestLoadStorageAndLogging(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: redis
  redis:
    addr: cache:6379
    ttl_minutes: 30
telemetry:
  enabled: true
  endpoint: otel:4318
logging:
  components:
    grid: debug
    eventbus: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 30, cfg.Storage.Redis.TTLMinutes)
	assert.Equal(t, "tilegrid:layout:", cfg.Storage.Redis.KeyPrefix, "префикс остается по умолчанию")
	assert.Equal(t, "tilegrid", cfg.Storage.Mongo.Database)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "otel:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, "tilegrid", cfg.Telemetry.ServiceName)
	assert.Equal(t, map[string]string{"grid": "debug", "eventbus": "warn"}, cfg.Logging.Components)
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "volume:\n  id: from-env\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Volume.ID)
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "grid: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "grid:\n  plane: xz\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"jetstream without url": func(c *Config) { c.EventBus.Backend = "jetstream" },
		"unknown bus":           func(c *Config) { c.EventBus.Backend = "kafka" },
		"badger without path":   func(c *Config) { c.Storage.Path = "" },
		"unknown storage":       func(c *Config) { c.Storage.Backend = "s3" },
		"redis without addr": func(c *Config) {
			c.Storage.Backend = "redis"
			c.Storage.Redis.Addr = ""
		},
		"mariadb without dsn": func(c *Config) { c.Storage.Backend = "mariadb" },
		"empty volume id":     func(c *Config) { c.Volume.ID = "" },
		"negative tiles":      func(c *Config) { c.Volume.InitialTiles = -1 },
		"negative duration":   func(c *Config) { c.Affordance.TransitionDuration = -time.Second },
		"zero frame interval": func(c *Config) { c.Scheduler.FrameInterval = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Storage = StorageConfig{Backend: "memory"}
	assert.NoError(t, cfg.Validate())
}

func TestGetRESTPort(t *testing.T) {
	s := ServerConfig{RESTPort: 9000}
	assert.Equal(t, 9000, s.GetRESTPort())

	s.RESTPort = 0
	t.Setenv("TILEGRID_REST_PORT", "9100")
	assert.Equal(t, 9100, s.GetRESTPort())

	t.Setenv("TILEGRID_REST_PORT", "bogus")
	assert.Equal(t, 8088, s.GetRESTPort())
}
