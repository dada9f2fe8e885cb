package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/tilegrid/internal/vec"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath переменная окружения с путём к YAML конфигу
const EnvConfigPath = "TILEGRID_CONFIG"

// ErrInvalidConfig возвращается Validate
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config корневая структура конфигурации приложения.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Grid       GridConfig       `yaml:"grid"`
	Volume     VolumeConfig     `yaml:"volume"`
	Affordance AffordanceConfig `yaml:"affordance"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	RESTPort int    `yaml:"rest_port"`
	Mode     string `yaml:"mode"` // gin: debug | release | test
}

// GridConfig параметры ячейки и плоскости раскладки
type GridConfig struct {
	CellSize vec.Vec3Float `yaml:"cell_size"`
	Padding  vec.Vec3Float `yaml:"padding"`
	Plane    string        `yaml:"plane"` // xy | zy
}

type VolumeConfig struct {
	ID           string        `yaml:"id"`
	Min          vec.Vec3Float `yaml:"min"`
	Size         vec.Vec3Float `yaml:"size"`
	CanBeMoved   bool          `yaml:"can_be_moved"`
	IsScalable   bool          `yaml:"is_scalable"`
	HideTiles    bool          `yaml:"hide_tiles"`
	InitialTiles int           `yaml:"initial_tiles"`
	TileScale    float64       `yaml:"tile_scale"`
	SocketLimit  int           `yaml:"socket_limit"` // 0 = без ограничения
}

type MaterialConfig struct {
	Name string     `yaml:"name"`
	RGBA [4]float64 `yaml:"rgba"`
}

// AffordanceConfig общие настройки отклика тайлов
type AffordanceConfig struct {
	RegisterTapEvents  bool           `yaml:"register_tap_events"`
	UseScaleAffordance bool           `yaml:"use_scale_affordance"`
	UseColorAffordance bool           `yaml:"use_color_affordance"`
	ScaleDelta         float64        `yaml:"scale_delta"`
	TransitionDuration time.Duration  `yaml:"transition_duration"`
	Idle               MaterialConfig `yaml:"idle"`
	Pressed            MaterialConfig `yaml:"pressed"`
}

type SchedulerConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // memory | jetstream
	Buffer    int    `yaml:"buffer"`
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"` // badger | sqlite | memory | redis | mariadb | mongo
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
	// DSN строка подключения MariaDB (user:pass@tcp(host:port)/db?parseTime=true)
	DSN   string      `yaml:"dsn"`
	Mongo MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLMinutes int    `yaml:"ttl_minutes"` // 0 = бессрочно
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Endpoint OTLP HTTP коллектора, пусто = localhost:4318
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
	// Components переопределяет уровень консоли по компоненту (grid: DEBUG)
	Components map[string]string `yaml:"components"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{Mode: "release"},
		Grid: GridConfig{
			CellSize: vec.Uniform(1),
			Plane:    "xy",
		},
		Volume: VolumeConfig{
			ID:           "main",
			Size:         vec.Uniform(4),
			CanBeMoved:   true,
			IsScalable:   true,
			InitialTiles: 10,
			TileScale:    1,
		},
		Affordance: AffordanceConfig{
			RegisterTapEvents:  true,
			UseScaleAffordance: true,
			UseColorAffordance: true,
			ScaleDelta:         0.1,
			TransitionDuration: 200 * time.Millisecond,
			Idle:               MaterialConfig{Name: "idle", RGBA: [4]float64{1, 1, 1, 1}},
			Pressed:            MaterialConfig{Name: "pressed", RGBA: [4]float64{0.2, 0.6, 1, 1}},
		},
		Scheduler: SchedulerConfig{FrameInterval: 16 * time.Millisecond},
		EventBus: EventBusConfig{
			Backend:   "memory",
			Buffer:    1024,
			Stream:    "TILES",
			Retention: 24,
		},
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "data",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "tilegrid:layout:",
			},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "tilegrid",
				Collection: "layouts",
			},
		},
		Telemetry: TelemetryConfig{ServiceName: "tilegrid"},
		Logging: LoggingConfig{
			Dir:          "logs",
			ConsoleLevel: "INFO",
			FileLevel:    "DEBUG",
		},
	}
}

// Validate проверяет значения, которые нельзя исправить молча
func (c *Config) Validate() error {
	switch c.Grid.Plane {
	case "xy", "zy":
	default:
		return fmt.Errorf("%w: grid.plane %q", ErrInvalidConfig, c.Grid.Plane)
	}
	switch c.EventBus.Backend {
	case "memory":
	case "jetstream":
		if c.EventBus.URL == "" {
			return fmt.Errorf("%w: eventbus.url is required for jetstream", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: eventbus.backend %q", ErrInvalidConfig, c.EventBus.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for badger", ErrInvalidConfig)
		}
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for sqlite", ErrInvalidConfig)
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("%w: storage.redis.addr is required for redis", ErrInvalidConfig)
		}
	case "mariadb":
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for mariadb", ErrInvalidConfig)
		}
	case "mongo":
	default:
		return fmt.Errorf("%w: storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Volume.ID == "" {
		return fmt.Errorf("%w: volume.id is empty", ErrInvalidConfig)
	}
	if c.Volume.InitialTiles < 0 {
		return fmt.Errorf("%w: volume.initial_tiles < 0", ErrInvalidConfig)
	}
	if c.Affordance.TransitionDuration < 0 {
		return fmt.Errorf("%w: affordance.transition_duration < 0", ErrInvalidConfig)
	}
	if c.Scheduler.FrameInterval <= 0 {
		return fmt.Errorf("%w: scheduler.frame_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "TILEGRID_REST_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", пытается прочитать из ENV TILEGRID_CONFIG; если и там пусто,
// возвращает значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфига %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфига %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
