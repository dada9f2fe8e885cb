// Package app собирает сервис из конфигурации: шина, хранилище, метрики,
// объём с тайлами и REST API.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/tilegrid/internal/api"
	"github.com/annel0/tilegrid/internal/config"
	"github.com/annel0/tilegrid/internal/eventbus"
	"github.com/annel0/tilegrid/internal/grid"
	"github.com/annel0/tilegrid/internal/logging"
	"github.com/annel0/tilegrid/internal/observability"
	"github.com/annel0/tilegrid/internal/physics"
	"github.com/annel0/tilegrid/internal/storage"
	"github.com/annel0/tilegrid/internal/tile"
	"github.com/annel0/tilegrid/internal/volume"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App владеет всеми компонентами сервиса и порядком их остановки
type App struct {
	cfg *config.Config
	log *logging.Logger

	Registry *prometheus.Registry
	Bus      eventbus.EventBus
	Store    storage.LayoutStore
	Volume   *volume.Volume
	API      *api.RestServer

	exporter          *eventbus.MetricsExporter
	busLog            eventbus.Subscription
	shutdownTelemetry observability.ShutdownFunc

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	errCh    chan error
	stopOnce sync.Once
}

// New создаёт компоненты, но ничего не запускает. При ошибке уже
// созданные компоненты закрываются.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      logging.GetComponentLogger("app"),
		Registry: prometheus.NewRegistry(),
		errCh:    make(chan error, 2),
	}
	defer func() {
		if err != nil {
			a.closeComponents(context.Background())
		}
	}()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.shutdownTelemetry, err = observability.InitTelemetry(ctx, cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if a.Bus, err = OpenBus(cfg.EventBus); err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}
	if a.exporter, err = eventbus.NewMetricsExporter(a.Bus, a.Registry, time.Second); err != nil {
		return nil, fmt.Errorf("eventbus metrics: %w", err)
	}
	if a.busLog, err = eventbus.StartLoggingListener(a.Bus); err != nil {
		return nil, fmt.Errorf("eventbus listener: %w", err)
	}

	if a.Store, err = OpenStore(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	metrics, err := volume.NewMetrics(a.Registry, cfg.Volume.ID)
	if err != nil {
		return nil, fmt.Errorf("volume metrics: %w", err)
	}
	opts, err := VolumeOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.Bus = a.Bus
	opts.Store = a.Store
	opts.Metrics = metrics
	if a.Volume, err = volume.New(opts); err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}

	a.API, err = api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Mode:     cfg.Server.Mode,
		Volume:   a.Volume,
		Bus:      a.Bus,
		Registry: a.Registry,
		Tracing:  cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	return a, nil
}

// Start восстанавливает раскладку (или создаёт начальные тайлы),
// запускает кадровый цикл и REST API.
func (a *App) Start(ctx context.Context) error {
	restored, err := a.Volume.Restore(ctx)
	if err != nil {
		a.log.Warn("Не удалось восстановить раскладку: %v", err)
	}
	if !restored {
		specs := make([]volume.TileSpec, a.cfg.Volume.InitialTiles)
		if _, err := a.Volume.SetTiles(ctx, specs); err != nil {
			return fmt.Errorf("initial tiles: %w", err)
		}
		a.log.Info("Создано %d начальных тайлов", len(specs))
	}

	a.exporter.Start()

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.Volume.Run(runCtx, a.cfg.Scheduler.FrameInterval); err != nil && !errors.Is(err, context.Canceled) {
			a.errCh <- fmt.Errorf("frame loop: %w", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		if err := a.API.Start(); err != nil {
			a.errCh <- fmt.Errorf("rest api: %w", err)
		}
	}()

	return nil
}

// Errors канал фатальных ошибок фоновых циклов
func (a *App) Errors() <-chan error { return a.errCh }

// Shutdown останавливает компоненты в обратном порядке; повторный вызов безопасен
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if a.API != nil {
			if e := a.API.Stop(ctx); e != nil {
				err = errors.Join(err, fmt.Errorf("rest api: %w", e))
			}
		}
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		err = errors.Join(err, a.closeComponents(ctx))
	})
	return err
}

func (a *App) closeComponents(ctx context.Context) error {
	var err error
	if a.Volume != nil {
		a.Volume.Close()
	}
	if a.Store != nil {
		if e := a.Store.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("storage: %w", e))
		}
	}
	if a.exporter != nil {
		a.exporter.Stop()
	}
	if a.busLog != nil {
		a.busLog.Unsubscribe()
	}
	if a.Bus != nil {
		if e := a.Bus.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("eventbus: %w", e))
		}
	}
	if a.shutdownTelemetry != nil {
		if e := a.shutdownTelemetry(ctx); e != nil {
			err = errors.Join(err, fmt.Errorf("telemetry: %w", e))
		}
	}
	return err
}

// OpenBus создаёт шину событий по конфигурации
func OpenBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Backend {
	case "jetstream":
		return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	case "memory", "":
		return eventbus.NewMemoryBus(cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("%w: eventbus.backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// OpenStore создаёт хранилище раскладок по конфигурации
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.LayoutStore, error) {
	switch cfg.Backend {
	case "badger":
		return storage.NewBadgerStore(cfg.Path)
	case "sqlite":
		return storage.OpenSQLiteStore(filepath.Join(cfg.Path, "layouts.db"))
	case "memory", "":
		return storage.NewMemoryStore(), nil
	case "redis":
		return storage.NewRedisStore(ctx, &storage.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTLMinutes) * time.Minute,
		})
	case "mariadb":
		return storage.NewMariaStore(ctx, cfg.DSN)
	case "mongo":
		return storage.NewMongoStore(ctx, storage.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return nil, fmt.Errorf("%w: storage.backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// VolumeOptions переводит конфигурацию в параметры объёма без Bus/Store/Metrics
func VolumeOptions(cfg *config.Config) (volume.Options, error) {
	plane, err := grid.ParsePlane(cfg.Grid.Plane)
	if err != nil {
		return volume.Options{}, err
	}

	aff := cfg.Affordance
	return volume.Options{
		ID:         cfg.Volume.ID,
		Bounds:     physics.NewBounds(cfg.Volume.Min, cfg.Volume.Size),
		Cell:       grid.CellSpec{Size: cfg.Grid.CellSize, Padding: cfg.Grid.Padding},
		Plane:      plane,
		CanBeMoved: cfg.Volume.CanBeMoved,
		IsScalable: cfg.Volume.IsScalable,
		HideTiles:  cfg.Volume.HideTiles,
		Affordance: &tile.AffordanceSettings{
			IdleMaterial:       material(aff.Idle),
			PressedMaterial:    material(aff.Pressed),
			ScaleDelta:         aff.ScaleDelta,
			TransitionDuration: aff.TransitionDuration,
		},
		Template: volume.TileTemplate{
			RegisterTapEvents:  aff.RegisterTapEvents,
			UseScaleAffordance: aff.UseScaleAffordance,
			UseColorAffordance: aff.UseColorAffordance,
			Scale:              cfg.Volume.TileScale,
		},
		SocketLimit: cfg.Volume.SocketLimit,
	}, nil
}

func material(m config.MaterialConfig) *tile.Material {
	return &tile.Material{
		Name:  m.Name,
		Color: tile.Color{R: m.RGBA[0], G: m.RGBA[1], B: m.RGBA[2], A: m.RGBA[3]},
	}
}
