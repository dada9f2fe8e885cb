package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/tilegrid/internal/app"
	"github.com/annel0/tilegrid/internal/config"
	"github.com/annel0/tilegrid/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default: $TILEGRID_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	if err := configureLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🧱 Запуск tilegrid: объём %s, плоскость %s, шина %s, хранилище %s",
		cfg.Volume.ID, cfg.Grid.Plane, cfg.EventBus.Backend, cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error("❌ Ошибка создания сервиса: %v", err)
		os.Exit(1)
	}

	if err := service.Start(ctx); err != nil {
		logging.Error("❌ Ошибка запуска сервиса: %v", err)
		_ = service.Shutdown(context.Background())
		os.Exit(1)
	}

	port := cfg.Server.GetRESTPort()
	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d/api/tiles", port)
	logging.Info("   📡 События: ws://localhost:%d/ws/events", port)
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", port)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", port)

	exitCode := 0
	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, останавливаемся...")
	case err := <-service.Errors():
		logging.Error("❌ Фоновый цикл завершился с ошибкой: %v", err)
		exitCode = 1
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки: %v", err)
		exitCode = 1
	}

	logging.Info("👋 Сервер успешно остановлен")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func configureLogging(cfg config.LoggingConfig) error {
	consoleLevel, err := logging.ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		return err
	}
	fileLevel, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		return err
	}

	logging.Configure(logging.Options{
		Dir:          cfg.Dir,
		ConsoleLevel: consoleLevel,
		FileLevel:    fileLevel,
	})
	if err := logging.GetLoggerManager().ApplyLevels(cfg.Components); err != nil {
		return err
	}
	return logging.InitDefaultLogger("server")
}
