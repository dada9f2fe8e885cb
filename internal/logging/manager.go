package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ComponentLevel уровни одного компонента (для API и конфига)
type ComponentLevel struct {
	Component string `json:"component"`
	Console   string `json:"console"`
	File      string `json:"file"`
}

type levelPair struct {
	console LogLevel
	file    LogLevel
}

// LoggerManager держит по одному логгеру на компонент и переопределения
// уровней. Переопределение можно задать до создания логгера.
type LoggerManager struct {
	mu        sync.RWMutex
	loggers   map[string]*Logger
	overrides map[string]levelPair
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

func newLoggerManager() *LoggerManager {
	return &LoggerManager{
		loggers:   make(map[string]*Logger),
		overrides: make(map[string]levelPair),
	}
}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newLoggerManager()
	})
	return globalManager
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}
	if lv, ok := lm.overrides[component]; ok {
		logger.setLevels(lv.console, lv.file)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или консольный fallback при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return &Logger{
			component:       component,
			consoleLogger:   defaultLogger.consoleLogger,
			minConsoleLevel: INFO,
			minFileLevel:    ERROR,
		}
	}
	return logger
}

// CloseAll закрывает файлы всех логгеров. Логгеры остаются пригодными
// для вывода в консоль.
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to close logger for %s: %w", component, err))
		}
	}
	return errs
}

// Levels возвращает уровни созданных логгеров, отсортированные по компоненту
func (lm *LoggerManager) Levels() []ComponentLevel {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]ComponentLevel, 0, len(lm.loggers))
	for component, logger := range lm.loggers {
		console, file := logger.levels()
		out = append(out, ComponentLevel{Component: component, Console: console.String(), File: file.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// SetLogLevel переопределяет уровни компонента. Если логгер ещё не создан,
// уровни применятся при создании.
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	if component == "" {
		return errors.New("empty component name")
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.overrides[component] = levelPair{console: consoleLevel, file: fileLevel}
	if logger, exists := lm.loggers[component]; exists {
		logger.setLevels(consoleLevel, fileLevel)
	}
	return nil
}

// ApplyLevels разбирает карту компонент -> уровень консоли. Файловый уровень
// берется из текущих Options.
func (lm *LoggerManager) ApplyLevels(levels map[string]string) error {
	fileLevel := currentOptions().FileLevel
	for component, name := range levels {
		lvl, err := ParseLevel(name)
		if err != nil {
			return fmt.Errorf("component %s: %w", component, err)
		}
		if err := lm.SetLogLevel(component, lvl, fileLevel); err != nil {
			return err
		}
	}
	return nil
}

// Удобные функции для получения логгеров
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetGridLogger() *Logger {
	return GetComponentLogger("grid")
}

func GetTweenLogger() *Logger {
	return GetComponentLogger("tween")
}

func GetTileLogger() *Logger {
	return GetComponentLogger("tile")
}

func GetVolumeLogger() *Logger {
	return GetComponentLogger("volume")
}

func GetAPILogger() *Logger {
	return GetComponentLogger("api")
}

func GetBusLogger() *Logger {
	return GetComponentLogger("eventbus")
}

func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}
