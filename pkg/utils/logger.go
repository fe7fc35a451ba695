package utils

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger создаёт корневой структурированный logger (zap)
//
// Параметры:
//   - level: "debug", "info", "warn", "error"
//   - format: "json" (production) или "console" (разработка)
//
// Каждый компонент получает именованный sub-logger через logger.Named("scanner"),
// logger.Named("executor") и т.д. Глобальных logger'ов в компонентах нет -
// logger передаётся через конструкторы.
func InitLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Sampling отключён: при цикле раз в несколько секунд терять записи незачем
	cfg.Sampling = nil

	return cfg.Build()
}

// NopLogger возвращает logger, который ничего не пишет (для тестов)
func NopLogger() *zap.Logger {
	return zap.NewNop()
}
