package journal

import (
	"fmt"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"crossarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer - журнал сделок: по одной JSON-строке на терминальную сделку
//
// Формат append-only NDJSON; все decimal-величины сериализуются
// строками, так что журнал можно разбирать без потери точности.
// Журнал - первичный операторский источник для восстановления после
// отказов исполнения.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	path string
	log  *zap.Logger
}

// Open открывает (или создаёт) файл журнала для дозаписи
func Open(path string, log *zap.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trade journal %s: %w", path, err)
	}
	return &Writer{f: f, path: path, log: log.Named("journal")}, nil
}

// Record дописывает одну терминальную сделку
func (w *Writer) Record(trade *models.CompletedArbitrageLog) error {
	line, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append trade record: %w", err)
	}

	w.log.Debug("trade recorded",
		zap.String("opp", trade.Opportunity.String()),
		zap.String("status", trade.Status))
	return nil
}

// Close закрывает файл журнала
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Nop - журнал, который никуда не пишет (тесты, journal off)
type Nop struct{}

// Record ничего не делает
func (Nop) Record(*models.CompletedArbitrageLog) error { return nil }
