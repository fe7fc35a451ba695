package engine

import (
	"strings"
	"sync"
	"time"

	"crossarb/internal/models"
	"crossarb/internal/repository"
)

// MemoryPathStore - чёрный список путей в памяти
//
// Используется вместо PathBlacklistRepository когда БД выключена, чтобы
// операторский API оставался рабочим. Записи живут до перезапуска;
// в анализатор они попадают при следующем старте вместе с
// настроенным списком.
type MemoryPathStore struct {
	mu      sync.Mutex
	entries map[string]*models.PathBlacklistEntry
	nextID  int64
}

// NewMemoryPathStore создаёт пустое хранилище
func NewMemoryPathStore() *MemoryPathStore {
	return &MemoryPathStore{
		entries: make(map[string]*models.PathBlacklistEntry),
		nextID:  1,
	}
}

// Create добавляет запись; дубликат пути возвращает ErrPathExists
func (s *MemoryPathStore) Create(entry *models.PathBlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Приводим к верхнему регистру для консистентности
	entry.Asset = strings.ToUpper(entry.Asset)

	key := entry.PathKey()
	if _, ok := s.entries[key]; ok {
		return repository.ErrPathExists
	}

	entry.ID = s.nextID
	s.nextID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	stored := *entry
	s.entries[key] = &stored
	return nil
}

// GetAll возвращает все записи (порядок не гарантируется)
func (s *MemoryPathStore) GetAll() ([]*models.PathBlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.PathBlacklistEntry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Delete удаляет запись по пути; отсутствие - ErrPathNotFound
func (s *MemoryPathStore) Delete(asset, fromVenue, toVenue, network string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	probe := models.PathBlacklistEntry{
		Asset:     strings.ToUpper(asset),
		FromVenue: fromVenue,
		ToVenue:   toVenue,
		Network:   network,
	}
	key := probe.PathKey()
	if _, ok := s.entries[key]; !ok {
		return repository.ErrPathNotFound
	}
	delete(s.entries, key)
	return nil
}

// Count возвращает количество записей
func (s *MemoryPathStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
