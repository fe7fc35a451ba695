package rebalance

import (
	"sync"

	"crossarb/internal/models"
)

// OperationSet - дедупликационное множество переводов
//
// Гарантирует не более одного перевода в полёте на ключ
// (asset, from, to, квантованная сумма).
type OperationSet struct {
	mu  sync.Mutex
	set map[string]*models.RebalanceOperation
}

// NewOperationSet создаёт пустое множество
func NewOperationSet() *OperationSet {
	return &OperationSet{set: make(map[string]*models.RebalanceOperation)}
}

// TryRegister регистрирует операцию; false если такой перевод уже в полёте
func (s *OperationSet) TryRegister(op *models.RebalanceOperation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := op.Key()
	if _, exists := s.set[key]; exists {
		return false
	}
	s.set[key] = op
	return true
}

// Release снимает операцию с учёта
func (s *OperationSet) Release(op *models.RebalanceOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, op.Key())
}

// Active возвращает количество переводов в полёте
func (s *OperationSet) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}
