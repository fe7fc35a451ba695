package handlers

import (
	"context"
	"errors"

	"crossarb/internal/models"
	"crossarb/internal/repository"
)

// ErrMockDatabase имитирует отказ хранилища
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock EngineControl ============

type mockEngine struct {
	status *models.EngineStatus
	paused bool
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		status: &models.EngineStatus{
			Running: true,
			Cycle:   12,
			Venues:  []string{"alpha", "beta"},
		},
	}
}

func (m *mockEngine) Status() *models.EngineStatus {
	s := *m.status
	s.Paused = m.paused
	return &s
}

func (m *mockEngine) Pause() bool {
	if m.paused {
		return false
	}
	m.paused = true
	return true
}

func (m *mockEngine) Resume() bool {
	if !m.paused {
		return false
	}
	m.paused = false
	return true
}

// ============ Mock BalanceSource ============

type mockBalances struct {
	snapshots map[string]*models.ExchangeBalance
}

func (m *mockBalances) Snapshot(ctx context.Context, withUSD bool) map[string]*models.ExchangeBalance {
	return m.snapshots
}

// ============ Mock TradeStore ============

type mockTradeStore struct {
	records []*models.TradeRecord
	stats   *models.TradeStats
	err     error
}

func (m *mockTradeStore) GetRecent(limit int) ([]*models.TradeRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.records) {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *mockTradeStore) Stats() (*models.TradeStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

// ============ Mock PathBlacklistStore ============

type mockPathStore struct {
	entries []*models.PathBlacklistEntry
	err     error
	nextID  int64
}

func (m *mockPathStore) GetAll() ([]*models.PathBlacklistEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.entries, nil
}

func (m *mockPathStore) Create(entry *models.PathBlacklistEntry) error {
	if m.err != nil {
		return m.err
	}
	for _, e := range m.entries {
		if e.PathKey() == entry.PathKey() {
			return repository.ErrPathExists
		}
	}
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockPathStore) Delete(asset, fromVenue, toVenue, network string) error {
	if m.err != nil {
		return m.err
	}
	for i, e := range m.entries {
		if e.Asset == asset && e.FromVenue == fromVenue && e.ToVenue == toVenue && e.Network == network {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return repository.ErrPathNotFound
}
