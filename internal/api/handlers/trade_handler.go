package handlers

import (
	"net/http"
	"strconv"

	"crossarb/internal/models"
)

// TradeStore - доступ к истории терминальных сделок
type TradeStore interface {
	GetRecent(limit int) ([]*models.TradeRecord, error)
	Stats() (*models.TradeStats, error)
}

// TradeHandler отвечает за историю сделок
//
// Функции:
// - Последние сделки (GET /api/v1/trades?limit=N)
// - Агрегированная сводка (GET /api/v1/trades/stats)
type TradeHandler struct {
	trades TradeStore
}

// NewTradeHandler создает новый TradeHandler
func NewTradeHandler(trades TradeStore) *TradeHandler {
	return &TradeHandler{trades: trades}
}

// defaultTradeLimit используется когда параметр limit не задан
const defaultTradeLimit = 50

// maxTradeLimit ограничивает размер одной выборки
const maxTradeLimit = 500

// GetTrades возвращает последние терминальные сделки
// GET /api/v1/trades?limit=N
func (h *TradeHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxTradeLimit {
			n = maxTradeLimit
		}
		limit = n
	}

	records, err := h.trades.GetRecent(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	if records == nil {
		records = []*models.TradeRecord{}
	}

	respondJSON(w, http.StatusOK, records)
}

// GetStats возвращает агрегированную сводку по сделкам
// GET /api/v1/trades/stats
func (h *TradeHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.trades.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load trade stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
