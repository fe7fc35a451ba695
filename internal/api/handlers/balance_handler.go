package handlers

import (
	"context"
	"net/http"

	"crossarb/internal/models"
)

// BalanceSource - источник снимков балансов площадок
type BalanceSource interface {
	Snapshot(ctx context.Context, withUSD bool) map[string]*models.ExchangeBalance
}

// BalanceHandler отвечает за балансы подключенных площадок
type BalanceHandler struct {
	balances BalanceSource
}

// NewBalanceHandler создает новый BalanceHandler
func NewBalanceHandler(balances BalanceSource) *BalanceHandler {
	return &BalanceHandler{balances: balances}
}

// GetBalances возвращает балансы всех площадок
// GET /api/v1/balances
//
// Площадки, которые не ответили, в снимке отсутствуют; оценка в USD
// включается параметром ?usd=true.
func (h *BalanceHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	withUSD := r.URL.Query().Get("usd") == "true"
	respondJSON(w, http.StatusOK, h.balances.Snapshot(r.Context(), withUSD))
}
