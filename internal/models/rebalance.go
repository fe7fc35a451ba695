package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RebalanceOperation - перевод средств между площадками или счетами
//
// Ключ операции служит элементом дедупликационного множества:
// два конкурентных пути исполнения не могут запустить один и тот же перевод.
type RebalanceOperation struct {
	Asset     string          `json:"asset"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"` // уже квантованная величина
	CreatedAt time.Time       `json:"created_at"`
}

// NewRebalanceOperation создаёт операцию перевода
func NewRebalanceOperation(asset, from, to string, amount decimal.Decimal) *RebalanceOperation {
	return &RebalanceOperation{
		Asset:     asset,
		From:      from,
		To:        to,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
}

// Key возвращает дедупликационный ключ asset|from|to|amount
func (op *RebalanceOperation) Key() string {
	return op.Asset + "|" + op.From + "|" + op.To + "|" + op.Amount.String()
}
