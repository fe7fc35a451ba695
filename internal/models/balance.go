package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance - баланс одного актива на площадке
type AssetBalance struct {
	Free     decimal.Decimal `json:"free"`
	Used     decimal.Decimal `json:"used"`
	Total    decimal.Decimal `json:"total"`
	USDValue decimal.Decimal `json:"usd_value"`
}

// ExchangeBalance - снимок балансов площадки
//
// Снимок иммутабелен после создания: новые данные - новый снимок.
type ExchangeBalance struct {
	Venue    string                  `json:"venue"`
	TotalUSD decimal.Decimal         `json:"total_usd"`
	Assets   map[string]AssetBalance `json:"assets"`
	TakenAt  time.Time               `json:"taken_at"`
}

// NewExchangeBalance создаёт снимок и считает TotalUSD как сумму usd_value активов
func NewExchangeBalance(venue string, assets map[string]AssetBalance) *ExchangeBalance {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(a.USDValue)
	}
	return &ExchangeBalance{
		Venue:    venue,
		TotalUSD: total,
		Assets:   assets,
		TakenAt:  time.Now(),
	}
}

// Free возвращает свободный остаток актива (Zero если актива нет)
func (b *ExchangeBalance) FreeOf(asset string) decimal.Decimal {
	if a, ok := b.Assets[asset]; ok {
		return a.Free
	}
	return decimal.Zero
}
