package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord - строка таблицы trades
//
// Денежные колонки хранятся текстом: NUMERIC-строка без потери
// точности, Detail несёт полный JSON журнала сделки.
type TradeRecord struct {
	ID        int64  `json:"id"`
	BuyVenue  string `json:"buy_venue"`
	SellVenue string `json:"sell_venue"`
	Symbol    string `json:"symbol"`

	Status      string `json:"status"`
	NetworkUsed string `json:"network_used,omitempty"`

	InitialBuyCostQuote decimal.Decimal `json:"initial_buy_cost_quote"`
	QuoteReceived       decimal.Decimal `json:"quote_received"`
	FinalNetProfitQuote decimal.Decimal `json:"final_net_profit_quote"`
	FinalNetProfitPct   decimal.Decimal `json:"final_net_profit_pct"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Detail     string    `json:"detail,omitempty"`
}

// TradeStats - сводка по истории сделок
type TradeStats struct {
	Total            int             `json:"total"`
	Successful       int             `json:"successful"`
	Losses           int             `json:"losses"`
	TotalProfitQuote decimal.Decimal `json:"total_profit_quote"`
}

// PathBlacklistEntry - запрещённый путь перевода
type PathBlacklistEntry struct {
	ID        int64     `json:"id"`
	Asset     string    `json:"asset"`
	FromVenue string    `json:"from_venue"`
	ToVenue   string    `json:"to_venue"`
	Network   string    `json:"network"` // нормализованное имя
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PathKey возвращает ключ пути в формате анализатора
func (e *PathBlacklistEntry) PathKey() string {
	return e.Asset + "|" + e.FromVenue + "|" + e.ToVenue + "|" + e.Network
}
