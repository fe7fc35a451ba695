package websocket

import (
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeTradeOpen - исполнитель взял возможность в работу
	MessageTypeTradeOpen MessageType = "TRADE_OPEN"

	// MessageTypeTradeDone - сделка завершилась терминальным COMPLETED_* статусом
	MessageTypeTradeDone MessageType = "TRADE_DONE"

	// MessageTypeTradeFail - сделка завершилась отказом одного из плеч
	MessageTypeTradeFail MessageType = "TRADE_FAIL"

	// MessageTypeRebalance - выполнен межбиржевой или внутренний перевод
	MessageTypeRebalance MessageType = "REBALANCE"

	// MessageTypeVenueError - биржа вернула ошибку вне контекста сделки
	MessageTypeVenueError MessageType = "VENUE_ERROR"

	// MessageTypeCycle - сводка завершённого цикла сканирования
	MessageTypeCycle MessageType = "CYCLE"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// TradeOpenMessage - уведомление о начале исполнения возможности
type TradeOpenMessage struct {
	BaseMessage
	Data *TradeOpenData `json:"data"`
}

// TradeOpenData - параметры взятой в работу возможности
type TradeOpenData struct {
	BuyVenue  string          `json:"buy_venue"`
	SellVenue string          `json:"sell_venue"`
	Symbol    string          `json:"symbol"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	GrossPct  decimal.Decimal `json:"gross_pct"`
	NetPct    decimal.Decimal `json:"net_pct"`
}

// TradeResultMessage - уведомление о терминальной сделке
//
// Используется и для TRADE_DONE, и для TRADE_FAIL: тип сообщения
// различает исход, данные одни и те же.
type TradeResultMessage struct {
	BaseMessage
	Data *TradeResultData `json:"data"`
}

// TradeResultData - итог терминальной сделки
type TradeResultData struct {
	BuyVenue    string          `json:"buy_venue"`
	SellVenue   string          `json:"sell_venue"`
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	NetworkUsed string          `json:"network_used,omitempty"`
	ProfitQuote decimal.Decimal `json:"profit_quote"`
	ProfitPct   decimal.Decimal `json:"profit_pct"`
	Errors      []string        `json:"errors,omitempty"`
}

// RebalanceMessage - уведомление о переводе средств
type RebalanceMessage struct {
	BaseMessage
	Data *RebalanceData `json:"data"`
}

// RebalanceData - параметры перевода
type RebalanceData struct {
	Asset     string          `json:"asset"`
	FromVenue string          `json:"from_venue"`
	ToVenue   string          `json:"to_venue"`
	Amount    decimal.Decimal `json:"amount"`
	Network   string          `json:"network,omitempty"`
}

// VenueErrorMessage - уведомление об ошибке биржи
type VenueErrorMessage struct {
	BaseMessage
	Data *VenueErrorData `json:"data"`
}

// VenueErrorData - контекст ошибки биржи
type VenueErrorData struct {
	Venue   string `json:"venue"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

// CycleMessage - сводка одного цикла сканирования
type CycleMessage struct {
	BaseMessage
	Data *CycleData `json:"data"`
}

// CycleData - итоги цикла
type CycleData struct {
	Cycle         int64         `json:"cycle"`
	QuotesFetched int           `json:"quotes_fetched"`
	Opportunities int           `json:"opportunities"`
	Executed      int           `json:"executed"`
	Duration      time.Duration `json:"duration_ns"`
}

// ============ Фабричные функции для создания сообщений ============

// NewTradeOpenMessage создает уведомление о взятой в работу возможности
func NewTradeOpenMessage(opp *models.Opportunity) *TradeOpenMessage {
	return &TradeOpenMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeTradeOpen,
			Timestamp: time.Now(),
		},
		Data: &TradeOpenData{
			BuyVenue:  opp.BuyVenue,
			SellVenue: opp.SellVenue,
			Symbol:    opp.Symbol,
			BuyPrice:  opp.BuyPrice,
			SellPrice: opp.SellPrice,
			GrossPct:  opp.GrossPct,
			NetPct:    opp.NetPct,
		},
	}
}

// NewTradeResultMessage создает уведомление о терминальной сделке
//
// Тип сообщения выбирается по статусу: COMPLETED_* даёт TRADE_DONE,
// всё остальное TRADE_FAIL.
func NewTradeResultMessage(trade *models.CompletedArbitrageLog) *TradeResultMessage {
	msgType := MessageTypeTradeFail
	if models.IsCompleted(trade.Status) {
		msgType = MessageTypeTradeDone
	}

	return &TradeResultMessage{
		BaseMessage: BaseMessage{
			Type:      msgType,
			Timestamp: time.Now(),
		},
		Data: &TradeResultData{
			BuyVenue:    trade.Opportunity.BuyVenue,
			SellVenue:   trade.Opportunity.SellVenue,
			Symbol:      trade.Opportunity.Symbol,
			Status:      trade.Status,
			NetworkUsed: trade.NetworkUsed,
			ProfitQuote: trade.FinalNetProfitQuote,
			ProfitPct:   trade.FinalNetProfitPct,
			Errors:      trade.ErrorMessages,
		},
	}
}

// NewRebalanceMessage создает уведомление о переводе средств
func NewRebalanceMessage(asset, fromVenue, toVenue, network string, amount decimal.Decimal) *RebalanceMessage {
	return &RebalanceMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeRebalance,
			Timestamp: time.Now(),
		},
		Data: &RebalanceData{
			Asset:     asset,
			FromVenue: fromVenue,
			ToVenue:   toVenue,
			Amount:    amount,
			Network:   network,
		},
	}
}

// NewVenueErrorMessage создает уведомление об ошибке биржи
func NewVenueErrorMessage(venue, op string, err error) *VenueErrorMessage {
	return &VenueErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeVenueError,
			Timestamp: time.Now(),
		},
		Data: &VenueErrorData{
			Venue:   venue,
			Op:      op,
			Message: err.Error(),
		},
	}
}

// NewCycleMessage создает сводку завершённого цикла
func NewCycleMessage(cycle int64, quotes, opportunities, executed int, duration time.Duration) *CycleMessage {
	return &CycleMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeCycle,
			Timestamp: time.Now(),
		},
		Data: &CycleData{
			Cycle:         cycle,
			QuotesFetched: quotes,
			Opportunities: opportunities,
			Executed:      executed,
			Duration:      duration,
		},
	}
}
