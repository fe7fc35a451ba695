package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Статусы арбитражной сделки
//
// Успешный путь:
//
//	PENDING -> BUY_LEG_PENDING -> BUY_LEG_FILLED -> TRANSFER_LEG_PENDING
//	        -> TRANSFER_LEG_INITIATED_WAITING_ARRIVAL -> SELL_LEG_PENDING
//	        -> COMPLETED_SUCCESS | COMPLETED_LOSS | COMPLETED_UNKNOWN_PROFIT
//
// Терминальные отказы дополняются суффиксом с деталью
// (например TRANSFER_LEG_FAILED_NO_ADDRESS).
const (
	StatusPending                = "PENDING"
	StatusBuyLegPending          = "BUY_LEG_PENDING"
	StatusBuyLegFilled           = "BUY_LEG_FILLED"
	StatusTransferLegPending     = "TRANSFER_LEG_PENDING"
	StatusTransferWaitingArrival = "TRANSFER_LEG_INITIATED_WAITING_ARRIVAL"
	StatusSellLegPending         = "SELL_LEG_PENDING"
	StatusCompletedSuccess       = "COMPLETED_SUCCESS"
	StatusCompletedLoss          = "COMPLETED_LOSS"
	StatusCompletedUnknown       = "COMPLETED_UNKNOWN_PROFIT"

	StatusSetupError        = "SETUP_ERROR"
	StatusBuyLegFailed      = "BUY_LEG_FAILED"
	StatusJITFundingFailed  = "JIT_FUNDING_FAILED"
	StatusTransferLegFailed = "TRANSFER_LEG_FAILED"
	StatusSellLegFailed     = "SELL_LEG_FAILED"
)

// FailStatus строит терминальный статус отказа с деталью:
// FailStatus(StatusBuyLegFailed, "ZERO_FILL") -> "BUY_LEG_FAILED_ZERO_FILL"
func FailStatus(base, detail string) string {
	if detail == "" {
		return base
	}
	return base + "_" + detail
}

// IsCompleted возвращает true, если сделка дошла до продажи
// (оба плеча исполнены, результат известен хотя бы частично)
func IsCompleted(status string) bool {
	switch status {
	case StatusCompletedSuccess, StatusCompletedLoss, StatusCompletedUnknown:
		return true
	}
	return false
}

// IsTerminal возвращает true для финальных статусов сделки
func IsTerminal(status string) bool {
	switch status {
	case StatusCompletedSuccess, StatusCompletedLoss, StatusCompletedUnknown:
		return true
	}
	for _, prefix := range []string{
		StatusSetupError, StatusBuyLegFailed, StatusJITFundingFailed,
		StatusTransferLegFailed, StatusSellLegFailed,
	} {
		if status == prefix || (len(status) > len(prefix) && status[:len(prefix)+1] == prefix+"_") {
			return true
		}
	}
	return false
}

// TradeExecutionDetails - запись одного исполненного ордера (нога сделки)
type TradeExecutionDetails struct {
	OrderID     string          `json:"order_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"` // buy, sell
	Price       decimal.Decimal `json:"price"`
	AmountBase  decimal.Decimal `json:"amount_base"`
	CostQuote   decimal.Decimal `json:"cost_quote"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
	FeeCurrency string          `json:"fee_currency"`
	Status      string          `json:"status"`
	RawResponse string          `json:"raw_response,omitempty"`
}

// CompletedArbitrageLog - итоговый журнал одной попытки арбитража
//
// Заполняется исполнителем по мере прохождения ног; ErrorMessages
// только дописываются, записанные диагностики не стираются.
type CompletedArbitrageLog struct {
	Opportunity OpportunityKey `json:"opportunity"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`

	BuyLeg         *TradeExecutionDetails   `json:"buy_leg,omitempty"`
	TransferID     string                   `json:"transfer_id,omitempty"`
	NetworkUsed    string                   `json:"network_used,omitempty"`
	SellLeg        *TradeExecutionDetails   `json:"sell_leg,omitempty"`
	JITConversions []*TradeExecutionDetails `json:"jit_conversions,omitempty"`

	InitialBuyCostQuote     decimal.Decimal `json:"initial_buy_cost_quote"`
	NetBaseAfterBuyFee      decimal.Decimal `json:"net_base_after_buy_fee"`
	BaseReceivedOnSellVenue decimal.Decimal `json:"base_received_on_sell_venue"`
	QuoteReceived           decimal.Decimal `json:"quote_received"`
	FinalNetProfitQuote     decimal.Decimal `json:"final_net_profit_quote"`
	FinalNetProfitPct       decimal.Decimal `json:"final_net_profit_pct"`

	Status        string   `json:"status"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

// AddError дописывает диагностику в журнал
func (l *CompletedArbitrageLog) AddError(msg string) {
	if msg != "" {
		l.ErrorMessages = append(l.ErrorMessages, msg)
	}
}
