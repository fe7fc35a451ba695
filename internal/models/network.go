package models

import "github.com/shopspring/decimal"

// Источники сведений о сети
const (
	NetworkSourceStatic = "static" // операторская таблица комиссий
	NetworkSourceLive   = "live"   // fetch_currencies площадки
)

// NetworkOption - кандидат сети для перевода актива между площадками
//
// Normalized - каноническое имя сети (ERC20, BEP20, TRC20, ...), по которому
// сопоставляются возможность вывода на источнике и ввода на приёмнике.
// DEFAULT и UNKNOWN_NETWORK никогда не считаются совпадением.
type NetworkOption struct {
	WithdrawCode  string          `json:"withdraw_code"` // нативный код сети на площадке-источнике
	DepositCode   string          `json:"deposit_code"`  // нативный код для fetch_deposit_address на приёмнике
	Normalized    string          `json:"normalized"`
	FeeNative     decimal.Decimal `json:"fee_native"`
	FeeCurrency   string          `json:"fee_currency"`
	MinWithdrawal decimal.Decimal `json:"min_withdrawal"`
	Source        string          `json:"source"`
	TokenRank     int             `json:"token_rank"`   // ранг в per-token списке предпочтений
	GeneralRank   int             `json:"general_rank"` // ранг в глобальном списке предпочтений
}
