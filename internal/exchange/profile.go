package exchange

import "github.com/shopspring/decimal"

// PrecisionMode - интерпретация поля precision в метаданных валюты
type PrecisionMode int

const (
	// PrecisionAuto - эвристика: значение < 1 трактуется как tick-size,
	// целое значение >= 0 как число знаков после запятой
	PrecisionAuto PrecisionMode = iota
	// PrecisionTickSize - precision это шаг (0.001)
	PrecisionTickSize
	// PrecisionDecimalPlaces - precision это число знаков (3 -> шаг 0.001)
	PrecisionDecimalPlaces
)

// AccountPurpose - назначение счёта внутри площадки
type AccountPurpose string

const (
	AccountTrading    AccountPurpose = "trading"
	AccountWithdrawal AccountPurpose = "withdrawal"
)

// VenueProfile - стратегия особенностей площадки
//
// Выбирается один раз при конструировании шлюза; вызывающий код
// не знает ни одного имени площадки. Замена ветвлений по venue id
// на запись-стратегию.
type VenueProfile struct {
	// BalanceParser - вариант разбора ответа fetch_balance
	BalanceParser string

	// PrecisionMode - интерпретация precision валют
	PrecisionMode PrecisionMode

	// AccountParams - query-параметры fetch_balance/transfer по назначению счёта
	// Площадка без разделения счетов указывает одинаковые параметры
	AccountParams map[AccountPurpose]map[string]string

	// AccountTypes - нативные имена типов счетов для transfer
	AccountTypes map[AccountPurpose]string

	// MinInternalTransfer - минимальная сумма внутреннего перевода
	MinInternalTransfer decimal.Decimal

	// WalletTypeHint - подсказка типа кошелька для withdraw (params["walletType"])
	WalletTypeHint string
}

// DefaultProfile - профиль площадки без особенностей
func DefaultProfile() *VenueProfile {
	return &VenueProfile{
		BalanceParser: "standard",
		PrecisionMode: PrecisionAuto,
		AccountParams: map[AccountPurpose]map[string]string{
			AccountTrading:    {},
			AccountWithdrawal: {},
		},
		AccountTypes: map[AccountPurpose]string{
			AccountTrading:    "spot",
			AccountWithdrawal: "spot",
		},
	}
}

// ParamsFor возвращает query-параметры счёта данного назначения
func (p *VenueProfile) ParamsFor(purpose AccountPurpose) map[string]string {
	if params, ok := p.AccountParams[purpose]; ok {
		return params
	}
	return map[string]string{}
}

// TypeFor возвращает нативный тип счёта для transfer
func (p *VenueProfile) TypeFor(purpose AccountPurpose) string {
	if t, ok := p.AccountTypes[purpose]; ok {
		return t
	}
	return "spot"
}

// SameAccount возвращает true если назначения не различаются на площадке
func (p *VenueProfile) SameAccount(a, b AccountPurpose) bool {
	return p.TypeFor(a) == p.TypeFor(b)
}
