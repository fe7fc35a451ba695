package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityKey - идентичность возможности
//
// Две возможности с одинаковым ключом - это одна и та же возможность
// в разных циклах сканирования.
type OpportunityKey struct {
	BuyVenue  string `json:"buy_venue"`
	SellVenue string `json:"sell_venue"`
	Symbol    string `json:"symbol"` // BASE/QUOTE
}

func (k OpportunityKey) String() string {
	return k.BuyVenue + "->" + k.SellVenue + ":" + k.Symbol
}

// Opportunity представляет арбитражную возможность
//
// Создаётся сканером с валовыми полями (цены, gross_pct); анализатор
// обогащает комиссиями, сетями и чистой доходностью.
type Opportunity struct {
	BuyVenue  string          `json:"buy_venue"`
	SellVenue string          `json:"sell_venue"`
	Symbol    string          `json:"symbol"`
	BuyPrice  decimal.Decimal `json:"buy_price"`  // ask на стороне покупки
	SellPrice decimal.Decimal `json:"sell_price"` // bid на стороне продажи
	GrossPct  decimal.Decimal `json:"gross_pct"`
	SeenAt    time.Time       `json:"seen_at"`

	// Поля обогащения (заполняются анализатором)
	BuyFeePct          decimal.Decimal  `json:"buy_fee_pct"`
	SellFeePct         decimal.Decimal  `json:"sell_fee_pct"`
	WithdrawalFeeQuote decimal.Decimal  `json:"withdrawal_fee_quote"`
	NetPct             decimal.Decimal  `json:"net_pct"`
	PotentialNetworks  []*NetworkOption `json:"potential_networks,omitempty"` // отсортированы по рангу
	ChosenNetwork      *NetworkOption   `json:"chosen_network,omitempty"`
	StabilityCount     int              `json:"stability_count"`
	IsStable           bool             `json:"is_stable"`
	IsLiquid           bool             `json:"is_liquid"`
}

// NewOpportunity создаёт валовую возможность с проверкой инвариантов
//
// Ошибка если не выполняется 0 < buy < sell либо gross_pct вне [minGross, maxGross].
func NewOpportunity(buyVenue, sellVenue, symbol string, buyPrice, sellPrice, minGross, maxGross decimal.Decimal) (*Opportunity, error) {
	if buyPrice.Sign() <= 0 {
		return nil, fmt.Errorf("buy price must be positive, got %s", buyPrice)
	}
	if !sellPrice.GreaterThan(buyPrice) {
		return nil, fmt.Errorf("sell price %s must exceed buy price %s", sellPrice, buyPrice)
	}

	gross := sellPrice.Sub(buyPrice).Div(buyPrice).Mul(decimal.NewFromInt(100))
	if gross.LessThan(minGross) || gross.GreaterThan(maxGross) {
		return nil, fmt.Errorf("gross %s%% outside [%s, %s]", gross, minGross, maxGross)
	}

	return &Opportunity{
		BuyVenue:  buyVenue,
		SellVenue: sellVenue,
		Symbol:    symbol,
		BuyPrice:  buyPrice,
		SellPrice: sellPrice,
		GrossPct:  gross,
		SeenAt:    time.Now(),
	}, nil
}

// Key возвращает идентичность возможности
func (o *Opportunity) Key() OpportunityKey {
	return OpportunityKey{BuyVenue: o.BuyVenue, SellVenue: o.SellVenue, Symbol: o.Symbol}
}

// BaseAsset возвращает базовый актив символа ("BTC" для "BTC/USDT")
func (o *Opportunity) BaseAsset() string {
	if i := strings.IndexByte(o.Symbol, '/'); i > 0 {
		return o.Symbol[:i]
	}
	return o.Symbol
}

// QuoteAsset возвращает котируемый актив символа ("USDT" для "BTC/USDT")
func (o *Opportunity) QuoteAsset() string {
	if i := strings.IndexByte(o.Symbol, '/'); i >= 0 && i+1 < len(o.Symbol) {
		return o.Symbol[i+1:]
	}
	return ""
}
