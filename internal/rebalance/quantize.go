package rebalance

import (
	"context"

	"github.com/shopspring/decimal"

	"crossarb/internal/exchange"
	"crossarb/internal/network"
	"crossarb/pkg/utils"
)

// fallbackQuantum - шаг 10^-8 когда метаданные молчат
var fallbackQuantum = decimal.New(1, -8)

// MarketSource отдаёт метаданные рынка площадки
type MarketSource interface {
	Market(venue, symbol string) (*exchange.Market, bool)
}

// Quantizer выводит шаг количества для (площадка, актив)
//
// Порядок: precision валюты (интерпретация по профилю площадки),
// затем шаг количества рынка asset/quote, затем 10^-8.
type Quantizer struct {
	currencies network.CurrencyProvider
	markets    MarketSource
	profile    func(venue string) *exchange.VenueProfile
	quote      string
}

// NewQuantizer создаёт квантователь
func NewQuantizer(currencies network.CurrencyProvider, markets MarketSource, profile func(string) *exchange.VenueProfile, quote string) *Quantizer {
	return &Quantizer{currencies: currencies, markets: markets, profile: profile, quote: quote}
}

// Quantum возвращает шаг количества актива на площадке
func (q *Quantizer) Quantum(ctx context.Context, venue, asset string) decimal.Decimal {
	if currencies, err := q.currencies(ctx, venue); err == nil {
		if c, ok := currencies[asset]; ok && c.PrecisionKnown {
			if step := interpretPrecision(c.Precision, q.profile(venue).PrecisionMode); step.Sign() > 0 {
				return step
			}
		}
	}
	if m, ok := q.markets.Market(venue, asset+"/"+q.quote); ok && m.AmountPrecision.Sign() > 0 {
		return m.AmountPrecision
	}
	return fallbackQuantum
}

// QuantizeDown округляет количество вниз до шага актива
func (q *Quantizer) QuantizeDown(ctx context.Context, venue, asset string, amount decimal.Decimal) decimal.Decimal {
	return utils.QuantizeDown(amount, q.Quantum(ctx, venue, asset))
}

// interpretPrecision переводит precision в шаг количества
//
// TICK_SIZE: значение и есть шаг. DECIMAL_PLACES: 10^-precision.
// Auto-эвристика: дробное значение меньше единицы - шаг,
// целое неотрицательное - число знаков.
func interpretPrecision(precision decimal.Decimal, mode exchange.PrecisionMode) decimal.Decimal {
	switch mode {
	case exchange.PrecisionTickSize:
		return precision
	case exchange.PrecisionDecimalPlaces:
		return placesToStep(precision)
	default:
		if precision.Sign() > 0 && precision.LessThan(decimal.NewFromInt(1)) {
			return precision
		}
		return placesToStep(precision)
	}
}

func placesToStep(places decimal.Decimal) decimal.Decimal {
	if !places.Equal(places.Truncate(0)) || places.Sign() < 0 {
		return decimal.Zero
	}
	n := places.IntPart()
	if n > 18 {
		n = 18
	}
	return decimal.New(1, -int32(n))
}
