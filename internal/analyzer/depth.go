package analyzer

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/pkg/utils"
)

// depthLevels - глубина стакана для проверки ликвидности
const depthLevels = 20

// CheckDepth проверяет, что стакан выдержит рыночный ордер
//
// Требования: суммарная видимая ликвидность не меньше minLiquidity
// (в котируемой валюте) и ордер полностью покрывается уровнями в
// пределах slippagePct от targetPrice с VWAP внутри той же полосы.
//
// Площадка без поддержки стакана проходит проверку с предупреждением:
// отсутствие данных не повод отбрасывать возможность.
func CheckDepth(ctx context.Context, gw exchange.Gateway, symbol, side string, amountBase, targetPrice, slippagePct, minLiquidity decimal.Decimal, log *zap.Logger) bool {
	if !gw.Has().FetchOrderBook {
		log.Warn("order book not supported, depth check skipped",
			zap.String("venue", gw.Name()), zap.String("symbol", symbol))
		return true
	}

	book, err := gw.FetchOrderBook(ctx, symbol, depthLevels)
	if err != nil {
		log.Warn("order book unavailable",
			zap.String("venue", gw.Name()), zap.String("symbol", symbol), zap.Error(err))
		return false
	}

	levels := book.Asks
	if side == exchange.SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return false
	}

	// Общая видимая ликвидность в котируемой валюте
	visible := decimal.Zero
	for _, l := range levels {
		visible = visible.Add(l.Price.Mul(l.Amount))
	}
	if visible.LessThan(minLiquidity) {
		log.Debug("insufficient visible liquidity",
			zap.String("venue", gw.Name()), zap.String("symbol", symbol),
			zap.String("visible", visible.String()), zap.String("min", minLiquidity.String()))
		return false
	}

	// Полоса допустимых цен вокруг целевой
	band := targetPrice.Mul(slippagePct).Div(decimal.NewFromInt(100))
	var limit decimal.Decimal
	if side == exchange.SideBuy {
		limit = targetPrice.Add(band)
	} else {
		limit = targetPrice.Sub(band)
	}

	// Проходим книгу, принимая уровни внутри полосы
	remaining := amountBase
	filledCost := decimal.Zero
	filledAmount := decimal.Zero
	for _, l := range levels {
		if side == exchange.SideBuy && l.Price.GreaterThan(limit) {
			break
		}
		if side == exchange.SideSell && l.Price.LessThan(limit) {
			break
		}
		take := l.Amount
		if take.GreaterThan(remaining) {
			take = remaining
		}
		filledCost = filledCost.Add(l.Price.Mul(take))
		filledAmount = filledAmount.Add(take)
		remaining = remaining.Sub(take)
		if remaining.Sign() <= 0 {
			break
		}
	}

	if remaining.Sign() > 0 && !utils.AlmostEqual(remaining, decimal.Zero) {
		log.Debug("order not covered within slippage band",
			zap.String("venue", gw.Name()), zap.String("symbol", symbol),
			zap.String("uncovered", remaining.String()))
		return false
	}
	if filledAmount.Sign() <= 0 {
		return false
	}

	vwap := filledCost.Div(filledAmount)
	if side == exchange.SideBuy {
		return !vwap.GreaterThan(limit)
	}
	return !vwap.LessThan(limit)
}
