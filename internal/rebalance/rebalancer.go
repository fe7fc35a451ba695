package rebalance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/analyzer"
	"crossarb/internal/balance"
	"crossarb/internal/exchange"
	"crossarb/internal/models"
	"crossarb/internal/network"
	"crossarb/pkg/utils"
)

// Config - параметры ребалансера
type Config struct {
	Quote             string
	ReserveBuffer     decimal.Decimal // неприкосновенный остаток котируемой валюты на источнике
	TransferFeeBuffer decimal.Decimal // запас на комиссию перевода котируемой валюты
	JITMinConversion  decimal.Decimal // минимальная ценность актива для JIT-конверсии
	JITAssets         []string        // активы, пригодные к JIT-конверсии (BTC, ETH, USDC...)
	MinLiquidity      decimal.Decimal // порог стакана для конверсий
	SlippagePct       decimal.Decimal

	// MemoRequired - (venue, asset), где адрес пополнения обязан нести memo/tag
	MemoRequired map[string]map[string]bool
}

// FillObserver получает уведомления об исполненных конверсиях
//
// Исполнитель передаёт собственного наблюдателя, чтобы складывать
// JIT-конверсии в журнал сделки.
type FillObserver interface {
	OnConversionFill(venue string, order *exchange.Order)
}

// Rebalancer - примитивы перемещения средств
//
// Все операции идемпотентно защищены множеством RebalanceOperation
// и уважают минимальную сумму внутреннего перевода площадки.
type Rebalancer struct {
	balances  *balance.Manager
	selector  *network.Selector
	quantizer *Quantizer
	norm      *network.Normalizer
	ops       *OperationSet
	markets   MarketSource
	cfg       Config
	log       *zap.Logger
}

// New создаёт ребалансер
func New(balances *balance.Manager, selector *network.Selector, quantizer *Quantizer, norm *network.Normalizer, ops *OperationSet, markets MarketSource, cfg Config, log *zap.Logger) *Rebalancer {
	return &Rebalancer{
		balances:  balances,
		selector:  selector,
		quantizer: quantizer,
		norm:      norm,
		ops:       ops,
		markets:   markets,
		cfg:       cfg,
		log:       log.Named("rebalance"),
	}
}

// Ops возвращает множество операций (для метрик и статуса)
func (r *Rebalancer) Ops() *OperationSet { return r.ops }

// ============================================================
// Внутренний перевод между счетами площадки
// ============================================================

// InternalTransfer доводит свободный остаток счёта назначения до required
//
// Если на счёте уже достаточно - успех без вызовов. Площадка, не
// различающая назначения счетов, считается успешной при достаточном
// остатке и несостоятельной иначе.
func (r *Rebalancer) InternalTransfer(ctx context.Context, venue, asset string, required decimal.Decimal, from, to exchange.AccountPurpose) error {
	v, ok := r.balances.Venue(venue)
	if !ok {
		return fmt.Errorf("unknown venue %s", venue)
	}

	targetFree, err := r.balances.AccountFree(ctx, venue, asset, to)
	if err != nil {
		return fmt.Errorf("read %s %s balance on %s: %w", to, asset, venue, err)
	}
	if utils.GTE(targetFree, required) {
		return nil
	}

	if v.Profile.SameAccount(from, to) {
		return &exchange.InsufficientFundsError{
			Venue: venue, Asset: asset,
			Need: required.String(), Have: targetFree.String(),
		}
	}

	deficit := required.Sub(targetFree)
	amount := r.quantizer.QuantizeDown(ctx, venue, asset, deficit)
	if amount.LessThan(deficit) {
		// Округление вниз не должно оставить счёт короче required
		amount = amount.Add(r.quantizer.Quantum(ctx, venue, asset))
	}
	if minTransfer := v.Profile.MinInternalTransfer; amount.LessThan(minTransfer) {
		amount = minTransfer
	}

	sourceFree, err := r.balances.AccountFree(ctx, venue, asset, from)
	if err != nil {
		return fmt.Errorf("read %s %s balance on %s: %w", from, asset, venue, err)
	}
	if !utils.GTE(sourceFree, amount) {
		return &exchange.InsufficientFundsError{
			Venue: venue, Asset: asset,
			Need: amount.String(), Have: sourceFree.String(),
		}
	}

	op := models.NewRebalanceOperation(asset, venue+":"+string(from), venue+":"+string(to), amount)
	if !r.ops.TryRegister(op) {
		return fmt.Errorf("internal transfer already in flight: %s", op.Key())
	}
	defer r.ops.Release(op)

	err = v.Gateway.Transfer(ctx, asset, amount, v.Profile.TypeFor(from), v.Profile.TypeFor(to), nil)
	if err != nil {
		return fmt.Errorf("internal transfer %s %s on %s: %w", amount, asset, venue, err)
	}

	r.log.Info("internal transfer done",
		zap.String("venue", venue), zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// ============================================================
// Межбиржевой перевод
// ============================================================

// TransferBetweenVenues выводит asset с from на to
//
// Возвращает id вывода и использованную сеть. networkOverride
// пропускает повторный выбор сети (исполнитель передаёт уже
// выбранную анализатором).
func (r *Rebalancer) TransferBetweenVenues(ctx context.Context, asset, from, to string, amount decimal.Decimal, networkOverride *models.NetworkOption) (string, *models.NetworkOption, error) {
	amount = r.quantizer.QuantizeDown(ctx, from, asset, amount)
	if amount.Sign() <= 0 {
		return "", nil, fmt.Errorf("transfer amount quantized to zero for %s on %s", asset, from)
	}

	op := models.NewRebalanceOperation(asset, from, to, amount)
	if !r.ops.TryRegister(op) {
		return "", nil, fmt.Errorf("transfer already in flight: %s", op.Key())
	}
	defer r.ops.Release(op)

	if err := r.InternalTransfer(ctx, from, asset, amount, exchange.AccountTrading, exchange.AccountWithdrawal); err != nil {
		return "", nil, fmt.Errorf("fund withdrawal account: %w", err)
	}

	option := networkOverride
	if option == nil {
		options, err := r.selector.Select(ctx, asset, from, to, &amount)
		if err != nil {
			return "", nil, fmt.Errorf("select network for %s %s->%s: %w", asset, from, to, err)
		}
		if len(options) == 0 {
			return "", nil, fmt.Errorf("no compatible network for %s %s->%s", asset, from, to)
		}
		option = options[0]
	}

	toVenue, ok := r.balances.Venue(to)
	if !ok {
		return "", nil, fmt.Errorf("unknown venue %s", to)
	}
	memoRequired := false
	if byAsset, ok := r.cfg.MemoRequired[to]; ok {
		memoRequired = byAsset[asset]
	}
	addr, err := ResolveDepositAddress(ctx, toVenue.Gateway, r.norm, asset, option, memoRequired, r.log)
	if err != nil {
		return "", option, fmt.Errorf("deposit address: %w", err)
	}

	fromVenue, _ := r.balances.Venue(from)
	params := map[string]string{"network": option.WithdrawCode}
	if hint := fromVenue.Profile.WalletTypeHint; hint != "" {
		params["walletType"] = hint
	}

	id, err := fromVenue.Gateway.Withdraw(ctx, asset, amount, addr.Address, addr.Tag, params)
	if err != nil {
		return "", option, fmt.Errorf("withdraw %s %s from %s: %w", amount, asset, from, err)
	}

	r.log.Info("withdrawal submitted",
		zap.String("asset", asset), zap.String("from", from), zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("network", option.Normalized), zap.String("id", id))
	return id, option, nil
}

// ============================================================
// Конверсия в котируемую валюту
// ============================================================

// ConvertToQuote продаёт asset за котируемую валюту на площадке
//
// Возвращает фактически полученную котируемую сумму (за вычетом
// комиссии, если она в котируемой валюте). Отменённый ордер с нулевым
// исполнением - отказ; частичное исполнение закрытого ордера принимается.
func (r *Rebalancer) ConvertToQuote(ctx context.Context, venue, asset string, amount decimal.Decimal, obs FillObserver) (decimal.Decimal, error) {
	v, ok := r.balances.Venue(venue)
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown venue %s", venue)
	}
	symbol := asset + "/" + r.cfg.Quote
	m, ok := r.markets.Market(venue, symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s market on %s", symbol, venue)
	}

	amount = utils.QuantizeDown(amount, m.AmountPrecision)
	if amount.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("conversion amount quantized to zero for %s on %s", asset, venue)
	}
	if m.MinAmount.Sign() > 0 && amount.LessThan(m.MinAmount) {
		return decimal.Zero, fmt.Errorf("conversion amount %s below market minimum %s", amount, m.MinAmount)
	}

	ticker, err := v.Gateway.FetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker %s on %s: %w", symbol, venue, err)
	}
	price := ticker.BestBid()
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("no sell price for %s on %s", symbol, venue)
	}
	if m.MinCost.Sign() > 0 && amount.Mul(price).LessThan(m.MinCost) {
		return decimal.Zero, fmt.Errorf("conversion cost %s below market minimum %s", amount.Mul(price), m.MinCost)
	}

	if !analyzer.CheckDepth(ctx, v.Gateway, symbol, exchange.SideSell, amount, price, r.cfg.SlippagePct, r.cfg.MinLiquidity, r.log) {
		return decimal.Zero, fmt.Errorf("order book too thin for %s %s on %s", amount, symbol, venue)
	}

	order, err := v.Gateway.CreateMarketSellOrder(ctx, symbol, amount, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("market sell %s on %s: %w", symbol, venue, err)
	}

	final, err := exchange.FetchOrderUntilTerminal(ctx, v.Gateway, order.ID, symbol, 0, 0, r.log)
	if err != nil {
		return decimal.Zero, fmt.Errorf("conversion order %s: %w", order.ID, err)
	}
	if final.Filled.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("conversion order %s %s with zero fill", final.ID, final.Status)
	}

	received := final.Cost
	if final.Fee != nil && final.Fee.Currency == r.cfg.Quote {
		received = received.Sub(final.Fee.Amount)
	}

	if obs != nil {
		obs.OnConversionFill(venue, final)
	}
	r.log.Info("conversion filled",
		zap.String("venue", venue), zap.String("symbol", symbol),
		zap.String("filled", final.Filled.String()),
		zap.String("received", received.String()))
	return received, nil
}

// ============================================================
// JIT-фондирование котируемой валютой
// ============================================================

// EnsureQuoteForTrade готовит перевод котируемой валюты на target
//
// Сначала ищется источник со свободной котируемой валютой (за вычетом
// ReserveBuffer) на needed + TransferFeeBuffer; затем - JIT-конверсия
// ликвидного актива на подходящем источнике. Возвращает имя источника.
func (r *Rebalancer) EnsureQuoteForTrade(ctx context.Context, target string, needed decimal.Decimal, snapshots map[string]*models.ExchangeBalance, preferredSource string, obs FillObserver) (string, error) {
	required := needed.Add(r.cfg.TransferFeeBuffer)

	for _, source := range r.sourceOrder(target, snapshots, preferredSource) {
		free := snapshots[source].FreeOf(r.cfg.Quote).Sub(r.cfg.ReserveBuffer)
		if !utils.GTE(free, required) {
			continue
		}
		if _, _, err := r.TransferBetweenVenues(ctx, r.cfg.Quote, source, target, required, nil); err != nil {
			r.log.Warn("quote transfer failed, trying next source",
				zap.String("source", source), zap.Error(err))
			continue
		}
		return source, nil
	}

	// Ни у кого нет свободной котируемой валюты - пробуем JIT-конверсию
	for _, source := range r.sourceOrder(target, snapshots, preferredSource) {
		converted, err := r.jitConvert(ctx, source, required, snapshots[source], obs)
		if err != nil {
			r.log.Debug("jit conversion not possible", zap.String("source", source), zap.Error(err))
			continue
		}
		amount := required
		if converted.LessThan(amount) {
			amount = converted
		}
		if _, _, err := r.TransferBetweenVenues(ctx, r.cfg.Quote, source, target, amount, nil); err != nil {
			r.log.Warn("post-conversion transfer failed",
				zap.String("source", source), zap.Error(err))
			continue
		}
		return source, nil
	}

	return "", fmt.Errorf("no venue can fund %s %s for %s", required, r.cfg.Quote, target)
}

// jitConvert продаёт первый подходящий JIT-актив источника
//
// Актив подходит, если его ценность не ниже JITMinConversion и ожидаемая
// выручка после комиссии покрывает дефицит.
func (r *Rebalancer) jitConvert(ctx context.Context, source string, required decimal.Decimal, snapshot *models.ExchangeBalance, obs FillObserver) (decimal.Decimal, error) {
	if snapshot == nil {
		return decimal.Zero, fmt.Errorf("no balance snapshot for %s", source)
	}
	v, _ := r.balances.Venue(source)

	for _, asset := range r.cfg.JITAssets {
		if asset == r.cfg.Quote {
			continue
		}
		ab, ok := snapshot.Assets[asset]
		if !ok || ab.Free.Sign() <= 0 {
			continue
		}
		if ab.USDValue.LessThan(r.cfg.JITMinConversion) {
			continue
		}

		symbol := asset + "/" + r.cfg.Quote
		ticker, err := v.Gateway.FetchTicker(ctx, symbol)
		if err != nil {
			continue
		}
		price := ticker.BestBid()
		if price.Sign() <= 0 {
			continue
		}

		// Продаём ровно под дефицит с запасом на комиссию, не больше свободного
		toSell := required.Mul(decimal.RequireFromString("1.01")).Div(price)
		if toSell.GreaterThan(ab.Free) {
			toSell = ab.Free
		}
		expected := toSell.Mul(price).Mul(decimal.RequireFromString("0.998"))
		if expected.LessThan(required) {
			continue
		}

		received, err := r.ConvertToQuote(ctx, source, asset, toSell, obs)
		if err != nil {
			r.log.Warn("jit conversion failed",
				zap.String("venue", source), zap.String("asset", asset), zap.Error(err))
			continue
		}
		return received, nil
	}
	return decimal.Zero, fmt.Errorf("no convertible asset on %s", source)
}

// sourceOrder возвращает кандидатов-источников: предпочтительный первым,
// далее по убыванию свободной котируемой валюты
func (r *Rebalancer) sourceOrder(target string, snapshots map[string]*models.ExchangeBalance, preferred string) []string {
	var rest []string
	for venue := range snapshots {
		if venue == target || venue == preferred {
			continue
		}
		rest = append(rest, venue)
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if snapshots[rest[j]].FreeOf(r.cfg.Quote).GreaterThan(snapshots[rest[i]].FreeOf(r.cfg.Quote)) {
				rest[i], rest[j] = rest[j], rest[i]
			}
		}
	}
	if preferred != "" && preferred != target {
		if _, ok := snapshots[preferred]; ok {
			return append([]string{preferred}, rest...)
		}
	}
	return rest
}
