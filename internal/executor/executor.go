package executor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/balance"
	"crossarb/internal/exchange"
	"crossarb/internal/models"
	"crossarb/internal/rebalance"
	"crossarb/pkg/utils"
)

// Config - параметры исполнителя
type Config struct {
	Quote             string
	TradeAmount       decimal.Decimal // размер сделки в котируемой валюте
	MinEffectiveTrade decimal.Decimal // нижняя граница осмысленной сделки
	JITMinConversion  decimal.Decimal // минимальная ценность актива для локальной конверсии

	JITFundingWait      time.Duration // ожидание прибытия котируемой валюты
	BaseTransferWait    time.Duration // ожидание прибытия базового актива (0 -> 3x JIT)
	ArrivalPollInterval time.Duration
	OrderPollAttempts   int
	OrderPollDelay      time.Duration

	// CostOrderDenylist - площадки, ненадёжно исполняющие ордер по стоимости
	CostOrderDenylist map[string]bool

	// RetryPartialBuy - докупать остаток при частичном исполнении покупки.
	// Операторская политика, по умолчанию выключена: частичное исполнение
	// закрытого ордера принимается как есть.
	RetryPartialBuy bool

	// HoldOpenOrders - оставлять ордер висеть, если опросы исчерпаны в
	// статусе open. По умолчанию выключено: ордер отменяется, нога падает.
	HoldOpenOrders bool
}

// ActiveSet не допускает двух одновременных исполнений одной идентичности
type ActiveSet struct {
	mu  sync.Mutex
	set map[models.OpportunityKey]bool
}

// NewActiveSet создаёт пустое множество
func NewActiveSet() *ActiveSet {
	return &ActiveSet{set: make(map[models.OpportunityKey]bool)}
}

// TryAcquire занимает идентичность; false если она уже исполняется
func (s *ActiveSet) TryAcquire(key models.OpportunityKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set[key] {
		return false
	}
	s.set[key] = true
	return true
}

// Release освобождает идентичность
func (s *ActiveSet) Release(key models.OpportunityKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, key)
}

// Count возвращает число активных исполнений
func (s *ActiveSet) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

// Executor проводит одну возможность через три ноги
//
// Покупка строго предшествует переводу, инициация перевода - ожиданию
// прибытия, прибытие - продаже. Отказ любой ноги терминален: ранние
// ноги не откатываются, восстановление - операторское, по журналу.
type Executor struct {
	balances  *balance.Manager
	reb       *rebalance.Rebalancer
	quantizer *rebalance.Quantizer
	markets   rebalance.MarketSource
	active    *ActiveSet
	cfg       Config
	log       *zap.Logger
}

// New создаёт исполнитель
func New(balances *balance.Manager, reb *rebalance.Rebalancer, quantizer *rebalance.Quantizer, markets rebalance.MarketSource, cfg Config, log *zap.Logger) *Executor {
	if cfg.BaseTransferWait <= 0 {
		cfg.BaseTransferWait = 3 * cfg.JITFundingWait
	}
	if cfg.ArrivalPollInterval <= 0 {
		cfg.ArrivalPollInterval = 2 * time.Second
	}
	return &Executor{
		balances:  balances,
		reb:       reb,
		quantizer: quantizer,
		markets:   markets,
		active:    NewActiveSet(),
		cfg:       cfg,
		log:       log.Named("executor"),
	}
}

// Active возвращает множество активных исполнений (для API и метрик)
func (e *Executor) Active() *ActiveSet { return e.active }

// conversionRecorder складывает JIT-конверсии в журнал сделки
type conversionRecorder struct {
	trade *models.CompletedArbitrageLog
	log   *zap.Logger
}

func (r *conversionRecorder) OnConversionFill(venue string, order *exchange.Order) {
	r.trade.JITConversions = append(r.trade.JITConversions, legDetails(order))
	r.log.Info("jit conversion recorded",
		zap.String("venue", venue), zap.String("order", order.ID),
		zap.String("filled", order.Filled.String()))
}

func legDetails(order *exchange.Order) *models.TradeExecutionDetails {
	d := &models.TradeExecutionDetails{
		OrderID:     order.ID,
		Timestamp:   order.Timestamp,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Price:       order.Average,
		AmountBase:  order.Filled,
		CostQuote:   order.Cost,
		Status:      order.Status,
		RawResponse: order.Info,
	}
	if order.Fee != nil {
		d.FeeAmount = order.Fee.Amount
		d.FeeCurrency = order.Fee.Currency
	}
	return d
}

// Execute проводит сделку и возвращает её журнал
//
// Журнал возвращается всегда, в том числе при отказе: статус и
// диагностики в нём - единственный источник для восстановления.
func (e *Executor) Execute(ctx context.Context, opp *models.Opportunity) *models.CompletedArbitrageLog {
	trade := &models.CompletedArbitrageLog{
		Opportunity: opp.Key(),
		StartedAt:   time.Now(),
		Status:      models.StatusPending,
	}

	if !opp.IsLiquid || opp.ChosenNetwork == nil {
		return e.fail(trade, models.StatusSetupError, "PRECONDITIONS",
			"opportunity is not liquid or has no chosen network")
	}
	if !e.active.TryAcquire(opp.Key()) {
		return e.fail(trade, models.StatusSetupError, "ALREADY_ACTIVE",
			"identity already executing: "+opp.Key().String())
	}
	defer e.active.Release(opp.Key())

	obs := &conversionRecorder{trade: trade, log: e.log}

	targetCost := e.cfg.TradeAmount
	if e.cfg.MinEffectiveTrade.GreaterThan(targetCost) {
		targetCost = e.cfg.MinEffectiveTrade
	}
	trade.InitialBuyCostQuote = targetCost

	// ============================================================
	// Фондирование площадки покупки
	// ============================================================

	if failed := e.fundBuyVenue(ctx, opp, targetCost, obs, trade); failed != nil {
		return failed
	}

	// ============================================================
	// Нога покупки
	// ============================================================

	trade.Status = models.StatusBuyLegPending
	netBase, failed := e.buyLeg(ctx, opp, targetCost, trade)
	if failed != nil {
		return failed
	}
	trade.Status = models.StatusBuyLegFilled
	trade.NetBaseAfterBuyFee = netBase

	// ============================================================
	// Нога перевода
	// ============================================================

	trade.Status = models.StatusTransferLegPending
	arrived, failed := e.transferLeg(ctx, opp, netBase, trade)
	if failed != nil {
		return failed
	}
	trade.BaseReceivedOnSellVenue = arrived

	// ============================================================
	// Нога продажи
	// ============================================================

	trade.Status = models.StatusSellLegPending
	return e.sellLeg(ctx, opp, arrived, trade)
}

// fundBuyVenue доводит торговый счёт площадки покупки до targetCost
//
// Порядок: свободная котируемая валюта; локальная конверсия других
// активов той же площадки; JIT-перевод с другой площадки с ожиданием
// прибытия. Затем средства загоняются на торговый счёт.
func (e *Executor) fundBuyVenue(ctx context.Context, opp *models.Opportunity, targetCost decimal.Decimal, obs *conversionRecorder, trade *models.CompletedArbitrageLog) *models.CompletedArbitrageLog {
	quote := e.cfg.Quote
	venue := opp.BuyVenue

	free, err := e.totalQuoteFree(ctx, venue)
	if err != nil {
		return e.fail(trade, models.StatusSetupError, "BALANCE", err.Error())
	}
	if utils.GTE(free, targetCost) {
		return e.ensureTrading(ctx, venue, quote, targetCost, trade)
	}

	snapshots := e.balances.Snapshot(ctx, true)

	// Локальная конверсия на той же площадке
	if snap, ok := snapshots[venue]; ok {
		free = e.convertLocal(ctx, opp, targetCost, free, snap, obs)
	}
	if utils.GTE(free, targetCost) {
		return e.ensureTrading(ctx, venue, quote, targetCost, trade)
	}

	// JIT-перевод с другой площадки
	deficit := targetCost.Sub(free)
	baseline, err := e.balances.AccountFree(ctx, venue, quote, exchange.AccountWithdrawal)
	if err != nil {
		baseline = decimal.Zero
	}
	source, err := e.reb.EnsureQuoteForTrade(ctx, venue, deficit, snapshots, "", obs)
	if err != nil {
		return e.fail(trade, models.StatusJITFundingFailed, "NO_SOURCE", err.Error())
	}
	e.log.Info("jit funding initiated",
		zap.String("source", source), zap.String("target", venue),
		zap.String("deficit", deficit.String()))

	if _, err := waitForIncrease(ctx, e.balances, venue, quote, exchange.AccountWithdrawal,
		baseline, deficit, e.cfg.ArrivalPollInterval, e.cfg.JITFundingWait, e.log); err != nil {
		return e.fail(trade, models.StatusJITFundingFailed, "ARRIVAL_TIMEOUT", err.Error())
	}

	return e.ensureTrading(ctx, venue, quote, targetCost, trade)
}

// totalQuoteFree суммирует свободную котируемую валюту торгового и
// вывода счетов площадки
func (e *Executor) totalQuoteFree(ctx context.Context, venue string) (decimal.Decimal, error) {
	v, ok := e.balances.Venue(venue)
	if !ok {
		return decimal.Zero, &exchange.NotSupportedError{Venue: venue, Op: "totalQuoteFree"}
	}

	trading, err := e.balances.AccountFree(ctx, venue, e.cfg.Quote, exchange.AccountTrading)
	if err != nil {
		return decimal.Zero, err
	}
	if v.Profile.SameAccount(exchange.AccountTrading, exchange.AccountWithdrawal) {
		return trading, nil
	}
	withdrawal, err := e.balances.AccountFree(ctx, venue, e.cfg.Quote, exchange.AccountWithdrawal)
	if err != nil {
		return trading, nil
	}
	return trading.Add(withdrawal), nil
}

func (e *Executor) ensureTrading(ctx context.Context, venue, asset string, required decimal.Decimal, trade *models.CompletedArbitrageLog) *models.CompletedArbitrageLog {
	err := e.reb.InternalTransfer(ctx, venue, asset, required,
		exchange.AccountWithdrawal, exchange.AccountTrading)
	if err != nil {
		return e.fail(trade, models.StatusJITFundingFailed, "INSUFFICIENT", err.Error())
	}
	return nil
}

// convertLocal продаёт другие активы площадки покупки за котируемую валюту,
// пока свободного остатка не хватит на сделку
func (e *Executor) convertLocal(ctx context.Context, opp *models.Opportunity, targetCost, free decimal.Decimal, snap *models.ExchangeBalance, obs *conversionRecorder) decimal.Decimal {
	base := opp.BaseAsset()

	assets := make([]string, 0, len(snap.Assets))
	for asset := range snap.Assets {
		if asset == base || asset == e.cfg.Quote {
			continue
		}
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		if utils.GTE(free, targetCost) {
			break
		}
		ab := snap.Assets[asset]
		if ab.USDValue.LessThan(e.cfg.JITMinConversion) || ab.Free.Sign() <= 0 || ab.Total.Sign() <= 0 {
			continue
		}

		// Продаём под дефицит с небольшим запасом, не больше свободного
		unitValue := ab.USDValue.Div(ab.Total)
		if unitValue.Sign() <= 0 {
			continue
		}
		deficit := targetCost.Sub(free)
		toSell := deficit.Mul(decimal.RequireFromString("1.02")).Div(unitValue)
		if toSell.GreaterThan(ab.Free) {
			toSell = ab.Free
		}

		if _, err := e.reb.ConvertToQuote(ctx, opp.BuyVenue, asset, toSell, obs); err != nil {
			e.log.Warn("local conversion failed",
				zap.String("venue", opp.BuyVenue), zap.String("asset", asset), zap.Error(err))
			continue
		}
		if current, err := e.totalQuoteFree(ctx, opp.BuyVenue); err == nil {
			free = current
		}
	}
	return free
}

// buyLeg размещает рыночную покупку и возвращает чистое количество
// базового актива после комиссии
func (e *Executor) buyLeg(ctx context.Context, opp *models.Opportunity, targetCost decimal.Decimal, trade *models.CompletedArbitrageLog) (decimal.Decimal, *models.CompletedArbitrageLog) {
	v, _ := e.balances.Venue(opp.BuyVenue)
	gw := v.Gateway

	var order *exchange.Order
	var err error
	if gw.Has().CreateMarketBuyWithCost && !e.cfg.CostOrderDenylist[opp.BuyVenue] {
		order, err = gw.CreateMarketBuyOrderWithCost(ctx, opp.Symbol, targetCost, nil)
	} else {
		amountBase := targetCost.Div(opp.BuyPrice)
		if m, ok := e.markets.Market(opp.BuyVenue, opp.Symbol); ok {
			amountBase = utils.QuantizeDown(amountBase, m.AmountPrecision)
		}
		if amountBase.Sign() <= 0 {
			return decimal.Zero, e.fail(trade, models.StatusBuyLegFailed, "DUST",
				"buy amount quantized to zero")
		}
		order, err = gw.CreateMarketBuyOrder(ctx, opp.Symbol, amountBase, nil)
	}
	if err != nil {
		return decimal.Zero, e.fail(trade, models.StatusBuyLegFailed, "SUBMIT", err.Error())
	}

	final, err := exchange.FetchOrderUntilTerminal(ctx, gw, order.ID, opp.Symbol,
		e.cfg.OrderPollAttempts, e.cfg.OrderPollDelay, e.log)
	if err != nil {
		return decimal.Zero, e.fail(trade, models.StatusBuyLegFailed, "FETCH", err.Error())
	}
	trade.BuyLeg = legDetails(final)

	if final.Filled.Sign() <= 0 {
		_ = gw.CancelOrder(ctx, final.ID, opp.Symbol)
		return decimal.Zero, e.fail(trade, models.StatusBuyLegFailed, "ZERO_FILL",
			"buy order "+final.ID+" finished "+final.Status+" with zero fill")
	}
	if final.Status != exchange.OrderStatusClosed {
		if final.Status == exchange.OrderStatusOpen && e.cfg.HoldOpenOrders {
			return decimal.Zero, e.fail(trade, models.StatusBuyLegFailed, "STILL_OPEN",
				"buy order "+final.ID+" left open by operator policy")
		}
		_ = gw.CancelOrder(ctx, final.ID, opp.Symbol)
		return decimal.Zero, e.fail(trade, models.StatusBuyLegFailed, "NOT_CLOSED",
			"buy order "+final.ID+" finished "+final.Status)
	}

	// Фактическая стоимость входа: исполненная стоимость плюс комиссия,
	// если та списана в котируемой валюте
	cost := final.Cost
	netBase := final.Filled
	if final.Fee != nil {
		switch final.Fee.Currency {
		case opp.BaseAsset():
			netBase = netBase.Sub(final.Fee.Amount)
		case e.cfg.Quote:
			cost = cost.Add(final.Fee.Amount)
		}
	}

	// Частичное исполнение закрытого ордера по умолчанию принимается
	// как есть; операторская политика докупает остаток одной попыткой
	if e.cfg.RetryPartialBuy && final.Remaining.Sign() > 0 {
		if extra := e.retryPartialBuy(ctx, gw, opp, final.Remaining, trade); extra != nil {
			fill := extra.Filled
			extraCost := extra.Cost
			if extra.Fee != nil {
				switch extra.Fee.Currency {
				case opp.BaseAsset():
					fill = fill.Sub(extra.Fee.Amount)
				case e.cfg.Quote:
					extraCost = extraCost.Add(extra.Fee.Amount)
				}
			}
			netBase = netBase.Add(fill)
			cost = cost.Add(extraCost)
		}
	}
	trade.InitialBuyCostQuote = cost

	e.log.Info("buy leg filled",
		zap.String("opp", opp.Key().String()), zap.String("order", final.ID),
		zap.String("net_base", netBase.String()), zap.String("cost", cost.String()))
	return netBase, nil
}

// retryPartialBuy докупает квантованный остаток частичной покупки
//
// Отказ не терминален: сделка продолжается с уже исполненным
// количеством, диагностика дописывается в журнал.
func (e *Executor) retryPartialBuy(ctx context.Context, gw exchange.Gateway, opp *models.Opportunity, remaining decimal.Decimal, trade *models.CompletedArbitrageLog) *exchange.Order {
	amount := remaining
	if m, ok := e.markets.Market(opp.BuyVenue, opp.Symbol); ok {
		amount = utils.QuantizeDown(amount, m.AmountPrecision)
		if m.MinAmount.Sign() > 0 && amount.LessThan(m.MinAmount) {
			return nil
		}
	}
	if amount.Sign() <= 0 {
		return nil
	}

	order, err := gw.CreateMarketBuyOrder(ctx, opp.Symbol, amount, nil)
	if err != nil {
		trade.AddError("partial buy retry: " + err.Error())
		e.log.Warn("partial buy retry submit failed",
			zap.String("opp", opp.Key().String()), zap.Error(err))
		return nil
	}
	final, err := exchange.FetchOrderUntilTerminal(ctx, gw, order.ID, opp.Symbol,
		e.cfg.OrderPollAttempts, e.cfg.OrderPollDelay, e.log)
	if err != nil {
		trade.AddError("partial buy retry: " + err.Error())
		return nil
	}
	if final.Status != exchange.OrderStatusClosed || final.Filled.Sign() <= 0 {
		_ = gw.CancelOrder(ctx, final.ID, opp.Symbol)
		trade.AddError("partial buy retry order " + final.ID + " finished " + final.Status)
		return nil
	}

	e.log.Info("partial buy remainder filled",
		zap.String("opp", opp.Key().String()), zap.String("order", final.ID),
		zap.String("filled", final.Filled.String()))
	return final
}

// transferLeg выводит базовый актив на площадку продажи и ждёт прибытия
//
// Сеть уже выбрана анализатором и не перевыбирается. Отказ после
// подачи вывода помечается состоянием ожидания: цепочку не откатить.
func (e *Executor) transferLeg(ctx context.Context, opp *models.Opportunity, netBase decimal.Decimal, trade *models.CompletedArbitrageLog) (decimal.Decimal, *models.CompletedArbitrageLog) {
	base := opp.BaseAsset()
	option := opp.ChosenNetwork

	sendAmount := e.quantizer.QuantizeDown(ctx, opp.BuyVenue, base, netBase)
	expected := sendAmount
	if option.FeeCurrency == base {
		expected = expected.Sub(option.FeeNative)
	}
	if expected.Sign() <= 0 {
		return decimal.Zero, e.fail(trade, models.StatusTransferLegFailed, "DUST",
			"expected arrival "+expected.String()+" after network fee")
	}

	baseline, err := e.balances.AccountFree(ctx, opp.SellVenue, base, exchange.AccountWithdrawal)
	if err != nil {
		baseline = decimal.Zero
	}

	id, _, err := e.reb.TransferBetweenVenues(ctx, base, opp.BuyVenue, opp.SellVenue, sendAmount, option)
	if err != nil {
		return decimal.Zero, e.fail(trade, models.StatusTransferLegFailed, transferFailDetail(err), err.Error())
	}
	trade.TransferID = id
	trade.NetworkUsed = option.Normalized
	trade.Status = models.StatusTransferWaitingArrival

	arrived, err := waitForIncrease(ctx, e.balances, opp.SellVenue, base, exchange.AccountWithdrawal,
		baseline, expected, e.cfg.ArrivalPollInterval, e.cfg.BaseTransferWait, e.log)
	if err != nil {
		trade.AddError("last observed arrival state: increase " + arrived.String() + " of expected " + expected.String())
		return decimal.Zero, e.fail(trade, models.StatusTransferLegFailed, "ARRIVAL_TIMEOUT", err.Error())
	}
	return arrived, nil
}

func transferFailDetail(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "memo"):
		return "MEMO_MISSING"
	case strings.Contains(msg, "deposit address"):
		return "NO_ADDRESS"
	case strings.Contains(msg, "in flight"):
		return "DUPLICATE"
	case strings.Contains(msg, "network"):
		return "NO_NETWORK"
	}
	return "SUBMIT"
}

// sellLeg продаёт прибывший базовый актив и закрывает журнал
func (e *Executor) sellLeg(ctx context.Context, opp *models.Opportunity, arrived decimal.Decimal, trade *models.CompletedArbitrageLog) *models.CompletedArbitrageLog {
	base := opp.BaseAsset()
	venue := opp.SellVenue
	v, _ := e.balances.Venue(venue)
	gw := v.Gateway

	if err := e.reb.InternalTransfer(ctx, venue, base, arrived,
		exchange.AccountWithdrawal, exchange.AccountTrading); err != nil {
		return e.fail(trade, models.StatusSellLegFailed, "FUNDS_STUCK", err.Error())
	}

	// Свободный торговый остаток авторитетен: прибыть могло больше или
	// меньше ожидаемого
	sellAmount, err := e.balances.AccountFree(ctx, venue, base, exchange.AccountTrading)
	if err != nil {
		return e.fail(trade, models.StatusSellLegFailed, "BALANCE", err.Error())
	}
	if m, ok := e.markets.Market(venue, opp.Symbol); ok {
		sellAmount = utils.QuantizeDown(sellAmount, m.AmountPrecision)
		if m.MinAmount.Sign() > 0 && sellAmount.LessThan(m.MinAmount) {
			return e.fail(trade, models.StatusSellLegFailed, "MIN_AMOUNT",
				"sell amount "+sellAmount.String()+" below market minimum "+m.MinAmount.String())
		}
	}
	if sellAmount.Sign() <= 0 {
		return e.fail(trade, models.StatusSellLegFailed, "DUST", "nothing to sell")
	}

	order, err := gw.CreateMarketSellOrder(ctx, opp.Symbol, sellAmount, nil)
	if err != nil {
		return e.fail(trade, models.StatusSellLegFailed, "SUBMIT", err.Error())
	}
	final, err := exchange.FetchOrderUntilTerminal(ctx, gw, order.ID, opp.Symbol,
		e.cfg.OrderPollAttempts, e.cfg.OrderPollDelay, e.log)
	if err != nil {
		return e.fail(trade, models.StatusSellLegFailed, "FETCH", err.Error())
	}
	trade.SellLeg = legDetails(final)

	if final.Filled.Sign() <= 0 {
		_ = gw.CancelOrder(ctx, final.ID, opp.Symbol)
		return e.fail(trade, models.StatusSellLegFailed, "ZERO_FILL",
			"sell order "+final.ID+" finished "+final.Status+" with zero fill")
	}
	if final.Status != exchange.OrderStatusClosed {
		_ = gw.CancelOrder(ctx, final.ID, opp.Symbol)
		return e.fail(trade, models.StatusSellLegFailed, "NOT_CLOSED",
			"sell order "+final.ID+" finished "+final.Status)
	}

	quoteReceived := final.Cost
	if final.Fee != nil && final.Fee.Currency == e.cfg.Quote {
		quoteReceived = quoteReceived.Sub(final.Fee.Amount)
	}
	trade.QuoteReceived = quoteReceived
	trade.FinalNetProfitQuote = quoteReceived.Sub(trade.InitialBuyCostQuote)
	trade.FinalNetProfitPct = utils.PctOf(trade.FinalNetProfitQuote, trade.InitialBuyCostQuote)
	trade.FinishedAt = time.Now()

	switch {
	case quoteReceived.Sign() <= 0:
		trade.Status = models.StatusCompletedUnknown
	case trade.FinalNetProfitQuote.Sign() >= 0:
		trade.Status = models.StatusCompletedSuccess
	default:
		trade.Status = models.StatusCompletedLoss
	}

	e.log.Info("execution completed",
		zap.String("opp", opp.Key().String()),
		zap.String("status", trade.Status),
		zap.String("profit", trade.FinalNetProfitQuote.String()))
	return trade
}

// fail переводит журнал в терминальный статус отказа
func (e *Executor) fail(trade *models.CompletedArbitrageLog, baseStatus, detail, msg string) *models.CompletedArbitrageLog {
	trade.Status = models.FailStatus(baseStatus, detail)
	trade.AddError(msg)
	trade.FinishedAt = time.Now()
	e.log.Warn("execution failed",
		zap.String("opp", trade.Opportunity.String()),
		zap.String("status", trade.Status),
		zap.String("error", msg))
	return trade
}
