package analyzer

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
	"crossarb/internal/network"
	"crossarb/internal/scanner"
	"crossarb/pkg/utils"
)

// Config - параметры анализатора
type Config struct {
	StabilityCycles int             // минимум циклов наблюдения подряд
	TopN            int             // сколько стабильных возможностей обогащать
	MinNet          decimal.Decimal // минимальная чистая доходность, %
	TradeNotional   decimal.Decimal // размер сделки в котируемой валюте
	MinLiquidity    decimal.Decimal // минимальная видимая ликвидность стакана
	SlippagePct     decimal.Decimal // допустимое проскальзывание, %
	DefaultTakerPct decimal.Decimal // комиссия тейкера когда рынок её не публикует

	// AssetBlacklist - глобально исключённые (venue, asset)
	AssetBlacklist map[string]map[string]bool

	// PathBlacklist - исключённые пути asset|from|to|network
	PathBlacklist map[string]bool

	// Whitelist + EnforceWhitelist - разрешённые пути (тот же формат ключа)
	Whitelist        map[string]bool
	EnforceWhitelist bool
}

// PathKey строит ключ пути для blacklist/whitelist
func PathKey(asset, from, to, networkName string) string {
	return asset + "|" + from + "|" + to + "|" + networkName
}

type stabilityEntry struct {
	count     int
	buyPrice  decimal.Decimal
	sellPrice decimal.Decimal
}

// Analyzer превращает валовые возможности в одну исполнимую
//
// Хранит таблицу стабильности между циклами: возможность должна
// наблюдаться StabilityCycles сканов подряд, прежде чем будет
// обогащена и допущена к исполнению.
type Analyzer struct {
	markets  *scanner.Scanner
	selector *network.Selector
	oracle   network.PriceOracle
	gateways map[string]exchange.Gateway
	cfg      Config
	log      *zap.Logger

	// stability защищается циклом движка: Analyze зовётся из одного
	// логического планировщика
	stability map[models.OpportunityKey]*stabilityEntry
}

// New создаёт анализатор
func New(markets *scanner.Scanner, selector *network.Selector, oracle network.PriceOracle, gateways map[string]exchange.Gateway, cfg Config, log *zap.Logger) *Analyzer {
	if cfg.DefaultTakerPct.Sign() <= 0 {
		cfg.DefaultTakerPct = decimal.RequireFromString("0.1")
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &Analyzer{
		markets:   markets,
		selector:  selector,
		oracle:    oracle,
		gateways:  gateways,
		cfg:       cfg,
		log:       log.Named("analyzer"),
		stability: make(map[models.OpportunityKey]*stabilityEntry),
	}
}

// StabilityCount возвращает текущий счётчик наблюдений (для тестов и API)
func (a *Analyzer) StabilityCount(key models.OpportunityKey) int {
	if e, ok := a.stability[key]; ok {
		return e.count
	}
	return 0
}

// Analyze обновляет таблицу стабильности и возвращает лучшую
// исполнимую возможность либо nil
func (a *Analyzer) Analyze(ctx context.Context, opps []*models.Opportunity) *models.Opportunity {
	opps = a.filter(opps)
	stable := a.promote(opps)
	if len(stable) == 0 {
		return nil
	}

	// Обогащаем топ-N стабильных по валовой доходности
	sort.SliceStable(stable, func(i, j int) bool {
		return stable[i].GrossPct.GreaterThan(stable[j].GrossPct)
	})
	if len(stable) > a.cfg.TopN {
		stable = stable[:a.cfg.TopN]
	}

	var enriched []*models.Opportunity
	for _, opp := range stable {
		if err := a.enrich(ctx, opp); err != nil {
			a.log.Debug("enrichment failed", zap.String("opp", opp.Key().String()), zap.Error(err))
			continue
		}
		if !a.walkNetworks(ctx, opp) {
			a.log.Debug("no permitted network", zap.String("opp", opp.Key().String()))
			continue
		}
		if opp.NetPct.LessThan(a.cfg.MinNet) {
			continue
		}
		enriched = append(enriched, opp)
	}

	// Финальный отбор: по чистой доходности, первый прошедший стакан
	sort.SliceStable(enriched, func(i, j int) bool {
		return enriched[i].NetPct.GreaterThan(enriched[j].NetPct)
	})
	for _, opp := range enriched {
		if !a.liquid(ctx, opp) {
			continue
		}
		opp.IsLiquid = true
		// Выбранная возможность не должна быть взята повторно
		// до нового наблюдения
		delete(a.stability, opp.Key())
		a.log.Info("opportunity selected",
			zap.String("opp", opp.Key().String()),
			zap.String("net_pct", opp.NetPct.String()),
			zap.String("network", opp.ChosenNetwork.Normalized))
		return opp
	}
	return nil
}

// filter отбрасывает маржинальные токены и глобально исключённые активы
func (a *Analyzer) filter(opps []*models.Opportunity) []*models.Opportunity {
	var out []*models.Opportunity
	for _, opp := range opps {
		base := opp.BaseAsset()
		if scanner.IsLeveragedToken(base) {
			continue
		}
		if a.blacklisted(opp.BuyVenue, base) || a.blacklisted(opp.SellVenue, base) {
			continue
		}
		out = append(out, opp)
	}
	return out
}

func (a *Analyzer) blacklisted(venue, asset string) bool {
	if byAsset, ok := a.cfg.AssetBlacklist[venue]; ok {
		return byAsset[asset]
	}
	return false
}

// promote обновляет таблицу стабильности и возвращает стабильные возможности
//
// Отсутствующая в скане идентичность выселяется из таблицы.
func (a *Analyzer) promote(opps []*models.Opportunity) []*models.Opportunity {
	seen := make(map[models.OpportunityKey]bool, len(opps))
	var stable []*models.Opportunity

	for _, opp := range opps {
		key := opp.Key()
		seen[key] = true
		e, ok := a.stability[key]
		if !ok {
			e = &stabilityEntry{}
			a.stability[key] = e
		}
		e.count++
		e.buyPrice = opp.BuyPrice
		e.sellPrice = opp.SellPrice

		opp.StabilityCount = e.count
		opp.IsStable = e.count >= a.cfg.StabilityCycles
		if opp.IsStable {
			stable = append(stable, opp)
		}
	}

	for key := range a.stability {
		if !seen[key] {
			delete(a.stability, key)
		}
	}
	return stable
}

// enrich заполняет комиссии, сети и чистую доходность
func (a *Analyzer) enrich(ctx context.Context, opp *models.Opportunity) error {
	opp.BuyFeePct = a.takerPct(opp.BuyVenue, opp.Symbol)
	opp.SellFeePct = a.takerPct(opp.SellVenue, opp.Symbol)

	// Примерный объём перевода отсекает сети по min_withdrawal
	estBase := a.cfg.TradeNotional.Div(opp.BuyPrice)
	networks, err := a.selector.Select(ctx, opp.BaseAsset(), opp.BuyVenue, opp.SellVenue, &estBase)
	if err != nil {
		return err
	}
	if len(networks) == 0 {
		return &exchange.NotSupportedError{Venue: opp.BuyVenue, Op: "no transfer network for " + opp.BaseAsset()}
	}
	opp.PotentialNetworks = networks
	a.applyNetwork(ctx, opp, networks[0])
	return nil
}

// applyNetwork выставляет выбранную сеть и пересчитывает чистую доходность
func (a *Analyzer) applyNetwork(ctx context.Context, opp *models.Opportunity, n *models.NetworkOption) {
	opp.ChosenNetwork = n
	opp.WithdrawalFeeQuote = a.feeToQuote(ctx, opp, n)
	opp.NetPct = opp.GrossPct.
		Sub(opp.BuyFeePct).
		Sub(opp.SellFeePct).
		Sub(utils.PctOf(opp.WithdrawalFeeQuote, a.cfg.TradeNotional))
}

// feeToQuote переводит комиссию вывода в котируемую валюту:
// цена покупки для комиссии в базовом активе, напрямую для котируемой,
// оракул для третьего актива
func (a *Analyzer) feeToQuote(ctx context.Context, opp *models.Opportunity, n *models.NetworkOption) decimal.Decimal {
	switch n.FeeCurrency {
	case opp.BaseAsset():
		return n.FeeNative.Mul(opp.BuyPrice)
	case opp.QuoteAsset():
		return n.FeeNative
	}
	if price, ok := a.oracle.PriceInQuote(ctx, n.FeeCurrency); ok {
		return n.FeeNative.Mul(price)
	}
	a.log.Warn("withdrawal fee currency not priced",
		zap.String("currency", n.FeeCurrency), zap.String("opp", opp.Key().String()))
	return n.FeeNative
}

func (a *Analyzer) takerPct(venue, symbol string) decimal.Decimal {
	if m, ok := a.markets.Market(venue, symbol); ok && m.TakerFeeKnown {
		return m.TakerFee.Mul(decimal.NewFromInt(100))
	}
	return a.cfg.DefaultTakerPct
}

// walkNetworks проходит кандидатов в порядке ранга с учётом
// blacklist/whitelist путей; первый выживший становится выбранным
func (a *Analyzer) walkNetworks(ctx context.Context, opp *models.Opportunity) bool {
	base := opp.BaseAsset()
	for _, n := range opp.PotentialNetworks {
		key := PathKey(base, opp.BuyVenue, opp.SellVenue, n.Normalized)
		if a.cfg.PathBlacklist[key] {
			continue
		}
		if a.cfg.EnforceWhitelist && !a.cfg.Whitelist[key] {
			continue
		}
		if n != opp.ChosenNetwork {
			a.applyNetwork(ctx, opp, n)
		}
		return true
	}
	opp.ChosenNetwork = nil
	return false
}

// liquid проверяет стакан обеих ног
func (a *Analyzer) liquid(ctx context.Context, opp *models.Opportunity) bool {
	amountBase := a.cfg.TradeNotional.Div(opp.BuyPrice)

	buyGw := a.gateways[opp.BuyVenue]
	sellGw := a.gateways[opp.SellVenue]
	if buyGw == nil || sellGw == nil {
		return false
	}

	if !CheckDepth(ctx, buyGw, opp.Symbol, exchange.SideBuy, amountBase, opp.BuyPrice, a.cfg.SlippagePct, a.cfg.MinLiquidity, a.log) {
		return false
	}
	return CheckDepth(ctx, sellGw, opp.Symbol, exchange.SideSell, amountBase, opp.SellPrice, a.cfg.SlippagePct, a.cfg.MinLiquidity, a.log)
}
