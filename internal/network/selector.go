package network

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
)

// unrankedOffset гарантирует, что сети из списков предпочтений
// всегда выигрывают у неперечисленных при равной комиссии
const unrankedOffset = 1000

// StaticNetworkFee - запись операторской таблицы комиссий вывода
//
// Таблица считается более надёжной, чем живые метаданные площадки,
// и при совпадении нормализованных имён выигрывает у них.
type StaticNetworkFee struct {
	Network       string          `json:"network"` // сырое имя сети площадки
	Fee           decimal.Decimal `json:"fee"`
	FeeCurrency   string          `json:"fee_currency"`
	MinWithdrawal decimal.Decimal `json:"min_withdrawal"`
}

// PriceOracle переводит комиссию в котируемую валюту для сортировки
type PriceOracle interface {
	// PriceInQuote возвращает цену актива в котируемой валюте
	PriceInQuote(ctx context.Context, asset string) (decimal.Decimal, bool)
}

// CurrencyProvider отдаёт живые метаданные валют площадки (из кэша)
type CurrencyProvider func(ctx context.Context, venue string) (map[string]*exchange.Currency, error)

// SelectorConfig - операторские таблицы селектора
type SelectorConfig struct {
	// AssetUnavailable - (venue, asset) с недоступным вводом/выводом
	AssetUnavailable map[string]map[string]bool

	// TokenRestrictions - (venue, asset) -> разрешённые нормализованные сети
	TokenRestrictions map[string]map[string][]string

	// StaticFees - venue -> asset -> записи операторской таблицы
	StaticFees map[string]map[string][]StaticNetworkFee

	// GeneralPreference - глобальный порядок предпочтения сетей
	GeneralPreference []string

	// TokenPreference - per-asset порядок предпочтения сетей
	TokenPreference map[string][]string

	// QuoteAsset - котируемая валюта для перевода комиссий
	QuoteAsset string
}

// Selector подбирает сети для перевода актива между площадками
type Selector struct {
	norm       *Normalizer
	cfg        SelectorConfig
	currencies CurrencyProvider
	oracle     PriceOracle
	log        *zap.Logger
}

// NewSelector создаёт селектор сетей
func NewSelector(norm *Normalizer, cfg SelectorConfig, currencies CurrencyProvider, oracle PriceOracle, log *zap.Logger) *Selector {
	return &Selector{
		norm:       norm,
		cfg:        cfg,
		currencies: currencies,
		oracle:     oracle,
		log:        log.Named("netselect"),
	}
}

// candidate - промежуточное представление сети одной стороны
type candidate struct {
	rawCode       string
	normalized    string
	fee           decimal.Decimal
	feeCurrency   string
	minWithdrawal decimal.Decimal
	source        string
}

// Select возвращает ранжированный список сетей для перевода asset
// с from на to; amount (может быть nil) отсекает сети по min_withdrawal
func (s *Selector) Select(ctx context.Context, asset, from, to string, amount *decimal.Decimal) ([]*models.NetworkOption, error) {
	if s.unavailable(from, asset) || s.unavailable(to, asset) {
		s.log.Debug("asset unavailable on leg",
			zap.String("asset", asset), zap.String("from", from), zap.String("to", to))
		return nil, nil
	}

	withdrawable, err := s.withdrawableOn(ctx, from, asset)
	if err != nil {
		return nil, err
	}
	if restricted := s.restrictionsFor(from, asset); restricted != nil {
		withdrawable = filterByNames(withdrawable, restricted)
	}

	depositable, err := s.depositableOn(ctx, to, asset)
	if err != nil {
		return nil, err
	}

	// Пересечение по нормализованному имени
	depositByName := make(map[string]candidate, len(depositable))
	for _, c := range depositable {
		if _, ok := depositByName[c.normalized]; !ok {
			depositByName[c.normalized] = c
		}
	}

	var options []*models.NetworkOption
	for _, w := range withdrawable {
		if !Matchable(w.normalized) {
			continue
		}
		dep, ok := depositByName[w.normalized]
		if !ok {
			continue
		}
		if amount != nil && w.minWithdrawal.Sign() > 0 && w.minWithdrawal.GreaterThan(*amount) {
			s.log.Debug("network dropped by min withdrawal",
				zap.String("network", w.normalized),
				zap.String("min", w.minWithdrawal.String()),
				zap.String("amount", amount.String()))
			continue
		}
		options = append(options, &models.NetworkOption{
			WithdrawCode:  w.rawCode,
			DepositCode:   dep.rawCode,
			Normalized:    w.normalized,
			FeeNative:     w.fee,
			FeeCurrency:   w.feeCurrency,
			MinWithdrawal: w.minWithdrawal,
			Source:        w.source,
			TokenRank:     s.tokenRank(asset, w.normalized),
			GeneralRank:   s.generalRank(w.normalized),
		})
	}

	s.sortOptions(ctx, options)
	return options, nil
}

func (s *Selector) unavailable(venue, asset string) bool {
	if byAsset, ok := s.cfg.AssetUnavailable[venue]; ok {
		return byAsset[asset]
	}
	return false
}

func (s *Selector) restrictionsFor(venue, asset string) []string {
	if byAsset, ok := s.cfg.TokenRestrictions[venue]; ok {
		return byAsset[asset]
	}
	return nil
}

func filterByNames(cands []candidate, allowed []string) []candidate {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	var out []candidate
	for _, c := range cands {
		if set[c.normalized] {
			out = append(out, c)
		}
	}
	return out
}

// withdrawableOn собирает сети вывода: сперва операторская таблица,
// затем живые метаданные; дубль нормализованного имени остаётся
// за первым, доверенным источником
func (s *Selector) withdrawableOn(ctx context.Context, venue, asset string) ([]candidate, error) {
	var out []candidate
	seen := make(map[string]bool)

	for _, entry := range s.staticFor(venue, asset) {
		normalized := s.norm.Normalize(entry.Network)
		if !Matchable(normalized) || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, candidate{
			rawCode:       entry.Network,
			normalized:    normalized,
			fee:           entry.Fee,
			feeCurrency:   feeCurrencyOr(entry.FeeCurrency, asset),
			minWithdrawal: entry.MinWithdrawal,
			source:        models.NetworkSourceStatic,
		})
	}

	live, err := s.liveNetworks(ctx, venue, asset)
	if err != nil {
		// Живые данные недоступны - работаем по операторской таблице
		s.log.Warn("live currency metadata unavailable",
			zap.String("venue", venue), zap.String("asset", asset), zap.Error(err))
		return out, nil
	}
	for _, n := range live {
		if !n.Active || !n.Withdraw || !n.FeeKnown {
			continue
		}
		normalized := s.norm.Normalize(n.ID)
		if !Matchable(normalized) || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, candidate{
			rawCode:       n.ID,
			normalized:    normalized,
			fee:           n.Fee,
			feeCurrency:   feeCurrencyOr(n.FeeCurrency, asset),
			minWithdrawal: n.MinWithdraw,
			source:        models.NetworkSourceLive,
		})
	}
	return out, nil
}

// depositableOn собирает сети ввода на приёмнике
func (s *Selector) depositableOn(ctx context.Context, venue, asset string) ([]candidate, error) {
	live, err := s.liveNetworks(ctx, venue, asset)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, n := range live {
		if !n.Active || !n.Deposit {
			continue
		}
		normalized := s.norm.Normalize(n.ID)
		if !Matchable(normalized) {
			continue
		}
		out = append(out, candidate{
			rawCode:    n.ID, // нативный код для fetch_deposit_address
			normalized: normalized,
			source:     models.NetworkSourceLive,
		})
	}
	return out, nil
}

func (s *Selector) liveNetworks(ctx context.Context, venue, asset string) (map[string]*exchange.NetworkInfo, error) {
	currencies, err := s.currencies(ctx, venue)
	if err != nil {
		return nil, err
	}
	c, ok := currencies[asset]
	if !ok || c.Networks == nil {
		return map[string]*exchange.NetworkInfo{}, nil
	}
	return c.Networks, nil
}

func (s *Selector) staticFor(venue, asset string) []StaticNetworkFee {
	if byAsset, ok := s.cfg.StaticFees[venue]; ok {
		return byAsset[asset]
	}
	return nil
}

func feeCurrencyOr(cur, fallback string) string {
	if cur != "" {
		return cur
	}
	return fallback
}

func (s *Selector) tokenRank(asset, normalized string) int {
	if prefs, ok := s.cfg.TokenPreference[asset]; ok {
		for i, name := range prefs {
			if name == normalized {
				return i
			}
		}
	}
	// Актив без собственного списка: общий ранг со сдвигом,
	// чтобы перечисленные всегда выигрывали ничьи
	return unrankedOffset + s.generalRank(normalized)
}

func (s *Selector) generalRank(normalized string) int {
	for i, name := range s.cfg.GeneralPreference {
		if name == normalized {
			return i
		}
	}
	return unrankedOffset
}

// sortOptions упорядочивает кандидатов: комиссия в котируемой валюте
// по возрастанию, затем token rank, затем general rank
func (s *Selector) sortOptions(ctx context.Context, options []*models.NetworkOption) {
	feeQuote := make(map[*models.NetworkOption]decimal.Decimal, len(options))
	for _, o := range options {
		feeQuote[o] = s.feeInQuote(ctx, o)
	}

	sort.SliceStable(options, func(i, j int) bool {
		fi, fj := feeQuote[options[i]], feeQuote[options[j]]
		if !fi.Equal(fj) {
			return fi.LessThan(fj)
		}
		if options[i].TokenRank != options[j].TokenRank {
			return options[i].TokenRank < options[j].TokenRank
		}
		return options[i].GeneralRank < options[j].GeneralRank
	})
}

func (s *Selector) feeInQuote(ctx context.Context, o *models.NetworkOption) decimal.Decimal {
	if o.FeeCurrency == s.cfg.QuoteAsset {
		return o.FeeNative
	}
	if price, ok := s.oracle.PriceInQuote(ctx, o.FeeCurrency); ok {
		return o.FeeNative.Mul(price)
	}
	// Цена неизвестна: сортируем по нативной величине
	s.log.Debug("fee currency price unknown", zap.String("currency", o.FeeCurrency))
	return o.FeeNative
}
