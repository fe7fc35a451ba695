package balance

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
)

// Venue - шлюз площадки вместе с её профилем
type Venue struct {
	Gateway exchange.Gateway
	Profile *exchange.VenueProfile
}

// Manager агрегирует балансы площадок и оценивает их в котируемой валюте
//
// Снимок строится fan-out'ом по площадкам; отказ одной площадки
// не мешает вернуть снимки остальных.
type Manager struct {
	venues map[string]Venue
	oracle *Oracle
	quote  string
	log    *zap.Logger
}

// NewManager создаёт менеджер балансов
func NewManager(venues map[string]Venue, oracle *Oracle, quote string, log *zap.Logger) *Manager {
	return &Manager{
		venues: venues,
		oracle: oracle,
		quote:  quote,
		log:    log.Named("balance"),
	}
}

// Snapshot возвращает срез балансов всех площадок
//
// withUSD включает оценку каждого актива в котируемой валюте.
// Площадки опрашиваются параллельно; ошибка площадки логируется,
// её запись в результате отсутствует.
func (m *Manager) Snapshot(ctx context.Context, withUSD bool) map[string]*models.ExchangeBalance {
	type result struct {
		venue string
		bal   *models.ExchangeBalance
		err   error
	}

	ch := make(chan result, len(m.venues))
	var wg sync.WaitGroup
	for name, v := range m.venues {
		wg.Add(1)
		go func(name string, v Venue) {
			defer wg.Done()
			bal, err := m.snapshotVenue(ctx, name, v, withUSD)
			ch <- result{venue: name, bal: bal, err: err}
		}(name, v)
	}
	wg.Wait()
	close(ch)

	out := make(map[string]*models.ExchangeBalance)
	for r := range ch {
		if r.err != nil {
			m.log.Warn("venue balance unavailable",
				zap.String("venue", r.venue), zap.Error(r.err))
			continue
		}
		out[r.venue] = r.bal
	}
	return out
}

// snapshotVenue собирает один снимок: суммирует балансы по всем
// настроенным типам счетов площадки
func (m *Manager) snapshotVenue(ctx context.Context, name string, v Venue, withUSD bool) (*models.ExchangeBalance, error) {
	assets := make(map[string]models.AssetBalance)

	seen := make(map[string]bool)
	for _, purpose := range []exchange.AccountPurpose{exchange.AccountTrading, exchange.AccountWithdrawal} {
		params := v.Profile.ParamsFor(purpose)
		key := paramsKey(params)
		if seen[key] {
			continue // площадка не различает эти счета
		}
		seen[key] = true

		bal, err := v.Gateway.FetchBalance(ctx, params)
		if err != nil {
			return nil, err
		}
		mergeBalance(assets, bal)
	}

	if withUSD {
		for asset, ab := range assets {
			ab.USDValue = m.value(ctx, name, v, asset, ab.Total)
			assets[asset] = ab
		}
	}

	return models.NewExchangeBalance(name, assets), nil
}

// value оценивает количество актива в котируемой валюте
//
// Порядок: котируемая/стейбл -> номинал; кэш оракула; прямой тикер
// на держащей площадке; оценочная таблица; иначе ноль с warning'ом.
func (m *Manager) value(ctx context.Context, venueName string, v Venue, asset string, total decimal.Decimal) decimal.Decimal {
	if total.Sign() == 0 {
		return decimal.Zero
	}
	if m.oracle.IsQuoteOrStable(asset) {
		return total
	}
	if p, ok := m.oracle.CachedPrice(ctx, asset); ok {
		return total.Mul(p)
	}
	if t, err := v.Gateway.FetchTicker(ctx, asset+"/"+m.quote); err == nil {
		if p := t.BestBid(); p.Sign() > 0 {
			return total.Mul(p)
		}
	}
	if p, ok := m.oracle.Estimated(asset); ok {
		return total.Mul(p)
	}

	m.log.Warn("asset not valued",
		zap.String("venue", venueName), zap.String("asset", asset),
		zap.String("total", total.String()))
	return decimal.Zero
}

// AccountFree возвращает свободный остаток актива на счёте назначения
func (m *Manager) AccountFree(ctx context.Context, venue, asset string, purpose exchange.AccountPurpose) (decimal.Decimal, error) {
	v, ok := m.venues[venue]
	if !ok {
		return decimal.Zero, &exchange.NotSupportedError{Venue: venue, Op: "AccountFree"}
	}
	bal, err := v.Gateway.FetchBalance(ctx, v.Profile.ParamsFor(purpose))
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Free[asset], nil
}

// Venue возвращает шлюз и профиль площадки
func (m *Manager) Venue(name string) (Venue, bool) {
	v, ok := m.venues[name]
	return v, ok
}

// VenueNames возвращает имена всех площадок
func (m *Manager) VenueNames() []string {
	names := make([]string, 0, len(m.venues))
	for name := range m.venues {
		names = append(names, name)
	}
	return names
}

func mergeBalance(into map[string]models.AssetBalance, bal *exchange.Balance) {
	for asset, free := range bal.Free {
		ab := into[asset]
		ab.Free = ab.Free.Add(free)
		into[asset] = ab
	}
	for asset, used := range bal.Used {
		ab := into[asset]
		ab.Used = ab.Used.Add(used)
		into[asset] = ab
	}
	for asset, total := range bal.Total {
		ab := into[asset]
		ab.Total = ab.Total.Add(total)
		into[asset] = ab
	}
}

func paramsKey(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := ""
	for _, k := range keys {
		key += k + "=" + params[k] + ";"
	}
	return key
}
