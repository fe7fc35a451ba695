package balance

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
)

// Oracle - кэш цен активов в котируемой валюте
//
// Наполняется bulk-запросом тикеров с опорной площадки; TTL по умолчанию
// 60 секунд. Обновление single-flighted: конкурентные вызовы при
// протухшем кэше делят один запрос.
type Oracle struct {
	ref       exchange.Gateway
	quote     string
	stables   map[string]bool
	estimated map[string]decimal.Decimal // операторская таблица оценочных цен
	ttl       time.Duration
	log       *zap.Logger

	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	fetchedAt time.Time
	inflight  chan struct{}
}

// DefaultOracleTTL - срок жизни кэша цен
const DefaultOracleTTL = 60 * time.Second

// NewOracle создаёт оракул поверх опорной площадки
func NewOracle(ref exchange.Gateway, quote string, stables []string, estimated map[string]decimal.Decimal, ttl time.Duration, log *zap.Logger) *Oracle {
	if ttl <= 0 {
		ttl = DefaultOracleTTL
	}
	st := make(map[string]bool, len(stables))
	for _, s := range stables {
		st[s] = true
	}
	if estimated == nil {
		estimated = map[string]decimal.Decimal{}
	}
	return &Oracle{
		ref:       ref,
		quote:     quote,
		stables:   st,
		estimated: estimated,
		ttl:       ttl,
		log:       log.Named("oracle"),
	}
}

// IsQuoteOrStable возвращает true для котируемой валюты и известных стейблкоинов
func (o *Oracle) IsQuoteOrStable(asset string) bool {
	return asset == o.quote || o.stables[asset]
}

// CachedPrice возвращает цену из кэша, обновляя его при протухании
func (o *Oracle) CachedPrice(ctx context.Context, asset string) (decimal.Decimal, bool) {
	for {
		o.mu.Lock()

		if o.prices != nil && time.Since(o.fetchedAt) < o.ttl {
			p, ok := o.prices[asset]
			o.mu.Unlock()
			return p, ok
		}

		if o.inflight != nil {
			done := o.inflight
			o.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return decimal.Zero, false
			}
			continue
		}

		done := make(chan struct{})
		o.inflight = done
		o.mu.Unlock()

		o.refresh(ctx)

		o.mu.Lock()
		o.inflight = nil
		p, ok := decimal.Zero, false
		if o.prices != nil {
			p, ok = o.prices[asset]
		}
		o.mu.Unlock()
		close(done)
		return p, ok
	}
}

func (o *Oracle) refresh(ctx context.Context) {
	tickers, err := o.ref.FetchTickers(ctx, nil)
	if err != nil {
		o.log.Warn("price cache refresh failed",
			zap.String("venue", o.ref.Name()), zap.Error(err))
		return
	}

	prices := make(map[string]decimal.Decimal)
	suffix := "/" + o.quote
	for symbol, t := range tickers {
		if len(symbol) <= len(suffix) || symbol[len(symbol)-len(suffix):] != suffix {
			continue
		}
		price := t.BestBid()
		if price.Sign() <= 0 {
			continue
		}
		prices[symbol[:len(symbol)-len(suffix)]] = price
	}

	o.mu.Lock()
	o.prices = prices
	o.fetchedAt = time.Now()
	o.mu.Unlock()

	o.log.Debug("price cache refreshed", zap.Int("assets", len(prices)))
}

// Estimated возвращает оценочную цену из операторской таблицы
func (o *Oracle) Estimated(asset string) (decimal.Decimal, bool) {
	p, ok := o.estimated[asset]
	return p, ok
}

// PriceInQuote возвращает цену актива в котируемой валюте
//
// Порядок: котируемая/стейбл -> 1; кэш; прямой запрос на опорной
// площадке; оценочная таблица. Реализует network.PriceOracle.
func (o *Oracle) PriceInQuote(ctx context.Context, asset string) (decimal.Decimal, bool) {
	if o.IsQuoteOrStable(asset) {
		return decimal.NewFromInt(1), true
	}
	if p, ok := o.CachedPrice(ctx, asset); ok {
		return p, true
	}
	if t, err := o.ref.FetchTicker(ctx, asset+"/"+o.quote); err == nil {
		if p := t.BestBid(); p.Sign() > 0 {
			return p, true
		}
	}
	return o.Estimated(asset)
}
