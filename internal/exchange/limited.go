package exchange

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/pkg/ratelimit"
)

// LimitedGateway - декоратор шлюза: rate limiting и per-call таймауты
//
// Обычный вызов ограничен DefaultTimeout; тяжёлые bulk-операции
// (балансы, тикеры, валюты) получают BulkTimeout. Каждый вызов сначала
// ждёт токен limiter'а, затем уходит в нижележащий шлюз.
type LimitedGateway struct {
	inner   Gateway
	limiter *ratelimit.Limiter

	defaultTimeout atomic.Int64 // наносекунды
	bulkTimeout    atomic.Int64
}

// Таймауты по умолчанию
const (
	DefaultCallTimeout = 30 * time.Second
	BulkCallTimeout    = 90 * time.Second
)

// NewLimitedGateway оборачивает шлюз
func NewLimitedGateway(inner Gateway, limiter *ratelimit.Limiter) *LimitedGateway {
	g := &LimitedGateway{inner: inner, limiter: limiter}
	g.defaultTimeout.Store(int64(DefaultCallTimeout))
	g.bulkTimeout.Store(int64(BulkCallTimeout))
	return g
}

func (g *LimitedGateway) acquire(ctx context.Context, bulk bool) (context.Context, context.CancelFunc, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	d := time.Duration(g.defaultTimeout.Load())
	if bulk {
		d = time.Duration(g.bulkTimeout.Load())
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	return callCtx, cancel, nil
}

func (g *LimitedGateway) Name() string { return g.inner.Name() }

func (g *LimitedGateway) LoadMarkets(ctx context.Context) (map[string]*Market, error) {
	callCtx, cancel, err := g.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.LoadMarkets(callCtx)
}

func (g *LimitedGateway) FetchTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error) {
	callCtx, cancel, err := g.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.FetchTickers(callCtx, symbols)
}

func (g *LimitedGateway) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.FetchTicker(callCtx, symbol)
}

func (g *LimitedGateway) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.FetchOrderBook(callCtx, symbol, depth)
}

func (g *LimitedGateway) FetchBalance(ctx context.Context, params map[string]string) (*Balance, error) {
	callCtx, cancel, err := g.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.FetchBalance(callCtx, params)
}

func (g *LimitedGateway) FetchCurrencies(ctx context.Context) (map[string]*Currency, error) {
	callCtx, cancel, err := g.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.FetchCurrencies(callCtx)
}

func (g *LimitedGateway) CreateMarketBuyOrder(ctx context.Context, symbol string, amount decimal.Decimal, params map[string]string) (*Order, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.CreateMarketBuyOrder(callCtx, symbol, amount, params)
}

func (g *LimitedGateway) CreateMarketBuyOrderWithCost(ctx context.Context, symbol string, cost decimal.Decimal, params map[string]string) (*Order, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.CreateMarketBuyOrderWithCost(callCtx, symbol, cost, params)
}

func (g *LimitedGateway) CreateMarketSellOrder(ctx context.Context, symbol string, amount decimal.Decimal, params map[string]string) (*Order, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.CreateMarketSellOrder(callCtx, symbol, amount, params)
}

func (g *LimitedGateway) FetchOrder(ctx context.Context, id, symbol string) (*Order, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.FetchOrder(callCtx, id, symbol)
}

func (g *LimitedGateway) CancelOrder(ctx context.Context, id, symbol string) error {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer cancel()
	return g.inner.CancelOrder(callCtx, id, symbol)
}

func (g *LimitedGateway) Transfer(ctx context.Context, asset string, amount decimal.Decimal, fromType, toType string, params map[string]string) error {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer cancel()
	return g.inner.Transfer(callCtx, asset, amount, fromType, toType, params)
}

func (g *LimitedGateway) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address, tag string, params map[string]string) (string, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return "", err
	}
	defer cancel()
	return g.inner.Withdraw(callCtx, asset, amount, address, tag, params)
}

func (g *LimitedGateway) FetchDepositAddress(ctx context.Context, asset string, params map[string]string) (*DepositAddress, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.FetchDepositAddress(callCtx, asset, params)
}

func (g *LimitedGateway) CreateDepositAddress(ctx context.Context, asset string, params map[string]string) (*DepositAddress, error) {
	callCtx, cancel, err := g.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return g.inner.CreateDepositAddress(callCtx, asset, params)
}

func (g *LimitedGateway) Has() Capabilities { return g.inner.Has() }

// SetTimeout задаёт таймаут обычного вызова; bulk-таймаут растёт кратно
func (g *LimitedGateway) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	g.defaultTimeout.Store(int64(d))
	g.bulkTimeout.Store(int64(3 * d))
	g.inner.SetTimeout(d)
}
