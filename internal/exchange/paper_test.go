package exchange

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestVenue(t *testing.T, cluster *PaperCluster, name string) *PaperVenue {
	t.Helper()
	v := NewPaperVenue(name, cluster, nil)
	v.AddMarket(&Market{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT",
		Active: true, Spot: true,
		TakerFee: d("0.001"), TakerFeeKnown: true,
	})
	v.SetTicker(&Ticker{Symbol: "BTC/USDT", Bid: d("99.9"), Ask: d("100")})
	return v
}

func TestPaperMarketBuyChargesFeeInBase(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	v.Deposit("spot", "USDT", d("1000"))

	order, err := v.CreateMarketBuyOrderWithCost(context.Background(), "BTC/USDT", d("100"), nil)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if order.Status != OrderStatusClosed {
		t.Errorf("status = %s", order.Status)
	}
	if !order.Filled.Equal(d("1")) {
		t.Errorf("filled = %s, want 1", order.Filled)
	}
	if order.Fee == nil || order.Fee.Currency != "BTC" || !order.Fee.Amount.Equal(d("0.001")) {
		t.Errorf("fee = %+v", order.Fee)
	}
	// На счёт зачислено filled - fee
	if got := v.FreeBalance("spot", "BTC"); !got.Equal(d("0.999")) {
		t.Errorf("BTC balance = %s, want 0.999", got)
	}
	if got := v.FreeBalance("spot", "USDT"); !got.Equal(d("900")) {
		t.Errorf("USDT balance = %s, want 900", got)
	}
}

func TestPaperMarketSellChargesFeeInQuote(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	v.Deposit("spot", "BTC", d("1"))

	order, err := v.CreateMarketSellOrder(context.Background(), "BTC/USDT", d("1"), nil)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if order.Fee.Currency != "USDT" {
		t.Errorf("fee currency = %s, want USDT", order.Fee.Currency)
	}
	// 1 * 99.9 - 0.1% = 99.8001
	if got := v.FreeBalance("spot", "USDT"); !got.Equal(d("99.8001")) {
		t.Errorf("USDT balance = %s, want 99.8001", got)
	}
}

func TestPaperBuyInsufficientFunds(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	v.Deposit("spot", "USDT", d("10"))

	_, err := v.CreateMarketBuyOrderWithCost(context.Background(), "BTC/USDT", d("100"), nil)
	var insufficient *InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
}

func TestPaperDeterministicOrderIDs(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	v.Deposit("spot", "USDT", d("1000"))

	o1, _ := v.CreateMarketBuyOrderWithCost(context.Background(), "BTC/USDT", d("100"), nil)
	o2, _ := v.CreateMarketBuyOrderWithCost(context.Background(), "BTC/USDT", d("100"), nil)

	if o1.ID != "alpha-ord-000001" || o2.ID != "alpha-ord-000002" {
		t.Errorf("ids: %s, %s", o1.ID, o2.ID)
	}
}

func TestPaperWithdrawDeliversToLinkedVenue(t *testing.T) {
	cluster := NewPaperCluster()
	from := newTestVenue(t, cluster, "alpha")
	to := newTestVenue(t, cluster, "beta")

	from.AddCurrency(&Currency{Code: "BTC", Networks: map[string]*NetworkInfo{
		"ERC20": {ID: "ERC20", Active: true, Withdraw: true, Fee: d("0.01"), FeeKnown: true, FeeCurrency: "BTC"},
	}})
	to.RegisterDepositAddress("BTC", "ERC20", &DepositAddress{Address: "beta-btc-1", Network: "ERC20"})

	from.Deposit("spot", "BTC", d("1"))

	id, err := from.Withdraw(context.Background(), "BTC", d("1"), "beta-btc-1", "", map[string]string{"network": "ERC20"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if id != "alpha-wd-000001" {
		t.Errorf("withdrawal id = %s", id)
	}

	// Сумма за вычетом сетевой комиссии прибыла на beta
	if got := to.FreeBalance("spot", "BTC"); !got.Equal(d("0.99")) {
		t.Errorf("delivered = %s, want 0.99", got)
	}
	if got := from.FreeBalance("spot", "BTC"); !got.IsZero() {
		t.Errorf("source balance = %s, want 0", got)
	}
}

func TestPaperManualDelivery(t *testing.T) {
	cluster := NewPaperCluster()
	cluster.DeliverManually = true
	from := newTestVenue(t, cluster, "alpha")
	to := newTestVenue(t, cluster, "beta")

	to.RegisterDepositAddress("BTC", "ERC20", &DepositAddress{Address: "beta-btc-1", Network: "ERC20"})
	from.Deposit("spot", "BTC", d("1"))

	if _, err := from.Withdraw(context.Background(), "BTC", d("1"), "beta-btc-1", "", map[string]string{"network": "ERC20"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := to.FreeBalance("spot", "BTC"); !got.IsZero() {
		t.Fatalf("delivered before DeliverPending: %s", got)
	}

	cluster.DeliverPending()

	if got := to.FreeBalance("spot", "BTC"); !got.Equal(d("1")) {
		t.Errorf("after DeliverPending = %s, want 1", got)
	}
}

func TestPaperTransferRejectsSameAccountType(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	v.Deposit("spot", "USDT", d("100"))

	err := v.Transfer(context.Background(), "USDT", d("50"), "spot", "spot", nil)
	if err == nil {
		t.Fatal("expected error for same account type transfer")
	}
}

func TestPaperFailNext(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	scripted := &NetworkError{Venue: "alpha", Op: "FetchTicker", Err: errors.New("timeout")}
	v.FailNext("FetchTicker", scripted)

	if _, err := v.FetchTicker(context.Background(), "BTC/USDT"); err != scripted {
		t.Errorf("expected scripted error, got %v", err)
	}
	// Следующий вызов проходит
	if _, err := v.FetchTicker(context.Background(), "BTC/USDT"); err != nil {
		t.Errorf("second call must succeed: %v", err)
	}
}

func TestTickerFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		ticker  Ticker
		wantAsk string
		wantBid string
	}{
		{"full", Ticker{Ask: d("100"), Bid: d("99"), Last: d("99.5"), Close: d("98")}, "100", "99"},
		{"last only", Ticker{Last: d("99.5")}, "99.5", "99.5"},
		{"close only", Ticker{Close: d("98")}, "98", "98"},
		{"empty", Ticker{}, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ticker.BestAsk(); !got.Equal(d(tt.wantAsk)) {
				t.Errorf("BestAsk = %s, want %s", got, tt.wantAsk)
			}
			if got := tt.ticker.BestBid(); !got.Equal(d(tt.wantBid)) {
				t.Errorf("BestBid = %s, want %s", got, tt.wantBid)
			}
		})
	}
}

// countingGateway считает вызовы FetchCurrencies
type countingGateway struct {
	*PaperVenue
	calls atomic.Int32
}

func (c *countingGateway) FetchCurrencies(ctx context.Context) (map[string]*Currency, error) {
	c.calls.Add(1)
	time.Sleep(10 * time.Millisecond) // даём конкурентам время столпиться
	return c.PaperVenue.FetchCurrencies(ctx)
}

func TestCurrencyCacheSingleFlight(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	v.AddCurrency(&Currency{Code: "BTC", Networks: map[string]*NetworkInfo{}})

	gw := &countingGateway{PaperVenue: v}
	cache := NewCurrencyCache(gw, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background()); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := gw.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", n)
	}

	// Повторный вызов в пределах TTL не ходит наружу
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := gw.calls.Load(); n != 1 {
		t.Errorf("expected cached result, got %d fetches", n)
	}
}

func TestCurrencyCacheServesStaleOnError(t *testing.T) {
	v := newTestVenue(t, nil, "alpha")
	v.AddCurrency(&Currency{Code: "BTC"})

	cache := NewCurrencyCache(v, time.Nanosecond)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("first Get: %v", err)
	}

	time.Sleep(time.Millisecond)
	v.FailNext("FetchCurrencies", &NetworkError{Venue: "alpha", Op: "FetchCurrencies", Err: errors.New("down")})

	data, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("stale Get must not fail: %v", err)
	}
	if _, ok := data["BTC"]; !ok {
		t.Error("stale data must contain BTC")
	}
}
