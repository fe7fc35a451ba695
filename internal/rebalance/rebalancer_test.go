package rebalance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"crossarb/internal/balance"
	"crossarb/internal/exchange"
	"crossarb/internal/models"
	"crossarb/internal/network"
	"crossarb/pkg/utils"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type marketTable map[string]map[string]*exchange.Market

func (t marketTable) Market(venue, symbol string) (*exchange.Market, bool) {
	m, ok := t[venue][symbol]
	return m, ok
}

// fixture - две бумажные площадки: alpha со счетами spot/funding,
// beta с единым spot. USDT ходит между ними по TRC20 (комиссия 1 USDT).
type fixture struct {
	cluster *exchange.PaperCluster
	alpha   *exchange.PaperVenue
	beta    *exchange.PaperVenue
	venues  map[string]balance.Venue
	markets marketTable
	mgr     *balance.Manager
	reb     *Rebalancer
}

func alphaProfile() *exchange.VenueProfile {
	return &exchange.VenueProfile{
		BalanceParser: "standard",
		PrecisionMode: exchange.PrecisionAuto,
		AccountParams: map[exchange.AccountPurpose]map[string]string{
			exchange.AccountTrading:    {"type": "spot"},
			exchange.AccountWithdrawal: {"type": "funding"},
		},
		AccountTypes: map[exchange.AccountPurpose]string{
			exchange.AccountTrading:    "spot",
			exchange.AccountWithdrawal: "funding",
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := utils.NopLogger()

	cluster := exchange.NewPaperCluster()
	alpha := exchange.NewPaperVenue("alpha", cluster, alphaProfile())
	beta := exchange.NewPaperVenue("beta", cluster, nil)

	btcMarket := &exchange.Market{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT",
		Active: true, Spot: true,
		TakerFee: d("0.001"), TakerFeeKnown: true,
		AmountPrecision: d("0.0001"),
		MinAmount:       d("0.0001"),
		MinCost:         d("10"),
	}
	alpha.AddMarket(btcMarket)
	alpha.SetTicker(&exchange.Ticker{Symbol: "BTC/USDT", Bid: d("100"), Ask: d("101")})
	alpha.SetOrderBook(&exchange.OrderBook{
		Symbol: "BTC/USDT",
		Bids:   []exchange.OrderBookLevel{{Price: d("100"), Amount: d("50")}},
		Asks:   []exchange.OrderBookLevel{{Price: d("101"), Amount: d("50")}},
	})

	alpha.AddCurrency(&exchange.Currency{
		Code: "USDT", Precision: d("0.01"), PrecisionKnown: true,
		Networks: map[string]*exchange.NetworkInfo{
			"TRX": {ID: "TRX", Active: true, Withdraw: true, Deposit: true,
				Fee: d("1"), FeeKnown: true, FeeCurrency: "USDT", MinWithdraw: d("10")},
		},
	})
	beta.AddCurrency(&exchange.Currency{
		Code: "USDT", Precision: d("0.01"), PrecisionKnown: true,
		Networks: map[string]*exchange.NetworkInfo{
			"TRC20": {ID: "TRC20", Active: true, Withdraw: true, Deposit: true,
				Fee: d("1"), FeeKnown: true, FeeCurrency: "USDT"},
		},
	})
	beta.RegisterDepositAddress("USDT", "TRC20",
		&exchange.DepositAddress{Address: "beta-usdt-trc20", Network: "TRC20"})

	venues := map[string]balance.Venue{
		"alpha": {Gateway: alpha, Profile: alpha.Profile()},
		"beta":  {Gateway: beta, Profile: beta.Profile()},
	}
	markets := marketTable{"alpha": {"BTC/USDT": btcMarket}}

	oracle := balance.NewOracle(alpha, "USDT", []string{"USDC"}, nil, 0, log)
	mgr := balance.NewManager(venues, oracle, "USDT", log)

	provider := func(ctx context.Context, venue string) (map[string]*exchange.Currency, error) {
		return venues[venue].Gateway.FetchCurrencies(ctx)
	}
	norm := network.NewNormalizer(network.DefaultAliases())
	selector := network.NewSelector(norm, network.SelectorConfig{QuoteAsset: "USDT"}, provider, oracle, log)
	quantizer := NewQuantizer(provider, markets, func(v string) *exchange.VenueProfile {
		return venues[v].Profile
	}, "USDT")

	reb := New(mgr, selector, quantizer, norm, NewOperationSet(), markets, Config{
		Quote:             "USDT",
		ReserveBuffer:     d("50"),
		TransferFeeBuffer: d("5"),
		JITMinConversion:  d("100"),
		JITAssets:         []string{"BTC"},
		SlippagePct:       d("1"),
	}, log)

	return &fixture{
		cluster: cluster, alpha: alpha, beta: beta,
		venues: venues, markets: markets, mgr: mgr, reb: reb,
	}
}

// ============================================================
// InternalTransfer
// ============================================================

func TestInternalTransferSufficientTargetIsNoop(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("funding", "USDT", d("150"))

	err := f.reb.InternalTransfer(context.Background(), "alpha", "USDT", d("100"),
		exchange.AccountTrading, exchange.AccountWithdrawal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.alpha.FreeBalance("spot", "USDT"); got.Sign() != 0 {
		t.Errorf("spot must stay untouched, got %s", got)
	}
}

func TestInternalTransferMovesDeficit(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "USDT", d("200"))
	f.alpha.Deposit("funding", "USDT", d("10"))

	err := f.reb.InternalTransfer(context.Background(), "alpha", "USDT", d("100"),
		exchange.AccountTrading, exchange.AccountWithdrawal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.alpha.FreeBalance("funding", "USDT"); !utils.GTE(got, d("100")) {
		t.Errorf("funding = %s, want >= 100", got)
	}
	if f.reb.Ops().Active() != 0 {
		t.Error("operation must be released")
	}
}

func TestInternalTransferSameAccountInsufficient(t *testing.T) {
	f := newFixture(t)
	f.beta.Deposit("spot", "USDT", d("50"))

	err := f.reb.InternalTransfer(context.Background(), "beta", "USDT", d("100"),
		exchange.AccountTrading, exchange.AccountWithdrawal)
	var insufficient *exchange.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
}

func TestInternalTransferSameAccountSufficient(t *testing.T) {
	f := newFixture(t)
	f.beta.Deposit("spot", "USDT", d("150"))

	err := f.reb.InternalTransfer(context.Background(), "beta", "USDT", d("100"),
		exchange.AccountTrading, exchange.AccountWithdrawal)
	if err != nil {
		t.Fatalf("sufficient balance on unified account must succeed: %v", err)
	}
}

// ============================================================
// TransferBetweenVenues
// ============================================================

func TestTransferBetweenVenuesDeliversNetOfFee(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "USDT", d("200"))

	id, option, err := f.reb.TransferBetweenVenues(context.Background(), "USDT", "alpha", "beta", d("100"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Error("withdrawal id must be set")
	}
	if option.Normalized != "TRC20" {
		t.Errorf("network = %s, want TRC20", option.Normalized)
	}
	if option.WithdrawCode != "TRX" || option.DepositCode != "TRC20" {
		t.Errorf("raw codes = %s/%s", option.WithdrawCode, option.DepositCode)
	}
	// 100 ушло, 1 USDT комиссия сети, 99 прибыло на beta
	if got := f.beta.FreeBalance("spot", "USDT"); !got.Equal(d("99")) {
		t.Errorf("beta received %s, want 99", got)
	}
	if f.reb.Ops().Active() != 0 {
		t.Error("operation must be released")
	}
}

func TestTransferBetweenVenuesDeduplicated(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "USDT", d("200"))

	op := models.NewRebalanceOperation("USDT", "alpha", "beta", d("100"))
	if !f.reb.Ops().TryRegister(op) {
		t.Fatal("precondition: registration must succeed")
	}

	_, _, err := f.reb.TransferBetweenVenues(context.Background(), "USDT", "alpha", "beta", d("100"), nil)
	if err == nil || !strings.Contains(err.Error(), "in flight") {
		t.Fatalf("duplicate transfer must be rejected, got %v", err)
	}
}

func TestTransferBetweenVenuesNetworkOverrideSkipsSelection(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "USDT", d("200"))

	override := &models.NetworkOption{
		WithdrawCode: "TRX", DepositCode: "TRC20", Normalized: "TRC20",
		FeeNative: d("1"), FeeCurrency: "USDT",
	}
	// Ломаем селектор: метаданные beta недоступны, но override их не требует
	f.beta.FailNext("FetchCurrencies", &exchange.NetworkError{Venue: "beta", Op: "FetchCurrencies", Err: errors.New("down")})

	_, option, err := f.reb.TransferBetweenVenues(context.Background(), "USDT", "alpha", "beta", d("100"), override)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if option != override {
		t.Error("override must be used verbatim")
	}
}

func TestTransferBetweenVenuesZeroAfterQuantization(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.reb.TransferBetweenVenues(context.Background(), "USDT", "alpha", "beta", d("0.001"), nil)
	if err == nil {
		t.Fatal("sub-quantum amount must be rejected")
	}
}

// ============================================================
// ConvertToQuote
// ============================================================

type recordObserver struct {
	venue  string
	orders []*exchange.Order
}

func (o *recordObserver) OnConversionFill(venue string, order *exchange.Order) {
	o.venue = venue
	o.orders = append(o.orders, order)
}

func TestConvertToQuoteSellsAndReportsNet(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "BTC", d("2"))
	obs := &recordObserver{}

	received, err := f.reb.ConvertToQuote(context.Background(), "alpha", "BTC", d("1"), obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 BTC по 100, комиссия 0.1% в USDT
	if !received.Equal(d("99.9")) {
		t.Errorf("received = %s, want 99.9", received)
	}
	if obs.venue != "alpha" || len(obs.orders) != 1 {
		t.Errorf("observer not notified: venue=%s orders=%d", obs.venue, len(obs.orders))
	}
}

func TestConvertToQuoteBelowMarketMinimum(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "BTC", d("2"))

	// 0.05 BTC * 100 = 5 USDT < MinCost 10
	_, err := f.reb.ConvertToQuote(context.Background(), "alpha", "BTC", d("0.05"), nil)
	if err == nil || !strings.Contains(err.Error(), "below market minimum") {
		t.Fatalf("expected min cost rejection, got %v", err)
	}
}

// canceledGateway сообщает об отменённом ордере с нулевым исполнением
type canceledGateway struct {
	*exchange.PaperVenue
}

func (g *canceledGateway) FetchOrder(ctx context.Context, id, symbol string) (*exchange.Order, error) {
	return &exchange.Order{ID: id, Symbol: symbol, Status: exchange.OrderStatusCanceled}, nil
}

func TestConvertToQuoteCanceledZeroFillIsFailure(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "BTC", d("2"))

	wrapped := map[string]balance.Venue{
		"alpha": {Gateway: &canceledGateway{PaperVenue: f.alpha}, Profile: f.alpha.Profile()},
		"beta":  f.venues["beta"],
	}
	log := utils.NopLogger()
	oracle := balance.NewOracle(f.alpha, "USDT", nil, nil, 0, log)
	mgr := balance.NewManager(wrapped, oracle, "USDT", log)
	provider := func(ctx context.Context, venue string) (map[string]*exchange.Currency, error) {
		return wrapped[venue].Gateway.FetchCurrencies(ctx)
	}
	norm := network.NewNormalizer(network.DefaultAliases())
	selector := network.NewSelector(norm, network.SelectorConfig{QuoteAsset: "USDT"}, provider, oracle, log)
	quantizer := NewQuantizer(provider, f.markets, func(v string) *exchange.VenueProfile {
		return wrapped[v].Profile
	}, "USDT")
	reb := New(mgr, selector, quantizer, norm, NewOperationSet(), f.markets, Config{
		Quote: "USDT", SlippagePct: d("1"),
	}, log)

	_, err := reb.ConvertToQuote(context.Background(), "alpha", "BTC", d("1"), nil)
	if err == nil || !strings.Contains(err.Error(), "zero fill") {
		t.Fatalf("canceled zero-fill order must fail, got %v", err)
	}
}

// ============================================================
// EnsureQuoteForTrade
// ============================================================

func TestEnsureQuoteDirectTransfer(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "USDT", d("200"))

	snapshots := f.mgr.Snapshot(context.Background(), true)
	source, err := f.reb.EnsureQuoteForTrade(context.Background(), "beta", d("100"), snapshots, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != "alpha" {
		t.Errorf("source = %s, want alpha", source)
	}
	// needed 100 + буфер 5, минус сетевая комиссия 1
	if got := f.beta.FreeBalance("spot", "USDT"); !got.Equal(d("104")) {
		t.Errorf("beta received %s, want 104", got)
	}
}

func TestEnsureQuoteRespectsReserveBuffer(t *testing.T) {
	f := newFixture(t)
	// 120 свободно, но 120 - 50 (резерв) < 105: прямой перевод невозможен,
	// JIT-активов нет
	f.alpha.Deposit("spot", "USDT", d("120"))

	snapshots := f.mgr.Snapshot(context.Background(), true)
	_, err := f.reb.EnsureQuoteForTrade(context.Background(), "beta", d("100"), snapshots, "", nil)
	if err == nil {
		t.Fatal("reserve buffer must block the transfer")
	}
}

func TestEnsureQuoteJITConversion(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "USDT", d("10"))
	f.alpha.Deposit("spot", "BTC", d("5"))
	obs := &recordObserver{}

	snapshots := f.mgr.Snapshot(context.Background(), true)
	source, err := f.reb.EnsureQuoteForTrade(context.Background(), "beta", d("100"), snapshots, "", obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != "alpha" {
		t.Errorf("source = %s, want alpha", source)
	}
	if len(obs.orders) != 1 {
		t.Fatalf("conversion must notify observer, got %d orders", len(obs.orders))
	}
	if got := f.beta.FreeBalance("spot", "USDT"); !got.Equal(d("104")) {
		t.Errorf("beta received %s, want 104", got)
	}
}

func TestEnsureQuoteNoSourceAvailable(t *testing.T) {
	f := newFixture(t)
	snapshots := f.mgr.Snapshot(context.Background(), true)

	_, err := f.reb.EnsureQuoteForTrade(context.Background(), "beta", d("100"), snapshots, "", nil)
	if err == nil {
		t.Fatal("empty venues must fail funding")
	}
}

func TestEnsureQuotePreferredSourceFirst(t *testing.T) {
	f := newFixture(t)
	f.alpha.Deposit("spot", "USDT", d("500"))

	snapshots := f.mgr.Snapshot(context.Background(), true)
	source, err := f.reb.EnsureQuoteForTrade(context.Background(), "beta", d("100"), snapshots, "alpha", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != "alpha" {
		t.Errorf("source = %s, want preferred alpha", source)
	}
}
