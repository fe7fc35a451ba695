package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewOpportunity(t *testing.T) {
	minGross, maxGross := d("1"), d("13")

	tests := []struct {
		name     string
		buy, sell string
		wantErr  bool
		gross    string
	}{
		{"valid 4 percent", "100", "104", false, "4"},
		{"sell below buy", "104", "100", true, ""},
		{"equal prices", "100", "100", true, ""},
		{"zero buy price", "0", "104", true, ""},
		{"negative buy price", "-1", "104", true, ""},
		{"below min gross", "100", "100.5", true, ""},
		{"above max gross", "100", "120", true, ""},
		{"exactly min gross", "100", "101", false, "1"},
		{"exactly max gross", "100", "113", false, "13"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp, err := NewOpportunity("alpha", "beta", "BTC/USDT", d(tt.buy), d(tt.sell), minGross, maxGross)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got opportunity %+v", opp)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !opp.GrossPct.Equal(d(tt.gross)) {
				t.Errorf("gross = %s, want %s", opp.GrossPct, tt.gross)
			}
		})
	}
}

func TestOpportunityKeyAndAssets(t *testing.T) {
	opp, err := NewOpportunity("alpha", "beta", "ETH/USDT", d("2000"), d("2100"), d("1"), d("13"))
	if err != nil {
		t.Fatalf("NewOpportunity: %v", err)
	}

	key := opp.Key()
	if key.BuyVenue != "alpha" || key.SellVenue != "beta" || key.Symbol != "ETH/USDT" {
		t.Errorf("unexpected key: %+v", key)
	}
	if opp.BaseAsset() != "ETH" {
		t.Errorf("BaseAsset = %s, want ETH", opp.BaseAsset())
	}
	if opp.QuoteAsset() != "USDT" {
		t.Errorf("QuoteAsset = %s, want USDT", opp.QuoteAsset())
	}
}

func TestNewExchangeBalanceTotals(t *testing.T) {
	b := NewExchangeBalance("alpha", map[string]AssetBalance{
		"BTC":  {Free: d("0.5"), Total: d("0.5"), USDValue: d("25000")},
		"USDT": {Free: d("1000"), Total: d("1000"), USDValue: d("1000")},
	})

	if !b.TotalUSD.Equal(d("26000")) {
		t.Errorf("TotalUSD = %s, want 26000", b.TotalUSD)
	}
	if !b.FreeOf("USDT").Equal(d("1000")) {
		t.Errorf("FreeOf(USDT) = %s", b.FreeOf("USDT"))
	}
	if !b.FreeOf("XRP").IsZero() {
		t.Error("FreeOf for missing asset must be zero")
	}
}

func TestFailStatus(t *testing.T) {
	if got := FailStatus(StatusBuyLegFailed, "ZERO_FILL"); got != "BUY_LEG_FAILED_ZERO_FILL" {
		t.Errorf("FailStatus = %s", got)
	}
	if got := FailStatus(StatusBuyLegFailed, ""); got != StatusBuyLegFailed {
		t.Errorf("FailStatus with empty detail = %s", got)
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusCompletedSuccess, true},
		{StatusCompletedLoss, true},
		{StatusCompletedUnknown, true},
		{"TRANSFER_LEG_FAILED_NO_ADDRESS", true},
		{"SETUP_ERROR_NO_NETWORK", true},
		{StatusBuyLegFailed, true},
		{StatusPending, false},
		{StatusSellLegPending, false},
		{StatusTransferWaitingArrival, false},
	}

	for _, tt := range tests {
		if got := IsTerminal(tt.status); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRebalanceOperationKey(t *testing.T) {
	op := NewRebalanceOperation("USDT", "alpha", "beta", d("500"))
	if op.Key() != "USDT|alpha|beta|500" {
		t.Errorf("Key = %s", op.Key())
	}

	// Разные квантованные суммы - разные операции
	other := NewRebalanceOperation("USDT", "alpha", "beta", d("500.1"))
	if op.Key() == other.Key() {
		t.Error("different amounts must produce different keys")
	}
}

func TestCompletedArbitrageLogAddError(t *testing.T) {
	l := &CompletedArbitrageLog{}
	l.AddError("first")
	l.AddError("")
	l.AddError("second")

	if len(l.ErrorMessages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(l.ErrorMessages))
	}
	if l.ErrorMessages[0] != "first" || l.ErrorMessages[1] != "second" {
		t.Errorf("messages out of order: %v", l.ErrorMessages)
	}
}
