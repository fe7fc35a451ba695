package journal

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/models"
	"crossarb/pkg/utils"
)

func sampleTrade(status string) *models.CompletedArbitrageLog {
	return &models.CompletedArbitrageLog{
		Opportunity: models.OpportunityKey{BuyVenue: "alpha", SellVenue: "beta", Symbol: "BTC/USDT"},
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
		InitialBuyCostQuote: decimal.RequireFromString("100"),
		QuoteReceived:       decimal.RequireFromString("103.74"),
		FinalNetProfitQuote: decimal.RequireFromString("3.74"),
		Status:              status,
	}
}

func TestRecordAppendsOneLinePerTrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.ndjson")
	w, err := Open(path, utils.NopLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if err := w.Record(sampleTrade(models.StatusCompletedSuccess)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Record(sampleTrade("BUY_LEG_FAILED_ZERO_FILL")); err != nil {
		t.Fatalf("record: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	// Decimal-величины обязаны быть строками, не числами
	if !strings.Contains(lines[0], `"final_net_profit_quote":"3.74"`) {
		t.Errorf("decimal must serialize as string, got: %s", lines[0])
	}

	var got models.CompletedArbitrageLog
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != models.StatusCompletedSuccess {
		t.Errorf("status = %s", got.Status)
	}
	if !got.FinalNetProfitQuote.Equal(decimal.RequireFromString("3.74")) {
		t.Errorf("profit = %s", got.FinalNetProfitQuote)
	}
}

func TestOpenAppendsToExistingJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.ndjson")

	w, err := Open(path, utils.NopLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.Record(sampleTrade(models.StatusCompletedSuccess)); err != nil {
		t.Fatalf("record: %v", err)
	}
	w.Close()

	// Повторное открытие не должно затирать историю
	w, err = Open(path, utils.NopLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.Record(sampleTrade(models.StatusCompletedLoss)); err != nil {
		t.Fatalf("record: %v", err)
	}
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Errorf("records = %d, want 2", got)
	}
}
