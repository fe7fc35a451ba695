// Repository integration tests against a live Postgres. Verify that
// decimal money columns and the JSONB detail payload survive a full
// write/read round trip, and that the path UNIQUE constraint maps to
// the repository sentinel errors.
package integration

import (
	"errors"
	"testing"
	"time"

	"crossarb/internal/models"
	"crossarb/internal/repository"
)

func terminalTrade(status, profit string) *models.CompletedArbitrageLog {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.CompletedArbitrageLog{
		Opportunity: models.OpportunityKey{
			BuyVenue:  "alpha",
			SellVenue: "beta",
			Symbol:    "BTC/USDT",
		},
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,

		TransferID:  "wd-12345",
		NetworkUsed: "ERC20",

		InitialBuyCostQuote: d("100"),
		QuoteReceived:       d("103.5"),
		FinalNetProfitQuote: d(profit),
		FinalNetProfitPct:   d("3.5"),

		Status: status,
	}
}

func TestTradeRepositoryRoundTrip(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewTradeRepository(db)

	trade := terminalTrade(models.StatusCompletedSuccess, "3.5")
	id, err := repo.Create(trade)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d", id)
	}

	rec, err := repo.GetByID(id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if rec.BuyVenue != "alpha" || rec.SellVenue != "beta" || rec.Symbol != "BTC/USDT" {
		t.Errorf("path = %s -> %s %s", rec.BuyVenue, rec.SellVenue, rec.Symbol)
	}
	if rec.Status != models.StatusCompletedSuccess || rec.NetworkUsed != "ERC20" {
		t.Errorf("status = %s, network = %s", rec.Status, rec.NetworkUsed)
	}
	// Денежные колонки должны пройти без потери точности
	if !rec.FinalNetProfitQuote.Equal(d("3.5")) || !rec.QuoteReceived.Equal(d("103.5")) {
		t.Errorf("profit = %s, received = %s", rec.FinalNetProfitQuote, rec.QuoteReceived)
	}
	if rec.Detail == "" {
		t.Error("detail JSON must be persisted")
	}

	if _, err := repo.GetByID(id + 1000); !errors.Is(err, repository.ErrTradeNotFound) {
		t.Errorf("missing id error = %v", err)
	}
}

func TestTradeRepositoryRecentAndStats(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewTradeRepository(db)

	fixtures := []*models.CompletedArbitrageLog{
		terminalTrade(models.StatusCompletedSuccess, "3.5"),
		terminalTrade(models.StatusCompletedSuccess, "1.2"),
		terminalTrade(models.StatusCompletedLoss, "-0.7"),
	}
	for i, trade := range fixtures {
		trade.FinishedAt = trade.FinishedAt.Add(time.Duration(i) * time.Second)
		if _, err := repo.Create(trade); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	recent, err := repo.GetRecent(2)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	// Новые первыми
	if recent[0].Status != models.StatusCompletedLoss {
		t.Errorf("first recent status = %s", recent[0].Status)
	}

	losses, err := repo.GetByStatus(models.StatusCompletedLoss, 10)
	if err != nil {
		t.Fatalf("get by status: %v", err)
	}
	if len(losses) != 1 {
		t.Errorf("losses = %d, want 1", len(losses))
	}

	count, err := repo.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Successful != 2 || stats.Losses != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.TotalProfitQuote.Equal(d("4")) {
		t.Errorf("total profit = %s, want 4", stats.TotalProfitQuote)
	}
}

func TestPathBlacklistRepositoryCRUD(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewPathBlacklistRepository(db)

	entry := &models.PathBlacklistEntry{
		Asset:     "usdt",
		FromVenue: "alpha",
		ToVenue:   "beta",
		Network:   "TRC20",
		Reason:    "stuck transfer",
	}
	if err := repo.Create(entry); err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.ID <= 0 {
		t.Fatalf("id = %d", entry.ID)
	}

	// Повтор того же пути упирается в UNIQUE constraint
	dup := &models.PathBlacklistEntry{
		Asset: "USDT", FromVenue: "alpha", ToVenue: "beta", Network: "TRC20",
	}
	if err := repo.Create(dup); !errors.Is(err, repository.ErrPathExists) {
		t.Errorf("duplicate error = %v", err)
	}

	exists, err := repo.Exists("usdt", "alpha", "beta", "TRC20")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Error("path must exist")
	}

	all, err := repo.GetAll()
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 || all[0].PathKey() != "USDT|alpha|beta|TRC20" {
		t.Fatalf("entries = %+v", all)
	}

	got, err := repo.GetByID(entry.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Asset != "USDT" || got.Reason != "stuck transfer" {
		t.Errorf("entry = %+v", got)
	}

	if err := repo.Delete("USDT", "alpha", "beta", "TRC20"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete("USDT", "alpha", "beta", "TRC20"); !errors.Is(err, repository.ErrPathNotFound) {
		t.Errorf("second delete error = %v", err)
	}

	count, err := repo.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestPathBlacklistRepositoryDeleteByID(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
	}
	defer cleanupTestTables(db)

	repo := repository.NewPathBlacklistRepository(db)

	entry := &models.PathBlacklistEntry{
		Asset: "BTC", FromVenue: "alpha", ToVenue: "beta", Network: "ERC20",
	}
	if err := repo.Create(entry); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.DeleteByID(entry.ID); err != nil {
		t.Fatalf("delete by id: %v", err)
	}
	if err := repo.DeleteByID(entry.ID); !errors.Is(err, repository.ErrPathNotFound) {
		t.Errorf("second delete error = %v", err)
	}
	if _, err := repo.GetByID(entry.ID); !errors.Is(err, repository.ErrPathNotFound) {
		t.Errorf("get after delete error = %v", err)
	}
}
