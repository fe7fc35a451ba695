// API integration tests: full HTTP request cycle through the router,
// engine and repositories against a live Postgres.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"crossarb/internal/models"
)

func getJSON(t *testing.T, url string, dst interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func postStatus(t *testing.T, url string, body []byte) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestAPIHealth(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	resp, err := http.Get(ts.Server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestAPIStatusAndPauseResume(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	var st models.EngineStatus
	getJSON(t, ts.Server.URL+"/api/v1/status", &st)
	if st.Running || st.Paused {
		t.Errorf("fresh status: %+v", st)
	}
	if len(st.Venues) != 2 {
		t.Errorf("venues = %v", st.Venues)
	}

	if code := postStatus(t, ts.Server.URL+"/api/v1/pause", nil); code != http.StatusOK {
		t.Errorf("pause = %d", code)
	}
	if code := postStatus(t, ts.Server.URL+"/api/v1/pause", nil); code != http.StatusConflict {
		t.Errorf("second pause = %d, want conflict", code)
	}
	if code := postStatus(t, ts.Server.URL+"/api/v1/resume", nil); code != http.StatusOK {
		t.Errorf("resume = %d", code)
	}

	getJSON(t, ts.Server.URL+"/api/v1/status", &st)
	if st.Paused {
		t.Error("status must report resumed engine")
	}
}

func TestAPIBalances(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	ts.Pipeline.alpha.Deposit("spot", "USDT", d("1000"))

	var balances map[string]*models.ExchangeBalance
	getJSON(t, ts.Server.URL+"/api/v1/balances", &balances)
	if len(balances) != 2 {
		t.Fatalf("venues in snapshot = %d, want 2", len(balances))
	}
}

func TestAPITradesAfterEngineRun(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	// Полный цикл: движок исполняет сделку, репозиторий её архивирует
	ts.Pipeline.alpha.Deposit("spot", "USDT", d("1000"))
	if err := ts.Pipeline.eng.Run(context.Background()); err != nil {
		t.Fatalf("engine run: %v", err)
	}

	var records []*models.TradeRecord
	getJSON(t, ts.Server.URL+"/api/v1/trades", &records)
	if len(records) != 1 {
		t.Fatalf("trades = %d, want 1", len(records))
	}
	if records[0].Status != models.StatusCompletedSuccess {
		t.Errorf("status = %s", records[0].Status)
	}
	if records[0].FinalNetProfitQuote.Sign() <= 0 {
		t.Errorf("profit = %s", records[0].FinalNetProfitQuote)
	}

	var stats models.TradeStats
	getJSON(t, ts.Server.URL+"/api/v1/trades/stats", &stats)
	if stats.Total != 1 || stats.Successful != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAPIPathBlacklistCRUD(t *testing.T) {
	ts := SetupTestServer(t)
	if ts == nil {
		return
	}
	defer ts.Cleanup()

	base := ts.Server.URL + "/api/v1/path-blacklist"

	var entries []*models.PathBlacklistEntry
	getJSON(t, base, &entries)
	if len(entries) != 0 {
		t.Fatalf("blacklist must start empty, got %d", len(entries))
	}

	body, _ := json.Marshal(map[string]string{
		"asset": "usdt", "from_venue": "alpha", "to_venue": "beta",
		"network": "TRC20", "reason": "stuck transfer",
	})
	if code := postStatus(t, base, body); code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	if code := postStatus(t, base, body); code != http.StatusConflict {
		t.Errorf("duplicate = %d, want conflict", code)
	}

	getJSON(t, base, &entries)
	if len(entries) != 1 || entries[0].PathKey() != "USDT|alpha|beta|TRC20" {
		t.Fatalf("entries = %+v", entries)
	}

	req, _ := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/USDT/alpha/beta/TRC20", base), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete = %d", resp.StatusCode)
	}

	getJSON(t, base, &entries)
	if len(entries) != 0 {
		t.Errorf("blacklist must be empty after delete, got %d", len(entries))
	}
}
