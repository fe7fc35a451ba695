// Package integration contains end-to-end tests for the arbitrage engine.
//
// Two layers are covered:
//   - pipeline tests: full scan -> analyze -> execute cycles on a seeded
//     paper cluster, no external services required
//   - API/database/websocket tests: full HTTP request cycle against a
//     live Postgres; these skip when the database is unreachable
//
// Database-backed tests read TEST_DB_* environment variables.
package integration

import (
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"crossarb/internal/api"
	"crossarb/internal/repository"
	ws "crossarb/internal/websocket"
	"crossarb/pkg/utils"
)

// TestConfig contains database configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates the operator surface wired to a live database
type TestServer struct {
	DB       *sql.DB
	Router   *mux.Router
	Server   *httptest.Server
	Hub      *ws.Hub
	Trades   *repository.TradeRepository
	Paths    *repository.PathBlacklistRepository
	Pipeline *pipeline
	Cleanup  func()
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "crossarb_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	config := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName, config.DBSSLMode,
	)

	db, err := sql.Open(config.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestServer creates the full operator surface: seeded paper
// pipeline, repositories, websocket hub and HTTP router
func SetupTestServer(t *testing.T) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	if err := initTestTables(db); err != nil {
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}

	logger := utils.NopLogger()

	hub := ws.NewHub(logger)
	go hub.Run()

	trades := repository.NewTradeRepository(db)
	paths := repository.NewPathBlacklistRepository(db)

	p := newPipeline(t, pipelineOpts{maxCycles: 1, archive: trades})

	deps := &api.Dependencies{
		Engine:    p.eng,
		Balances:  p.balances,
		Trades:    trades,
		Blacklist: paths,
		Hub:       hub,
		Log:       logger,
	}
	router := api.SetupRoutes(deps)
	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		hub.Stop()
		cleanupTestTables(db)
		dbCleanup()
	}

	return &TestServer{
		DB:       db,
		Router:   router,
		Server:   server,
		Hub:      hub,
		Trades:   trades,
		Paths:    paths,
		Pipeline: p,
		Cleanup:  cleanup,
	}
}

// initTestTables creates tables for testing
func initTestTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			buy_venue VARCHAR(50) NOT NULL,
			sell_venue VARCHAR(50) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			status VARCHAR(60) NOT NULL,
			network_used VARCHAR(30) DEFAULT '',
			initial_buy_cost_quote DECIMAL(30, 12) NOT NULL DEFAULT 0,
			quote_received DECIMAL(30, 12) NOT NULL DEFAULT 0,
			final_net_profit_quote DECIMAL(30, 12) NOT NULL DEFAULT 0,
			final_net_profit_pct DECIMAL(20, 8) NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMP NOT NULL DEFAULT NOW(),
			detail JSONB DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS path_blacklist (
			id SERIAL PRIMARY KEY,
			asset VARCHAR(20) NOT NULL,
			from_venue VARCHAR(50) NOT NULL,
			to_venue VARCHAR(50) NOT NULL,
			network VARCHAR(30) NOT NULL,
			reason TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT NOW(),
			UNIQUE (asset, from_venue, to_venue, network)
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// cleanupTestTables truncates all test tables
func cleanupTestTables(db *sql.DB) {
	for _, table := range []string{"trades", "path_blacklist"} {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}
