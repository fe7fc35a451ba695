package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crossarb/internal/analyzer"
	"crossarb/internal/api"
	"crossarb/internal/balance"
	"crossarb/internal/config"
	"crossarb/internal/engine"
	"crossarb/internal/exchange"
	"crossarb/internal/executor"
	"crossarb/internal/journal"
	"crossarb/internal/network"
	"crossarb/internal/rebalance"
	"crossarb/internal/repository"
	"crossarb/internal/scanner"
	ws "crossarb/internal/websocket"
	"crossarb/pkg/ratelimit"
	"crossarb/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Шлюзы площадок: бумажный кластер в dry-run, реестр коннекторов в live
	gateways, venues, err := buildGateways(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build venue gateways", zap.Error(err))
	}
	logger.Info("venues ready",
		zap.Strings("venues", venueNames(gateways)),
		zap.Bool("dry_run", cfg.Venues.DryRun))

	quote := cfg.Trading.Quote

	// Оракул цен: референсная площадка - первая по имени
	ref := gateways[venueNames(gateways)[0]]
	oracle := balance.NewOracle(ref, quote, cfg.Tables.StableAssets, cfg.Tables.EstimatedPrices, 0, logger)
	balances := balance.NewManager(venues, oracle, quote, logger)

	norm := network.NewNormalizer(mergedAliases(cfg.Tables.NetworkAliases))

	// Метаданные валют кэшируются per-venue: селектор сетей и квантизатор
	// дёргают их на каждое обогащение
	currencies := make(map[string]*exchange.CurrencyCache, len(gateways))
	for name, gw := range gateways {
		currencies[name] = exchange.NewCurrencyCache(gw, cfg.Timing.CurrencyCacheTTL)
	}
	provider := func(ctx context.Context, venue string) (map[string]*exchange.Currency, error) {
		cache, ok := currencies[venue]
		if !ok {
			return nil, fmt.Errorf("unknown venue %q", venue)
		}
		return cache.Get(ctx)
	}
	selector := network.NewSelector(norm, network.SelectorConfig{
		AssetUnavailable:  config.SetMap(cfg.Tables.AssetUnavailable),
		TokenRestrictions: cfg.Tables.TokenRestrictions,
		StaticFees:        cfg.Tables.StaticWithdrawFees,
		GeneralPreference: cfg.Tables.GeneralNetworkPreference,
		TokenPreference:   cfg.Tables.TokenNetworkPreference,
		QuoteAsset:        quote,
	}, provider, oracle, logger)

	scan := scanner.New(gateways, scanner.Config{
		Quote:    quote,
		MinGross: cfg.Trading.MinGross,
		MaxGross: cfg.Trading.MaxGross,
	}, logger)

	// Persistence (опционально): архив сделок и черный список путей в БД
	pathBlacklist := config.Set(cfg.Tables.PathBlacklist)
	var archive engine.TradeArchive
	var tradeStore *repository.TradeRepository
	deps := &api.Dependencies{
		Balances:      balances,
		AuthTokenHash: cfg.Security.APITokenHash,
		Log:           logger,
	}
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

		tradeStore = repository.NewTradeRepository(db)
		archive = tradeStore
		pathRepo := repository.NewPathBlacklistRepository(db)
		deps.Trades = tradeStore
		deps.Blacklist = pathRepo

		// Записи из БД вливаются в настроенный черный список путей
		entries, err := pathRepo.GetAll()
		if err != nil {
			logger.Fatal("failed to load path blacklist", zap.Error(err))
		}
		if pathBlacklist == nil && len(entries) > 0 {
			pathBlacklist = make(map[string]bool, len(entries))
		}
		for _, e := range entries {
			pathBlacklist[e.PathKey()] = true
		}
		logger.Info("path blacklist loaded",
			zap.Int("from_db", len(entries)), zap.Int("total", len(pathBlacklist)))
	} else {
		deps.Blacklist = engine.NewMemoryPathStore()
	}

	an := analyzer.New(scan, selector, oracle, gateways, analyzer.Config{
		StabilityCycles:  cfg.Trading.StabilityCycles,
		TopN:             cfg.Trading.TopN,
		MinNet:           cfg.Trading.MinNet,
		TradeNotional:    cfg.Trading.TradeAmount,
		MinLiquidity:     cfg.Trading.MinLiquidity,
		SlippagePct:      cfg.Trading.SlippagePct,
		DefaultTakerPct:  cfg.Trading.DefaultTakerPct,
		AssetBlacklist:   config.SetMap(cfg.Tables.AssetBlacklist),
		PathBlacklist:    pathBlacklist,
		Whitelist:        config.Set(cfg.Tables.Whitelist),
		EnforceWhitelist: cfg.Trading.EnforceWhitelist,
	}, logger)

	quantizer := rebalance.NewQuantizer(provider, scan, func(v string) *exchange.VenueProfile {
		return venues[v].Profile
	}, quote)
	reb := rebalance.New(balances, selector, quantizer, norm, rebalance.NewOperationSet(), scan, rebalance.Config{
		Quote:             quote,
		ReserveBuffer:     cfg.Trading.ReserveBuffer,
		TransferFeeBuffer: cfg.Trading.TransferFeeBuffer,
		JITMinConversion:  cfg.Trading.JITMinConversion,
		JITAssets:         cfg.Trading.JITAssets,
		MinLiquidity:      cfg.Trading.MinLiquidity,
		SlippagePct:       cfg.Trading.SlippagePct,
		MemoRequired:      config.SetMap(cfg.Tables.MemoRequired),
	}, logger)

	exec := executor.New(balances, reb, quantizer, scan, executor.Config{
		Quote:               quote,
		TradeAmount:         cfg.Trading.TradeAmount,
		MinEffectiveTrade:   cfg.Trading.MinEffectiveTrade,
		JITMinConversion:    cfg.Trading.JITMinConversion,
		JITFundingWait:      cfg.Timing.JITFundingWait,
		BaseTransferWait:    cfg.Timing.BaseTransferWaitOrDefault(),
		ArrivalPollInterval: cfg.Timing.ArrivalPollInterval,
		OrderPollAttempts:   cfg.Timing.OrderPollAttempts,
		OrderPollDelay:      cfg.Timing.OrderPollDelay,
		CostOrderDenylist:   config.Set(cfg.Trading.CostOrderDenylist),
		RetryPartialBuy:     cfg.Trading.RetryPartialBuy,
		HoldOpenOrders:      cfg.Trading.HoldOpenOrders,
	}, logger)

	// Журнал сделок
	var sink engine.TradeSink = journal.Nop{}
	if cfg.Venues.JournalPath != "" {
		w, err := journal.Open(cfg.Venues.JournalPath, logger)
		if err != nil {
			logger.Fatal("failed to open trade journal", zap.Error(err))
		}
		defer w.Close()
		sink = w
	}

	// WebSocket hub для операторских уведомлений
	hub := ws.NewHub(logger)
	go hub.Run()
	defer hub.Stop()
	deps.Hub = hub

	eng := engine.New(scan, an, exec, balances, sink, archive, hub, engine.Config{
		MaxCycles:         cfg.Timing.MaxCycles,
		CycleSleep:        cfg.Timing.CycleSleep,
		PostTradeCooldown: cfg.Timing.PostTradeCooldown,
		DryRun:            cfg.Venues.DryRun,
	}, logger)
	deps.Engine = eng

	// Операторский HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("starting operator server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("operator server failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		if err := <-engineDone; err != nil {
			logger.Error("engine stopped with error", zap.Error(err))
		}
	case err := <-engineDone:
		if err != nil {
			logger.Error("engine stopped with error", zap.Error(err))
		} else {
			logger.Info("engine finished")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("operator server forced to shutdown", zap.Error(err))
	}

	logger.Info("exited")
}

// buildGateways создаёт шлюзы площадок
//
// Dry-run строит бумажный кластер из seed-файла; live создаёт
// коннекторы из реестра и ограничивает частоту вызовов per-venue.
func buildGateways(cfg *config.Config, logger *zap.Logger) (map[string]exchange.Gateway, map[string]balance.Venue, error) {
	gateways := make(map[string]exchange.Gateway)
	venues := make(map[string]balance.Venue)

	if cfg.Venues.DryRun {
		seed, err := exchange.LoadSeed(cfg.Venues.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		_, paper := seed.Build()
		for name, v := range paper {
			gateways[name] = v
			venues[name] = balance.Venue{Gateway: v, Profile: v.Profile()}
		}
		return gateways, venues, nil
	}

	for name, creds := range cfg.Venues.Credentials {
		gw, profile, err := exchange.NewGateway(name, exchange.Credentials{
			APIKey:   creds.APIKey,
			Secret:   creds.Secret,
			Password: creds.Password,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		limited := exchange.NewLimitedGateway(gw, ratelimit.New(cfg.Venues.RateLimit, cfg.Venues.RateBurst))
		gateways[name] = limited
		venues[name] = balance.Venue{Gateway: limited, Profile: profile}
	}
	return gateways, venues, nil
}

// mergedAliases накладывает операторские алиасы сетей на встроенные
func mergedAliases(extra map[string][]string) map[string][]string {
	merged := network.DefaultAliases()
	for canonical, raws := range extra {
		merged[canonical] = append(merged[canonical], raws...)
	}
	return merged
}

func venueNames(gateways map[string]exchange.Gateway) []string {
	names := make([]string, 0, len(gateways))
	for name := range gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
