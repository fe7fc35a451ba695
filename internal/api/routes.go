package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crossarb/internal/api/handlers"
	"crossarb/internal/api/middleware"
	ws "crossarb/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
//
// Необязательные зависимости (nil) просто не регистрируют свои
// маршруты: бот без БД не отдаёт /trades, бот без hub не отдаёт
// /ws/stream.
type Dependencies struct {
	Engine    handlers.EngineControl
	Balances  handlers.BalanceSource
	Trades    handlers.TradeStore
	Blacklist handlers.PathBlacklistStore
	Hub       *ws.Hub

	// bcrypt-хеш операторского токена; пустая строка отключает auth
	AuthTokenHash string

	Log *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET  /status - снимок состояния движка
//	├── POST /pause - приостановить запуск новых сделок
//	├── POST /resume - возобновить
//	├── GET  /balances - балансы площадок (?usd=true для оценки)
//	├── GET  /trades - последние терминальные сделки (?limit=N)
//	├── GET  /trades/stats - агрегированная сводка
//	└── /path-blacklist/
//	    ├── GET    / - черный список путей перевода
//	    ├── POST   / - добавить путь
//	    └── DELETE /{asset}/{from}/{to}/{network} - удалить путь
//
// /ws/stream - WebSocket поток уведомлений
// /metrics   - Prometheus метрики
// /health    - liveness probe
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1, если настроен хеш токена)
func SetupRoutes(deps *Dependencies) *mux.Router {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS)

	// API v1 routes
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.Auth(deps.AuthTokenHash))

	if deps.Engine != nil {
		statusHandler := handlers.NewStatusHandler(deps.Engine)
		apiRouter.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
		apiRouter.HandleFunc("/pause", statusHandler.Pause).Methods("POST")
		apiRouter.HandleFunc("/resume", statusHandler.Resume).Methods("POST")
	}

	if deps.Balances != nil {
		balanceHandler := handlers.NewBalanceHandler(deps.Balances)
		apiRouter.HandleFunc("/balances", balanceHandler.GetBalances).Methods("GET")
	}

	if deps.Trades != nil {
		tradeHandler := handlers.NewTradeHandler(deps.Trades)
		apiRouter.HandleFunc("/trades", tradeHandler.GetTrades).Methods("GET")
		apiRouter.HandleFunc("/trades/stats", tradeHandler.GetStats).Methods("GET")
	}

	if deps.Blacklist != nil {
		blacklistHandler := handlers.NewBlacklistHandler(deps.Blacklist)
		apiRouter.HandleFunc("/path-blacklist", blacklistHandler.GetBlacklist).Methods("GET")
		apiRouter.HandleFunc("/path-blacklist", blacklistHandler.AddToBlacklist).Methods("POST")
		apiRouter.HandleFunc("/path-blacklist/{asset}/{from}/{to}/{network}", blacklistHandler.RemoveFromBlacklist).Methods("DELETE")
	}

	// WebSocket route
	if deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
