package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"crossarb/internal/analyzer"
	"crossarb/internal/balance"
	"crossarb/internal/executor"
	"crossarb/internal/models"
	"crossarb/internal/scanner"
	ws "crossarb/internal/websocket"
)

// errSnapshotMissing помечает площадку, не вернувшую снимок балансов
var errSnapshotMissing = errors.New("balance snapshot unavailable")

// Config - параметры оркестрации
type Config struct {
	// MaxCycles ограничивает число циклов; 0 = работать до останова
	MaxCycles int64

	// CycleSleep - пауза между циклами
	CycleSleep time.Duration

	// PostTradeCooldown - дополнительная пауза после исполненной сделки
	PostTradeCooldown time.Duration

	DryRun bool
}

// TradeSink - получатель терминальных сделок (журнал NDJSON)
type TradeSink interface {
	Record(trade *models.CompletedArbitrageLog) error
}

// TradeArchive - долговременное хранилище сделок (БД); опционально
type TradeArchive interface {
	Create(trade *models.CompletedArbitrageLog) (int64, error)
}

// Broadcaster - рассылка уведомлений операторам; опционально
type Broadcaster interface {
	Broadcast(message interface{})
}

// Engine - однопоточный цикл scan -> analyze -> execute
//
// За цикл исполняется не более одной сделки; fan-out параллелизм живёт
// внутри компонентов (снимки балансов, тикеры), а сам конвейер
// последовательный. Пауза останавливает запуск новых сделок, текущая
// доживает до терминального статуса.
type Engine struct {
	scanner  *scanner.Scanner
	analyzer *analyzer.Analyzer
	executor *executor.Executor
	balances *balance.Manager

	journal TradeSink
	archive TradeArchive // nil когда БД выключена
	hub     Broadcaster  // nil когда hub не поднят

	cfg Config
	log *zap.Logger

	running atomic.Bool
	paused  atomic.Bool
	cycle   atomic.Int64

	mu          sync.Mutex
	startedAt   time.Time
	lastCycleAt time.Time
}

// New создаёт движок
func New(sc *scanner.Scanner, an *analyzer.Analyzer, ex *executor.Executor, bm *balance.Manager, journal TradeSink, archive TradeArchive, hub Broadcaster, cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		scanner:  sc,
		analyzer: an,
		executor: ex,
		balances: bm,
		journal:  journal,
		archive:  archive,
		hub:      hub,
		cfg:      cfg,
		log:      log.Named("engine"),
	}
}

// Run работает до отмены контекста или исчерпания MaxCycles
//
// Перед первым циклом сканер строит множество общих пар; ошибка
// инициализации фатальна.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.scanner.Init(ctx); err != nil {
		return err
	}

	e.running.Store(true)
	defer e.running.Store(false)

	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.log.Info("engine started",
		zap.Int64("max_cycles", e.cfg.MaxCycles),
		zap.Duration("cycle_sleep", e.cfg.CycleSleep),
		zap.Bool("dry_run", e.cfg.DryRun))

	for {
		if err := ctx.Err(); err != nil {
			e.log.Info("engine stopped", zap.Int64("cycles", e.cycle.Load()))
			return nil
		}

		executed := e.runCycle(ctx)

		if e.cfg.MaxCycles > 0 && e.cycle.Load() >= e.cfg.MaxCycles {
			e.log.Info("cycle budget exhausted", zap.Int64("cycles", e.cycle.Load()))
			return nil
		}

		sleep := e.cfg.CycleSleep
		if executed {
			sleep += e.cfg.PostTradeCooldown
		}
		if !sleepCtx(ctx, sleep) {
			e.log.Info("engine stopped", zap.Int64("cycles", e.cycle.Load()))
			return nil
		}
	}
}

// runCycle выполняет один цикл; true если была исполнена сделка
func (e *Engine) runCycle(ctx context.Context) bool {
	start := time.Now()
	cycle := e.cycle.Add(1)

	e.mu.Lock()
	e.lastCycleAt = start
	e.mu.Unlock()

	snapshots := e.balances.Snapshot(ctx, true)
	for venue, snap := range snapshots {
		usd, _ := snap.TotalUSD.Float64()
		UpdateVenueBalance(venue, usd)
	}
	for _, venue := range e.balances.VenueNames() {
		if _, ok := snapshots[venue]; !ok {
			RecordSnapshotFailure(venue)
			e.notify(ws.NewVenueErrorMessage(venue, "balance_snapshot", errSnapshotMissing))
		}
	}

	opps := e.scanner.ScanOnce(ctx)
	best := e.analyzer.Analyze(ctx, opps)

	executed := false
	if best != nil {
		if e.paused.Load() {
			e.log.Info("opportunity skipped: engine paused",
				zap.String("opp", best.Key().String()))
		} else {
			e.executeOne(ctx, best)
			executed = true
		}
	}

	duration := time.Since(start)
	RecordCycle(duration.Seconds(), len(opps))
	UpdateActiveTrades(e.executor.Active().Count())
	e.notify(ws.NewCycleMessage(cycle, len(snapshots), len(opps), boolToInt(executed), duration))

	e.log.Debug("cycle complete",
		zap.Int64("cycle", cycle),
		zap.Int("opportunities", len(opps)),
		zap.Bool("executed", executed),
		zap.Duration("duration", duration))

	return executed
}

// executeOne проводит одну возможность через исполнителя и
// раскладывает терминальную сделку по журналу, БД и hub
func (e *Engine) executeOne(ctx context.Context, opp *models.Opportunity) {
	e.notify(ws.NewTradeOpenMessage(opp))

	trade := e.executor.Execute(ctx, opp)
	if trade == nil {
		return
	}

	profit, _ := trade.FinalNetProfitQuote.Float64()
	RecordExecution(trade.Status, profit)

	if err := e.journal.Record(trade); err != nil {
		e.log.Error("journal write failed",
			zap.String("opp", trade.Opportunity.String()),
			zap.Error(err))
	}

	if e.archive != nil {
		if _, err := e.archive.Create(trade); err != nil {
			e.log.Error("trade archive write failed",
				zap.String("opp", trade.Opportunity.String()),
				zap.Error(err))
		}
	}

	if trade.TransferID != "" {
		e.notify(ws.NewRebalanceMessage(
			opp.BaseAsset(), opp.BuyVenue, opp.SellVenue,
			trade.NetworkUsed, trade.BaseReceivedOnSellVenue))
	}
	e.notify(ws.NewTradeResultMessage(trade))

	e.log.Info("trade finished",
		zap.String("opp", trade.Opportunity.String()),
		zap.String("status", trade.Status),
		zap.String("profit_quote", trade.FinalNetProfitQuote.String()))
}

// notify рассылает сообщение, если hub подключен
func (e *Engine) notify(message interface{}) {
	if e.hub != nil {
		e.hub.Broadcast(message)
	}
}

// ============ Операторское управление (EngineControl) ============

// Status возвращает снимок состояния движка
func (e *Engine) Status() *models.EngineStatus {
	e.mu.Lock()
	startedAt, lastCycleAt := e.startedAt, e.lastCycleAt
	e.mu.Unlock()

	return &models.EngineStatus{
		Running:      e.running.Load(),
		Paused:       e.paused.Load(),
		DryRun:       e.cfg.DryRun,
		Cycle:        e.cycle.Load(),
		ActiveTrades: e.executor.Active().Count(),
		Venues:       e.balances.VenueNames(),
		StartedAt:    startedAt,
		LastCycleAt:  lastCycleAt,
	}
}

// Pause останавливает запуск новых сделок; false если уже на паузе
func (e *Engine) Pause() bool {
	if !e.paused.CompareAndSwap(false, true) {
		return false
	}
	e.log.Info("engine paused")
	return true
}

// Resume снимает паузу; false если паузы не было
func (e *Engine) Resume() bool {
	if !e.paused.CompareAndSwap(true, false) {
		return false
	}
	e.log.Info("engine resumed")
	return true
}

// sleepCtx спит с учётом отмены; false если контекст отменён
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
