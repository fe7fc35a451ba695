package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/exchange"
	"crossarb/internal/models"
)

// InitTimeout - расширенный таймаут загрузки рынков
const InitTimeout = 120 * time.Second

// Config - параметры сканера
type Config struct {
	Quote    string          // котируемая валюта (стейблкоин)
	MinGross decimal.Decimal // нижняя граница валовой доходности, %
	MaxGross decimal.Decimal // верхняя граница (отсекает битые тикеры), %
}

// Scanner находит валовые возможности по снимку тикеров
//
// Между вызовами ScanOnce сканер хранит только множество общих пар,
// вычисленное один раз в Init.
type Scanner struct {
	gateways map[string]exchange.Gateway
	cfg      Config
	log      *zap.Logger

	mu      sync.RWMutex
	markets map[string]map[string]*exchange.Market // venue -> symbol -> рынок
	common  map[string][]string                    // "venueA|venueB" (venueA < venueB) -> символы
}

// New создаёт сканер
func New(gateways map[string]exchange.Gateway, cfg Config, log *zap.Logger) *Scanner {
	return &Scanner{
		gateways: gateways,
		cfg:      cfg,
		log:      log.Named("scanner"),
		markets:  make(map[string]map[string]*exchange.Market),
		common:   make(map[string][]string),
	}
}

// Init загружает рынки всех площадок и строит множество общих пар
//
// Фатальные исходы: менее двух площадок с загруженными рынками,
// ни одной общей пары.
func (s *Scanner) Init(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	type result struct {
		venue   string
		markets map[string]*exchange.Market
		err     error
	}
	ch := make(chan result, len(s.gateways))
	var wg sync.WaitGroup
	for name, gw := range s.gateways {
		wg.Add(1)
		go func(name string, gw exchange.Gateway) {
			defer wg.Done()
			m, err := gw.LoadMarkets(initCtx)
			ch <- result{venue: name, markets: m, err: err}
		}(name, gw)
	}
	wg.Wait()
	close(ch)

	s.mu.Lock()
	defer s.mu.Unlock()

	for r := range ch {
		if r.err != nil {
			s.log.Error("markets unavailable", zap.String("venue", r.venue), zap.Error(r.err))
			continue
		}
		s.markets[r.venue] = r.markets
		s.log.Info("markets loaded", zap.String("venue", r.venue), zap.Int("count", len(r.markets)))
	}

	if len(s.markets) < 2 {
		return fmt.Errorf("need at least 2 usable venues, have %d", len(s.markets))
	}

	venues := make([]string, 0, len(s.markets))
	for v := range s.markets {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	total := 0
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			symbols := s.commonSymbols(venues[i], venues[j])
			if len(symbols) == 0 {
				continue
			}
			s.common[venues[i]+"|"+venues[j]] = symbols
			total += len(symbols)
			s.log.Info("common pairs",
				zap.String("a", venues[i]), zap.String("b", venues[j]),
				zap.Int("count", len(symbols)))
		}
	}
	if total == 0 {
		return fmt.Errorf("no common spot pairs in %s across %d venues", s.cfg.Quote, len(venues))
	}
	return nil
}

// commonSymbols возвращает символы, торгуемые на обеих площадках
// ВАЖНО: вызывается под lock'ом
func (s *Scanner) commonSymbols(a, b string) []string {
	var out []string
	for symbol, ma := range s.markets[a] {
		if !s.eligible(ma) {
			continue
		}
		mb, ok := s.markets[b][symbol]
		if !ok || !s.eligible(mb) {
			continue
		}
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (s *Scanner) eligible(m *exchange.Market) bool {
	return m.Quote == s.cfg.Quote && m.Active && m.Spot && !IsLeveragedToken(m.Base)
}

// Market возвращает метаданные рынка площадки (для анализатора и ребалансера)
func (s *Scanner) Market(venue, symbol string) (*exchange.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[venue][symbol]
	return m, ok
}

// Venues возвращает площадки с загруженными рынками
func (s *Scanner) Venues() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.markets))
	for v := range s.markets {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ScanOnce снимает тикеры и возвращает валовые возможности
//
// Тикеры снимаются параллельно по площадкам; отказ площадки выключает
// её пары на этот цикл. Для каждой общей пары проверяются оба
// направления.
func (s *Scanner) ScanOnce(ctx context.Context) []*models.Opportunity {
	tickers := s.fetchAllTickers(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var opps []*models.Opportunity
	for pair, symbols := range s.common {
		venues := strings.SplitN(pair, "|", 2)
		a, b := venues[0], venues[1]
		ta, tb := tickers[a], tickers[b]
		if ta == nil || tb == nil {
			continue
		}
		for _, symbol := range symbols {
			if opp := s.tryDirection(a, b, symbol, ta[symbol], tb[symbol]); opp != nil {
				opps = append(opps, opp)
			}
			if opp := s.tryDirection(b, a, symbol, tb[symbol], ta[symbol]); opp != nil {
				opps = append(opps, opp)
			}
		}
	}

	s.log.Debug("scan complete", zap.Int("opportunities", len(opps)))
	return opps
}

// tryDirection собирает возможность покупка-на-buy / продажа-на-sell
func (s *Scanner) tryDirection(buyVenue, sellVenue, symbol string, buyT, sellT *exchange.Ticker) *models.Opportunity {
	if buyT == nil || sellT == nil {
		return nil
	}
	ask := buyT.BestAsk()
	bid := sellT.BestBid()
	if ask.Sign() <= 0 || bid.Sign() <= 0 || !ask.LessThan(bid) {
		return nil
	}
	opp, err := models.NewOpportunity(buyVenue, sellVenue, symbol, ask, bid, s.cfg.MinGross, s.cfg.MaxGross)
	if err != nil {
		// Вне границ доходности - не возможность
		return nil
	}
	return opp
}

func (s *Scanner) fetchAllTickers(ctx context.Context) map[string]map[string]*exchange.Ticker {
	type result struct {
		venue   string
		tickers map[string]*exchange.Ticker
		err     error
	}

	s.mu.RLock()
	venues := make([]string, 0, len(s.markets))
	for v := range s.markets {
		venues = append(venues, v)
	}
	s.mu.RUnlock()

	ch := make(chan result, len(venues))
	var wg sync.WaitGroup
	for _, name := range venues {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			t, err := s.gateways[name].FetchTickers(ctx, nil)
			ch <- result{venue: name, tickers: t, err: err}
		}(name)
	}
	wg.Wait()
	close(ch)

	out := make(map[string]map[string]*exchange.Ticker)
	for r := range ch {
		if r.err != nil {
			s.log.Warn("tickers unavailable", zap.String("venue", r.venue), zap.Error(r.err))
			continue
		}
		out[r.venue] = r.tickers
	}
	return out
}
