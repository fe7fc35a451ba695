package exchange

import (
	"context"
	"sync"
	"time"
)

// CurrencyCache - кэш метаданных валют одной площадки с TTL
//
// fetch_currencies - тяжёлый вызов, а селектор сетей дёргает его на каждое
// обогащение. Кэш single-flighted: конкурентные вызовы при протухшем
// значении делят один запрос к площадке.
type CurrencyCache struct {
	gw  Gateway
	ttl time.Duration

	mu        sync.Mutex
	data      map[string]*Currency
	fetchedAt time.Time
	inflight  chan struct{} // закрыт по завершении текущего запроса
}

// NewCurrencyCache создаёт кэш поверх шлюза
func NewCurrencyCache(gw Gateway, ttl time.Duration) *CurrencyCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CurrencyCache{gw: gw, ttl: ttl}
}

// Get возвращает метаданные валют, обновляя кэш при необходимости
func (c *CurrencyCache) Get(ctx context.Context) (map[string]*Currency, error) {
	for {
		c.mu.Lock()

		if c.data != nil && time.Since(c.fetchedAt) < c.ttl {
			data := c.data
			c.mu.Unlock()
			return data, nil
		}

		if c.inflight != nil {
			// Кто-то уже обновляет - ждём его результат
			done := c.inflight
			c.mu.Unlock()

			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		done := make(chan struct{})
		c.inflight = done
		c.mu.Unlock()

		data, err := c.gw.FetchCurrencies(ctx)

		c.mu.Lock()
		if err == nil {
			c.data = data
			c.fetchedAt = time.Now()
		}
		c.inflight = nil
		c.mu.Unlock()
		close(done)

		if err != nil {
			// Протухшее значение лучше отказа
			c.mu.Lock()
			stale := c.data
			c.mu.Unlock()
			if stale != nil {
				return stale, nil
			}
			return nil, err
		}
		return data, nil
	}
}

// Invalidate сбрасывает кэш (после операций, меняющих метаданные)
func (c *CurrencyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	c.fetchedAt = time.Time{}
}
