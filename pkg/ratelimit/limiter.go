package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - Token Bucket rate limiter для REST API бирж
//
// Алгоритм Token Bucket:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость ведра = burst
// - Каждый запрос потребляет 1 токен
// - Если токенов нет, запрос ждёт
//
// Burst важен для сканера: снятие стаканов по топ-N возможностей идёт
// пачкой параллельных запросов, дальше поток выравнивается.
//
// Использование:
//
//	limiter := New(10, 20)      // 10 req/sec, burst 20
//	err := limiter.Wait(ctx)    // блокирующее ожидание
//	if limiter.Allow() { ... }  // неблокирующая проверка
type Limiter struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	mu         sync.Mutex
}

// New создаёт rate limiter
//
// rate - запросов в секунду, burst - допустимый всплеск (обычно 2x rate).
// У каждой площадки свой limiter: лимиты бирж независимы.
func New(rate, burst float64) *Limiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}

	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: time.Now(),
	}
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	l.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()

		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}

		// Время до появления следующего токена
		waitTime := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		select {
		case <-time.After(waitTime):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow проверяет доступность токена без блокировки
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	if l.tokens >= 1 {
		l.tokens--
		return true
	}

	return false
}

// Tokens возвращает текущее количество доступных токенов
// Используется метриками для мониторинга давления на API
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Rate возвращает скорость пополнения (токенов/сек)
func (l *Limiter) Rate() float64 {
	return l.rate
}

// SetRate изменяет скорость пополнения токенов
// Потокобезопасно; текущие токены фиксируются по старой скорости
func (l *Limiter) SetRate(rate float64) {
	if rate <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	l.rate = rate
	if l.burst < l.rate {
		l.burst = l.rate
	}
}

// ============================================================
// PerKey - независимые limiter'ы по строковому ключу
// ============================================================

// PerKey управляет набором limiter'ов, по одному на ключ
//
// Ключом служит имя площадки: лимит одной биржи не должен
// тормозить запросы к другой.
type PerKey struct {
	rate     float64
	burst    float64
	limiters map[string]*Limiter
	mu       sync.RWMutex
}

// NewPerKey создаёт набор limiter'ов с одинаковыми параметрами на ключ
func NewPerKey(rate, burst float64) *PerKey {
	return &PerKey{
		rate:     rate,
		burst:    burst,
		limiters: make(map[string]*Limiter),
	}
}

// Get возвращает limiter для ключа, создавая при первом обращении
func (p *PerKey) Get(key string) *Limiter {
	p.mu.RLock()
	l, ok := p.limiters[key]
	p.mu.RUnlock()
	if ok {
		return l
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok = p.limiters[key]; ok {
		return l
	}
	l = New(p.rate, p.burst)
	p.limiters[key] = l
	return l
}

// Wait ожидает токен для указанного ключа
func (p *PerKey) Wait(ctx context.Context, key string) error {
	return p.Get(key).Wait(ctx)
}
