package exchange

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"crossarb/pkg/retry"
)

// Параметры поллинга статуса ордера
const (
	OrderPollAttempts = 10
	OrderPollDelay    = 2 * time.Second
)

// FetchOrderUntilTerminal опрашивает ордер до терминального статуса
//
// Фиксированная задержка между попытками. Терминальный статус
// (closed, canceled, rejected, expired) возвращается сразу.
// OrderNotFound допускает один льготный повтор: часть площадок отдаёт
// свежий ордер с задержкой; второй раз подряд - фатально.
// По исчерпанию попыток возвращается последнее открытое состояние,
// чтобы вызывающий решил судьбу ордера (отмена или удержание).
func FetchOrderUntilTerminal(ctx context.Context, gw Gateway, id, symbol string, attempts int, delay time.Duration, log *zap.Logger) (*Order, error) {
	if attempts <= 0 {
		attempts = OrderPollAttempts
	}
	if delay <= 0 {
		delay = OrderPollDelay
	}

	var last *Order
	notFoundOnce := false

	_, err := retry.DoWithResult(ctx, func() (*Order, error) {
		order, err := gw.FetchOrder(ctx, id, symbol)
		if err != nil {
			var notFound *OrderNotFoundError
			if errors.As(err, &notFound) {
				if notFoundOnce {
					return nil, retry.Permanent(err)
				}
				notFoundOnce = true
				log.Debug("order not visible yet, granting one retry",
					zap.String("venue", gw.Name()), zap.String("order", id))
				return nil, err
			}
			return nil, err
		}
		last = order
		if order.IsTerminal() {
			return order, nil
		}
		return nil, errors.New("order still open")
	}, retry.FixedConfig(attempts, delay))

	if err != nil {
		var permanent *retry.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		if last != nil {
			// Исчерпали попытки на открытом ордере
			return last, nil
		}
		return nil, err
	}
	return last, nil
}
