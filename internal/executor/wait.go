package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crossarb/internal/balance"
	"crossarb/internal/exchange"
	"crossarb/pkg/utils"
)

// waitForIncrease ждёт чистого прироста баланса счёта не меньше expected
//
// baseline снимается вызывающим кодом ДО инициирования перевода: быстрая
// доставка между снятием и первым опросом иначе осталась бы невидимой.
// Неудачный опрос не сбрасывает baseline и не прерывает ожидание.
func waitForIncrease(ctx context.Context, balances *balance.Manager, venue, asset string, purpose exchange.AccountPurpose, baseline, expected decimal.Decimal, interval, maxWait time.Duration, log *zap.Logger) (decimal.Decimal, error) {
	deadline := time.Now().Add(maxWait)
	increase := decimal.Zero

	for {
		current, err := balances.AccountFree(ctx, venue, asset, purpose)
		if err != nil {
			log.Debug("arrival poll failed",
				zap.String("venue", venue), zap.String("asset", asset), zap.Error(err))
		} else {
			increase = current.Sub(baseline)
			if utils.GTE(increase, expected) {
				log.Info("funds arrived",
					zap.String("venue", venue), zap.String("asset", asset),
					zap.String("increase", increase.String()))
				return increase, nil
			}
		}

		if time.Now().After(deadline) {
			return increase, fmt.Errorf("arrival timeout on %s: %s increased by %s, expected %s",
				venue, asset, increase, expected)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return increase, ctx.Err()
		case <-timer.C:
		}
	}
}
