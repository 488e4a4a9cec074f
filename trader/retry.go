package trader

import (
	"context"
	"time"

	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/trader/types"
)

// ReadRetry retries read calls on transient network failures. Mutating calls
// are never wrapped: a retried order could be placed twice.
type ReadRetry struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

// DefaultReadRetry tries three times, two seconds apart
func DefaultReadRetry() ReadRetry {
	return ReadRetry{Attempts: 3, Backoff: 2 * time.Second}
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempts run out
func (r ReadRetry) Do(ctx context.Context, op string, fn func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil || !types.IsRetriable(err) {
			return err
		}
		if i < attempts {
			logger.Warnf("⚠️ %s failed (attempt %d/%d): %v, retrying in %s", op, i, attempts, err, r.Backoff)
			if serr := sleep(ctx, r.Backoff); serr != nil {
				return err
			}
		}
	}
	return err
}

// RetryingPrices wraps a price source with read retries
type RetryingPrices struct {
	Source types.PriceSource
	Retry  ReadRetry
}

func (p *RetryingPrices) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := p.Retry.Do(ctx, "LastPrice "+symbol, func() error {
		var err error
		price, err = p.Source.LastPrice(ctx, symbol)
		return err
	})
	return price, err
}

func (p *RetryingPrices) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	var candles []types.Candle
	err := p.Retry.Do(ctx, "Candles "+symbol, func() error {
		var err error
		candles, err = p.Source.Candles(ctx, symbol, timeframe, limit)
		return err
	})
	return candles, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
