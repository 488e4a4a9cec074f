package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/market"
	"github.com/mky2266/mats/trader/types"
)

// PageSize is the number of candles requested per history page
const PageSize = 1000

// Downloader pages through historical candles
type Downloader struct {
	Source types.HistorySource
	Pacing time.Duration // Delay between pages
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Download fetches candles with open time in [start, end), ascending and
// without duplicates
func (d *Downloader) Download(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]types.Candle, error) {
	frame, err := market.TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var out []types.Candle
	since := start
	for since.Before(end) {
		page, err := d.Source.CandlesSince(ctx, symbol, timeframe, since, PageSize)
		if err != nil {
			return out, fmt.Errorf("download %s %s candles since %s: %w", symbol, timeframe, since.Format(time.RFC3339), err)
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			if c.OpenTime.Before(since) || !c.OpenTime.Before(end) {
				continue
			}
			if n := len(out); n > 0 && !c.OpenTime.After(out[n-1].OpenTime) {
				continue
			}
			out = append(out, c)
		}

		next := page[len(page)-1].OpenTime.Add(frame)
		if !next.After(since) || len(page) < PageSize {
			break
		}
		since = next
		logger.Debugf("[Backtest] %s %s: %d candles so far", symbol, timeframe, len(out))
		if err := sleep(ctx, d.Pacing); err != nil {
			return out, err
		}
	}
	return out, nil
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
