package pool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/market"
	"github.com/mky2266/mats/trader/types"
)

// leveragedTokenMarkers mark leveraged-token symbols that never enter the pool
var leveragedTokenMarkers = []string{"UP", "DOWN", "BULL", "BEAR"}

// MarketSource is what the scanner reads from the venue
type MarketSource interface {
	types.PriceSource
	PerpetualSymbols(ctx context.Context) ([]string, error)
	QuoteVolumes24h(ctx context.Context) (map[string]float64, error)
}

// Scanner refreshes the candidate pool file
type Scanner struct {
	cfg    config.ScannerConfig
	src    MarketSource
	path   string
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	volTF  string
	volBar int
}

// NewScanner writes to path, the file the rotation selector reads
func NewScanner(cfg config.ScannerConfig, src MarketSource, path string) *Scanner {
	return &Scanner{
		cfg:    cfg,
		src:    src,
		path:   path,
		now:    time.Now,
		sleep:  sleepContext,
		volTF:  "1h",
		volBar: cfg.ATRPeriod + 10,
	}
}

// IsLeveragedToken reports whether the base asset is a leveraged token such
// as BTCUP or ETHBEAR. The underlying must be at least three letters, so JUP
// is not one.
func IsLeveragedToken(symbol string) bool {
	base := strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
	for _, m := range leveragedTokenMarkers {
		if strings.HasSuffix(base, m) && len(base)-len(m) >= 3 {
			return true
		}
	}
	return false
}

// TopByVolume keeps the n symbols with the highest 24h quote volume.
// Symbols without a volume and leveraged tokens are dropped.
func TopByVolume(symbols []string, volumes map[string]float64, n int) []string {
	kept := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if IsLeveragedToken(s) || volumes[s] <= 0 {
			continue
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool { return volumes[kept[i]] > volumes[kept[j]] })
	if n > 0 && len(kept) > n {
		kept = kept[:n]
	}
	return kept
}

// Scan ranks the perpetuals, measures each one and returns the coins.
// A symbol whose data cannot be read is skipped with a warning.
func (s *Scanner) Scan(ctx context.Context) ([]CoinInfo, error) {
	symbols, err := s.src.PerpetualSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list perpetuals: %w", err)
	}
	volumes, err := s.src.QuoteVolumes24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get 24h volumes: %w", err)
	}
	top := TopByVolume(symbols, volumes, s.cfg.TopN)
	logger.Infof("🔍 [Scanner] %d perpetuals, scanning top %d by 24h volume", len(symbols), len(top))

	coins := make([]CoinInfo, 0, len(top))
	for i, symbol := range top {
		if i > 0 && s.cfg.RequestPacing > 0 {
			if err := s.sleep(ctx, s.cfg.RequestPacing); err != nil {
				return coins, err
			}
		}
		coin, err := s.measure(ctx, symbol)
		if err != nil {
			logger.Warnf("⚠️ [Scanner] %s skipped: %v", symbol, err)
			continue
		}
		coin.QuoteVolume24h = volumes[symbol]
		coins = append(coins, coin)
		logger.Debugf("[Scanner] %s price %.6g vol4h %.0f volatility %.4f", symbol, coin.Price, coin.Volume4h, coin.VolatilityScore)
	}
	return coins, nil
}

// measure reads the last 4h bar and the 1h ATR of one symbol
func (s *Scanner) measure(ctx context.Context, symbol string) (CoinInfo, error) {
	bars, err := s.src.Candles(ctx, symbol, s.cfg.Timeframe, 2)
	if err != nil {
		return CoinInfo{}, err
	}
	if len(bars) == 0 {
		return CoinInfo{}, types.InsufficientData("no %s candles for %s", s.cfg.Timeframe, symbol)
	}
	last := bars[len(bars)-1]
	coin := CoinInfo{
		Symbol:    symbol,
		Price:     last.Close,
		Volume4h:  last.Volume,
		Timestamp: last.OpenTime.UnixMilli(),
	}

	hourly, err := s.src.Candles(ctx, symbol, s.volTF, s.volBar)
	if err != nil {
		return coin, err
	}
	atr, err := market.ATR(hourly, s.cfg.ATRPeriod)
	if err != nil {
		return coin, err
	}
	coin.VolatilityScore = market.VolatilityScore(atr, last.Close)
	return coin, nil
}

// ScanAndSave runs one scan and writes the pool file
func (s *Scanner) ScanAndSave(ctx context.Context) error {
	coins, err := s.Scan(ctx)
	if err != nil {
		return err
	}
	if len(coins) == 0 {
		return fmt.Errorf("scan produced no coins, keeping %s", s.path)
	}
	return Save(s.path, coins, s.now())
}

// Run scans immediately and then on every interval until ctx is cancelled
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.ScanAndSave(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorf("❌ [Scanner] Scan failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
