package pool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/state"
)

// staleAfter is the age past which a pool is still used but flagged
const staleAfter = 24 * time.Hour

// CoinPoolCache is the ranked candidate list written by the scanner
type CoinPoolCache struct {
	Coins      []CoinInfo `json:"coins"`
	FetchedAt  time.Time  `json:"fetched_at"`
	SourceType string     `json:"source_type"` // "scanner" or "legacy"
}

// CoinInfo one candidate symbol
type CoinInfo struct {
	Symbol          string  `json:"symbol"`                     // Normalized pair, e.g. BTCUSDT
	Price           float64 `json:"price"`                      // Last close
	Volume4h        float64 `json:"volume_4h"`                  // Quote volume of the last 4h bar, 0 if unknown
	QuoteVolume24h  float64 `json:"quote_volume_24h,omitempty"` // 24h quote volume used for ranking
	VolatilityScore float64 `json:"volatilityScore,omitempty"`  // ATR/price, 0 if not computed
	Timestamp       int64   `json:"timestamp"`                  // Open time of the last bar (ms)
}

// Load reads a pool file. Both the wrapped cache form and a bare JSON array
// of coins are accepted. Symbols are normalized.
func Load(path string) (*CoinPoolCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coin pool %s: %w", path, err)
	}

	var cache CoinPoolCache
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &cache.Coins); err != nil {
			return nil, fmt.Errorf("failed to parse coin pool %s: %w", path, err)
		}
		cache.SourceType = "legacy"
		if st, err := os.Stat(path); err == nil {
			cache.FetchedAt = st.ModTime()
		}
	} else if err := json.Unmarshal(trimmed, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse coin pool %s: %w", path, err)
	}

	for i := range cache.Coins {
		cache.Coins[i].Symbol = NormalizeSymbol(cache.Coins[i].Symbol)
	}

	age := time.Since(cache.FetchedAt)
	if age > staleAfter {
		logger.Warnf("⚠️  [Rotation] Coin pool %s is old (%.1f hours ago), but still usable", path, age.Hours())
	} else {
		logger.Debugf("📂 [Rotation] Coin pool %s timestamp: %s (%.1f minutes ago)",
			path, cache.FetchedAt.Format("2006-01-02 15:04:05"), age.Minutes())
	}
	return &cache, nil
}

// Save writes coins sorted by 4h volume descending, atomically
func Save(path string, coins []CoinInfo, now time.Time) error {
	sorted := make([]CoinInfo, len(coins))
	copy(sorted, coins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Volume4h > sorted[j].Volume4h
	})

	cache := CoinPoolCache{Coins: sorted, FetchedAt: now, SourceType: "scanner"}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize coin pool: %w", err)
	}
	if err := state.WriteAtomic(path, data, 0o644); err != nil {
		return err
	}
	logger.Infof("💾 [Scanner] Coin pool saved to %s (%d coins)", path, len(sorted))
	return nil
}

// HighestVolatility returns the coin with the largest volatility score
func (c *CoinPoolCache) HighestVolatility() (CoinInfo, bool) {
	if c == nil || len(c.Coins) == 0 {
		return CoinInfo{}, false
	}
	best := c.Coins[0]
	for _, coin := range c.Coins[1:] {
		if coin.VolatilityScore > best.VolatilityScore {
			best = coin
		}
	}
	return best, true
}

// Symbols lists the coin symbols in file order
func (c *CoinPoolCache) Symbols() []string {
	out := make([]string, 0, len(c.Coins))
	for _, coin := range c.Coins {
		out = append(out, coin.Symbol)
	}
	return out
}

// NormalizeSymbol converts "dusk", "DUSK/USDT" or "DUSK/USDT:USDT" to "DUSKUSDT"
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.ReplaceAll(symbol, " ", ""))
	if i := strings.Index(symbol, ":"); i >= 0 {
		symbol = symbol[:i]
	}
	symbol = strings.ReplaceAll(symbol, "/", "")
	if symbol == "" {
		return ""
	}
	if !strings.HasSuffix(symbol, "USDT") {
		symbol += "USDT"
	}
	return symbol
}
