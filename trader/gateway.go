package trader

import (
	"context"

	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
	"github.com/mky2266/mats/trader/types"
)

// NewGateway builds the order gateway for the configured venue. In sim mode
// orders stay in a paper account priced from the venue's public market data.
// The venue client is returned too, for market scans and history downloads.
func NewGateway(ctx context.Context, cfg config.ExchangeConfig) (types.Gateway, *FuturesTrader) {
	venue := NewFuturesTrader(cfg.APIKey, cfg.SecretKey, cfg.Testnet)
	if err := venue.SyncTime(ctx); err != nil {
		logger.Warnf("⚠️ Failed to sync server time: %v", err)
	}
	if cfg.SimMode {
		logger.Infof("🧪 Sim mode: paper account %.2f, fee %.4f%%", cfg.SimBalance, cfg.SimFeeRate*100)
		return NewPaperGateway(venue, cfg.SimBalance, cfg.SimFeeRate), venue
	}
	logger.Infof("🔗 Live trading on %s (testnet: %v)", cfg.Name, cfg.Testnet)
	return venue, venue
}
