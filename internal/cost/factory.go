package cost

import (
	"fmt"
	"strings"

	"github.com/finresearch/research-assistant/internal/config"
)

// NewStore creates the store selected by configuration.
func NewStore(cfg config.CostConfig) (Store, error) {
	switch strings.ToLower(cfg.Store) {
	case "memory", "":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown cost store: %s", cfg.Store)
	}
}

// LedgerConfigFrom builds ledger parameters from configuration.
func LedgerConfigFrom(cfg config.CostConfig) LedgerConfig {
	return LedgerConfig{
		DailyLimitUSD: cfg.DailyLimitUSD,
		ResetHour:     cfg.ResetHour,
		Pricing:       PricingFromConfig(cfg.Pricing),
	}
}
