package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig holds the per-(user, currency) trading parameters. It is
// read-only to the engine; a cycle always sees one consistent snapshot.
type StrategyConfig struct {
	UserID           string
	Currency         string
	MaxOpenPositions int
	BuyTimeout       time.Duration
	HighBidGapMin    decimal.Decimal
	CooldownEnabled  bool
	CooldownMin      decimal.Decimal
	SpreadMin        decimal.Decimal
	FixedSellPrice   *decimal.Decimal
	// TimeoutStatuses are the buy-leg statuses eligible for timeout
	// cancellation. Empty means the default set (wait, wait_partial).
	TimeoutStatuses []OrderStatus
	Deleted         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TimeoutEligible returns the buy statuses that timeout cancellation scans.
func (c *StrategyConfig) TimeoutEligible() []OrderStatus {
	if len(c.TimeoutStatuses) > 0 {
		return c.TimeoutStatuses
	}
	return []OrderStatus{OrderStatusWait, OrderStatusWaitPartial}
}

// LadderTier maps a price deviation to a buy size and sell spread. Tiers for
// a pair are kept ordered by ascending DeviationThreshold.
type LadderTier struct {
	DeviationThreshold decimal.Decimal
	OrderQuantity      int64
	SellSpread         decimal.Decimal
}
