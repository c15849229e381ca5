package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/gregtusar/spotcycle/pkg/models"
)

// ErrNotFound is returned by lookups that found no matching row.
var ErrNotFound = errors.New("store: not found")

// Store is the order store's query surface. Every method is one of the
// queries the engine needs; there is no generic query mechanism.
type Store interface {
	// FindActiveConfig returns the non-deleted strategy config for the
	// pair, or ErrNotFound.
	FindActiveConfig(ctx context.Context, userID, currency string) (*models.StrategyConfig, error)
	SaveConfig(ctx context.Context, cfg *models.StrategyConfig) error

	// FindLadder returns the pair's tiers ordered by ascending threshold.
	FindLadder(ctx context.Context, userID, currency string) ([]models.LadderTier, error)
	SaveLadder(ctx context.Context, userID, currency string, tiers []models.LadderTier) error

	SaveOrder(ctx context.Context, order *models.TradeOrder) error
	FindOrders(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error)

	// FindByBuyStatus returns the pair's orders whose buy leg is in any of
	// the given statuses.
	FindByBuyStatus(ctx context.Context, userID, currency string, statuses []models.OrderStatus) ([]*models.TradeOrder, error)

	// FindAwaitingSell returns orders whose buy leg filled and whose sell
	// leg has not been placed yet.
	FindAwaitingSell(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error)

	// FindUnsettled returns orders with at least one non-terminal leg.
	FindUnsettled(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error)

	// CountOpen counts orders whose buy leg is in buyIn and whose sell leg
	// is not in sellNotIn.
	CountOpen(ctx context.Context, userID, currency string, buyIn, sellNotIn []models.OrderStatus) (int, error)

	// LastBuyPrice returns the buy price of the pair's most recently
	// created order, or ErrNotFound when the pair has no orders.
	LastBuyPrice(ctx context.Context, userID, currency string) (decimal.Decimal, error)
}

// CycleStore scopes a Store to one in-flight cycle. Nothing written through
// it is visible to other readers until Commit; Rollback discards everything.
type CycleStore interface {
	Store
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxStore hands out per-cycle transactions.
type TxStore interface {
	Store
	Begin(ctx context.Context) (CycleStore, error)
}

func statusIn(s models.OrderStatus, set []models.OrderStatus) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}
