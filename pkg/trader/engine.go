package trader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/spotcycle/pkg/exchange"
	"github.com/gregtusar/spotcycle/pkg/models"
	"github.com/gregtusar/spotcycle/pkg/store"
)

// Job identifies one (user, currency) pair and carries its exchange
// credentials.
type Job struct {
	UserID      string
	Currency    string
	Credentials models.Credentials
}

func (j Job) Key() string {
	return j.UserID + "/" + j.Currency
}

// Options are engine-wide tuning knobs shared by every pair.
type Options struct {
	// BuyPriceOffset is the relative offset applied to the best bid when
	// computing the buy limit price.
	BuyPriceOffset decimal.Decimal
	// PricePrecision is the number of decimal places prices are rounded to
	// before submission.
	PricePrecision int32
}

// Engine runs one decision cycle per pair: reconcile remote order state,
// evaluate the buy gates, place sells for filled buys, cancel stale buys.
type Engine struct {
	store  store.TxStore
	quotes exchange.QuoteGateway
	orders exchange.OrderGateway
	logger *logrus.Logger
	opts   Options

	now       func() time.Time
	randFloat func() float64
}

// Buy legs in these statuses hold or may still acquire inventory.
var openBuyStatuses = []models.OrderStatus{
	models.OrderStatusFilled,
	models.OrderStatusWait,
	models.OrderStatusWaitPartial,
}

// Sell legs in these statuses have released their position.
var settledSellStatuses = []models.OrderStatus{
	models.OrderStatusFilled,
	models.OrderStatusCancelled,
}

func NewEngine(txStore store.TxStore, quotes exchange.QuoteGateway, orders exchange.OrderGateway, logger *logrus.Logger, opts Options) *Engine {
	return &Engine{
		store:     txStore,
		quotes:    quotes,
		orders:    orders,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// RunCycle executes one full decision cycle for the pair. The cycle's store
// mutations commit atomically at the end; any failure rolls everything back.
func (e *Engine) RunCycle(ctx context.Context, job Job) error {
	log := e.logger.WithFields(logrus.Fields{
		"user_id":  job.UserID,
		"currency": job.Currency,
	})

	tx, err := e.store.Begin(ctx)
	if err != nil {
		mtxCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to begin cycle: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := tx.FindActiveConfig(ctx, job.UserID, job.Currency)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("No active strategy config, skipping pair")
		mtxCycles.WithLabelValues("no_config").Inc()
		return nil
	}
	if err != nil {
		mtxCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load strategy config: %w", err)
	}

	quote, err := e.quotes.GetQuote(ctx, job.Currency)
	if err != nil {
		mtxCycles.WithLabelValues("quote_unavailable").Inc()
		return fmt.Errorf("quote unavailable: %w", err)
	}

	if err := e.reconcile(ctx, tx, job, log); err != nil {
		mtxCycles.WithLabelValues("error").Inc()
		return err
	}
	if err := e.placeBuy(ctx, tx, job, cfg, quote, log); err != nil {
		mtxCycles.WithLabelValues("error").Inc()
		return err
	}
	if err := e.placeSells(ctx, tx, job, cfg, log); err != nil {
		mtxCycles.WithLabelValues("error").Inc()
		return err
	}
	if err := e.cancelExpired(ctx, tx, job, cfg, log); err != nil {
		mtxCycles.WithLabelValues("error").Inc()
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		mtxCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to commit cycle: %w", err)
	}
	mtxCycles.WithLabelValues("ok").Inc()
	return nil
}

// reconcile overwrites each non-terminal leg with the exchange's view of its
// status and fees. The exchange is the source of truth; a leg whose status
// cannot be fetched is left alone and retried next cycle. The two legs are
// reconciled independently.
func (e *Engine) reconcile(ctx context.Context, tx store.CycleStore, job Job, log *logrus.Entry) error {
	orders, err := tx.FindUnsettled(ctx, job.UserID, job.Currency)
	if err != nil {
		return fmt.Errorf("failed to load unsettled orders: %w", err)
	}

	for _, order := range orders {
		touched := false

		if order.BuyOrderID != nil && !order.BuyStatus.Terminal() {
			state, err := e.orders.GetOrderStatus(ctx, *order.BuyOrderID, job.Currency, job.Credentials)
			if err != nil {
				log.WithError(err).WithField("order_id", *order.BuyOrderID).
					Debug("Buy leg status unavailable, will retry next cycle")
			} else {
				order.BuyStatus = state.Status
				order.BuyFees = state.Fees
				touched = true
			}
		}

		if order.SellOrderID != nil && !order.SellStatus.Terminal() {
			state, err := e.orders.GetOrderStatus(ctx, *order.SellOrderID, job.Currency, job.Credentials)
			if err != nil {
				log.WithError(err).WithField("order_id", *order.SellOrderID).
					Debug("Sell leg status unavailable, will retry next cycle")
			} else {
				order.SellStatus = state.Status
				order.SellFees = state.Fees
				touched = true
			}
		}

		if touched {
			if err := tx.SaveOrder(ctx, order); err != nil {
				return fmt.Errorf("failed to save reconciled order %s: %w", order.ID, err)
			}
		}
	}
	return nil
}

// placeBuy runs the gate chain and submits at most one buy order. Gates
// short-circuit: the first failing gate ends the step with no submission.
func (e *Engine) placeBuy(ctx context.Context, tx store.CycleStore, job Job, cfg *models.StrategyConfig, quote *models.Quote, log *logrus.Entry) error {
	open, err := tx.CountOpen(ctx, job.UserID, job.Currency, openBuyStatuses, settledSellStatuses)
	if err != nil {
		return fmt.Errorf("failed to count open positions: %w", err)
	}
	if open >= cfg.MaxOpenPositions {
		log.WithFields(logrus.Fields{"open": open, "max": cfg.MaxOpenPositions}).
			Info("Position cap reached, not buying")
		mtxGates.WithLabelValues("position_cap").Inc()
		return nil
	}

	if !gapAtLeast(quote.PeriodHigh, quote.BestBid, cfg.HighBidGapMin) {
		log.WithFields(logrus.Fields{
			"high": quote.PeriodHigh.String(),
			"bid":  quote.BestBid.String(),
			"min":  cfg.HighBidGapMin.String(),
		}).Info("High/bid gap below threshold, not buying")
		mtxGates.WithLabelValues("volatility").Inc()
		return nil
	}

	if cfg.CooldownEnabled {
		last, err := tx.LastBuyPrice(ctx, job.UserID, job.Currency)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load last buy price: %w", err)
		}
		if err == nil && !gapAtLeast(last, quote.BestBid, cfg.CooldownMin) {
			log.WithFields(logrus.Fields{
				"last_buy": last.String(),
				"bid":      quote.BestBid.String(),
				"min":      cfg.CooldownMin.String(),
			}).Info("Cooldown gap below threshold, not buying")
			mtxGates.WithLabelValues("cooldown").Inc()
			return nil
		}
	}

	if !gapAtLeast(quote.BestAsk, quote.BestBid, cfg.SpreadMin) {
		log.WithFields(logrus.Fields{
			"ask": quote.BestAsk.String(),
			"bid": quote.BestBid.String(),
			"min": cfg.SpreadMin.String(),
		}).Info("Ask/bid spread below threshold, not buying")
		mtxGates.WithLabelValues("spread").Inc()
		return nil
	}

	tiers, err := tx.FindLadder(ctx, job.UserID, job.Currency)
	if err != nil {
		return fmt.Errorf("failed to load ladder: %w", err)
	}
	deviation := relGap(quote.PeriodHigh, quote.BestBid)
	tier, ok := resolveTier(tiers, deviation)
	if !ok || tier.OrderQuantity <= 0 {
		log.WithField("deviation", deviation.String()).Info("No ladder tier for deviation, not buying")
		return nil
	}

	price := quote.BestBid.
		Mul(decimal.NewFromInt(1).Add(e.opts.BuyPriceOffset)).
		Round(e.opts.PricePrecision)
	quantity := decimal.NewFromInt(tier.OrderQuantity)

	result, err := e.orders.PlaceOrder(ctx, &models.OrderRequest{
		ClientID: uuid.NewString(),
		Currency: job.Currency,
		Side:     models.OrderSideBuy,
		Price:    price,
		Quantity: quantity,
	}, job.Credentials)
	if err != nil {
		// Rejections and transport failures are not retried within a cycle.
		log.WithError(err).Error("Buy submission failed")
		mtxOrders.WithLabelValues("buy", "error").Inc()
		return nil
	}
	if !result.Accepted {
		log.WithField("message", result.Message).Warn("Buy order rejected")
		mtxOrders.WithLabelValues("buy", "rejected").Inc()
		return nil
	}

	buyID := result.OrderID
	order := &models.TradeOrder{
		ID:          uuid.NewString(),
		UserID:      job.UserID,
		Currency:    job.Currency,
		BuyOrderID:  &buyID,
		BuyPrice:    price,
		BuyQuantity: quantity,
		BuyStatus:   models.OrderStatusWait,
		BuyFees:     decimal.Zero,
		SellStatus:  models.OrderStatusAwaitingSell,
		SellSpread:  tier.SellSpread,
		CreatedAt:   e.now(),
	}
	if err := tx.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to save new trade order: %w", err)
	}

	mtxOrders.WithLabelValues("buy", "accepted").Inc()
	log.WithFields(logrus.Fields{
		"order_id": buyID,
		"price":    price.String(),
		"quantity": quantity.String(),
	}).Info("Buy order placed")
	return nil
}

// placeSells submits a sell for every filled buy still carrying the
// awaiting-sell sentinel. A rejected sell leaves the sentinel in place and
// is retried next cycle.
func (e *Engine) placeSells(ctx context.Context, tx store.CycleStore, job Job, cfg *models.StrategyConfig, log *logrus.Entry) error {
	orders, err := tx.FindAwaitingSell(ctx, job.UserID, job.Currency)
	if err != nil {
		return fmt.Errorf("failed to load orders awaiting sell: %w", err)
	}

	for _, order := range orders {
		price := e.sellPrice(cfg, order)

		result, err := e.orders.PlaceOrder(ctx, &models.OrderRequest{
			ClientID: uuid.NewString(),
			Currency: job.Currency,
			Side:     models.OrderSideSell,
			Price:    price,
			Quantity: order.BuyQuantity,
		}, job.Credentials)
		if err != nil {
			log.WithError(err).WithField("trade_order", order.ID).Error("Sell submission failed")
			mtxOrders.WithLabelValues("sell", "error").Inc()
			continue
		}
		if !result.Accepted {
			log.WithFields(logrus.Fields{
				"trade_order": order.ID,
				"message":     result.Message,
			}).Warn("Sell order rejected")
			mtxOrders.WithLabelValues("sell", "rejected").Inc()
			continue
		}

		sellID := result.OrderID
		order.SellOrderID = &sellID
		order.SellPrice = price
		order.SellStatus = models.OrderStatusWait
		if err := tx.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to save sell leg on order %s: %w", order.ID, err)
		}

		mtxOrders.WithLabelValues("sell", "accepted").Inc()
		log.WithFields(logrus.Fields{
			"trade_order": order.ID,
			"order_id":    sellID,
			"price":       price.String(),
		}).Info("Sell order placed")
	}
	return nil
}

// sellPrice prefers the configured fixed price when it clears the buy
// price; otherwise the sell rests at the buy price plus a random fraction of
// the tier spread, which keeps resting sells from clustering at one level.
func (e *Engine) sellPrice(cfg *models.StrategyConfig, order *models.TradeOrder) decimal.Decimal {
	if cfg.FixedSellPrice != nil && cfg.FixedSellPrice.GreaterThan(order.BuyPrice) {
		return *cfg.FixedSellPrice
	}

	frac := decimal.NewFromFloat(0.1 + 0.9*e.randFloat())
	offset := order.SellSpread.Mul(frac).Round(e.opts.PricePrecision)
	if !offset.IsPositive() {
		offset = order.SellSpread
	}
	return order.BuyPrice.Add(offset)
}

// cancelExpired abandons buy orders that sat unfilled past the configured
// timeout. The remote cancel is best effort: once the deadline passed, both
// legs go to cancelled locally whatever the exchange said.
func (e *Engine) cancelExpired(ctx context.Context, tx store.CycleStore, job Job, cfg *models.StrategyConfig, log *logrus.Entry) error {
	orders, err := tx.FindByBuyStatus(ctx, job.UserID, job.Currency, cfg.TimeoutEligible())
	if err != nil {
		return fmt.Errorf("failed to load pending buys: %w", err)
	}

	for _, order := range orders {
		if order.BuyStatus == models.OrderStatusFilled {
			continue
		}
		age := e.now().Sub(order.CreatedAt)
		if age < cfg.BuyTimeout {
			continue
		}

		entry := log.WithFields(logrus.Fields{
			"trade_order": order.ID,
			"age":         age.String(),
			"timeout":     cfg.BuyTimeout.String(),
		})

		if order.BuyOrderID != nil {
			if err := e.orders.CancelOrder(ctx, *order.BuyOrderID, job.Currency, job.Credentials); err != nil {
				entry.WithError(err).Warn("Cancel request failed, abandoning order locally anyway")
			}
		}

		order.BuyStatus = models.OrderStatusCancelled
		order.SellStatus = models.OrderStatusCancelled
		if err := tx.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to save cancelled order %s: %w", order.ID, err)
		}

		mtxCancels.Inc()
		entry.Info("Stale buy order cancelled")
	}
	return nil
}
