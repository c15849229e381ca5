package trader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/spotcycle/pkg/exchange"
	"github.com/gregtusar/spotcycle/pkg/models"
	"github.com/gregtusar/spotcycle/pkg/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type stubQuotes struct {
	quote *models.Quote
	err   error
	calls int
}

func (s *stubQuotes) GetQuote(ctx context.Context, currency string) (*models.Quote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	q := *s.quote
	q.Currency = currency
	return &q, nil
}

type stubOrders struct {
	placed       []*models.OrderRequest
	placeResults []*models.OrderResult
	placeErr     error
	cancelled    []string
	cancelErr    error
	statuses     map[string]*models.OrderState
	statusCalls  int
}

func (s *stubOrders) PlaceOrder(ctx context.Context, req *models.OrderRequest, creds models.Credentials) (*models.OrderResult, error) {
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	s.placed = append(s.placed, req)
	if len(s.placeResults) > 0 {
		res := s.placeResults[0]
		s.placeResults = s.placeResults[1:]
		return res, nil
	}
	return &models.OrderResult{Accepted: true, OrderID: fmt.Sprintf("x%d", len(s.placed))}, nil
}

func (s *stubOrders) CancelOrder(ctx context.Context, orderID, currency string, creds models.Credentials) error {
	s.cancelled = append(s.cancelled, orderID)
	return s.cancelErr
}

func (s *stubOrders) GetOrderStatus(ctx context.Context, orderID, currency string, creds models.Credentials) (*models.OrderState, error) {
	s.statusCalls++
	if st, ok := s.statuses[orderID]; ok {
		copied := *st
		return &copied, nil
	}
	return nil, exchange.ErrOrderNotFound
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(st store.TxStore, quotes *stubQuotes, orders *stubOrders) *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	e := NewEngine(st, quotes, orders, logger, Options{
		BuyPriceOffset: decimal.Zero,
		PricePrecision: 2,
	})
	e.now = func() time.Time { return testNow }
	e.randFloat = func() float64 { return 0.5 }
	return e
}

var testJob = Job{
	UserID:      "u1",
	Currency:    "btc",
	Credentials: models.Credentials{AccessKey: "ak", SecretKey: "sk"},
}

func seedStrategy(t *testing.T, st *store.MemoryStore) *models.StrategyConfig {
	t.Helper()
	cfg := &models.StrategyConfig{
		UserID:           "u1",
		Currency:         "btc",
		MaxOpenPositions: 3,
		BuyTimeout:       10 * time.Minute,
		HighBidGapMin:    d("0.02"),
		CooldownMin:      d("0.01"),
		SpreadMin:        d("0.001"),
	}
	require.NoError(t, st.SaveConfig(context.Background(), cfg))
	require.NoError(t, st.SaveLadder(context.Background(), "u1", "btc", []models.LadderTier{
		{DeviationThreshold: d("0"), OrderQuantity: 1, SellSpread: d("0.5")},
		{DeviationThreshold: d("0.05"), OrderQuantity: 2, SellSpread: d("1")},
	}))
	return cfg
}

func seedOrder(t *testing.T, st *store.MemoryStore, id string, buyStatus, sellStatus models.OrderStatus, mutate ...func(*models.TradeOrder)) *models.TradeOrder {
	t.Helper()
	buyID := "buy-" + id
	o := &models.TradeOrder{
		ID:          id,
		UserID:      "u1",
		Currency:    "btc",
		BuyOrderID:  &buyID,
		BuyPrice:    d("95"),
		BuyQuantity: d("2"),
		BuyStatus:   buyStatus,
		SellStatus:  sellStatus,
		SellSpread:  d("1"),
		CreatedAt:   testNow.Add(-time.Minute),
	}
	for _, fn := range mutate {
		fn(o)
	}
	require.NoError(t, st.SaveOrder(context.Background(), o))
	return o
}

func findOrder(t *testing.T, st *store.MemoryStore, id string) *models.TradeOrder {
	t.Helper()
	orders, err := st.FindOrders(context.Background(), "u1", "btc")
	require.NoError(t, err)
	for _, o := range orders {
		if o.ID == id {
			return o
		}
	}
	t.Fatalf("order %s not found", id)
	return nil
}

func TestRunCycleNoConfigIsSilentNoop(t *testing.T) {
	st := store.NewMemoryStore()
	quotes := &stubQuotes{quote: &models.Quote{}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	assert.Zero(t, quotes.calls)
	assert.Empty(t, orders.placed)
	assert.Zero(t, orders.statusCalls)
	all, err := st.FindOrders(context.Background(), "u1", "btc")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunCycleDeletedConfigIsSilentNoop(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.Deleted = true
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	quotes := &stubQuotes{quote: &models.Quote{}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))
	assert.Zero(t, quotes.calls)
}

func TestRunCycleQuoteFailureAbortsWithoutMutation(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)
	seedOrder(t, st, "t1", models.OrderStatusWait, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{err: errors.New("exchange down")}
	orders := &stubOrders{statuses: map[string]*models.OrderState{
		"buy-t1": {Status: models.OrderStatusFilled, Fees: d("0.1")},
	}}
	e := newTestEngine(st, quotes, orders)

	err := e.RunCycle(context.Background(), testJob)
	require.Error(t, err)

	// Reconciliation never ran; the local order is untouched.
	o := findOrder(t, st, "t1")
	assert.Equal(t, models.OrderStatusWait, o.BuyStatus)
	assert.Zero(t, orders.statusCalls)
	assert.Empty(t, orders.placed)
}

func TestRunCycleBuySubmittedWhenAllGatesPass(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)

	// high=100 bid=95 ask=95.2: volatility gap 0.0526 >= 0.02, spread gap
	// 0.0021 >= 0.001, zero open orders below the cap of 3.
	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	require.Len(t, orders.placed, 1)
	buy := orders.placed[0]
	assert.Equal(t, models.OrderSideBuy, buy.Side)
	assert.True(t, buy.Price.Equal(d("95")), "price %s", buy.Price)
	// deviation 0.0526 matches the 0.05 tier
	assert.True(t, buy.Quantity.Equal(d("2")), "quantity %s", buy.Quantity)

	all, err := st.FindOrders(context.Background(), "u1", "btc")
	require.NoError(t, err)
	require.Len(t, all, 1)
	created := all[0]
	assert.Equal(t, models.OrderStatusWait, created.BuyStatus)
	assert.Equal(t, models.OrderStatusAwaitingSell, created.SellStatus)
	require.NotNil(t, created.BuyOrderID)
	assert.Equal(t, "x1", *created.BuyOrderID)
	assert.True(t, created.SellSpread.Equal(d("1")))
	assert.True(t, created.BuyFees.Equal(decimal.Zero))
}

func TestRunCycleVolatilityGateBlocksBuy(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)

	// high=100 bid=99: gap 0.0101 < 0.02
	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.1"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	assert.Empty(t, orders.placed)
	all, err := st.FindOrders(context.Background(), "u1", "btc")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunCycleGateBoundaryEqualityPasses(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)

	// high/bid gap exactly 0.02 and ask/bid gap exactly 0.001 both pass.
	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("100"), BestAsk: d("100.1"), PeriodHigh: d("102"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))
	assert.Len(t, orders.placed, 1)
}

func TestRunCyclePositionCapBlocksBuy(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)
	for i := 0; i < 3; i++ {
		seedOrder(t, st, fmt.Sprintf("open%d", i), models.OrderStatusWait, models.OrderStatusAwaitingSell)
	}

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	for _, req := range orders.placed {
		assert.NotEqual(t, models.OrderSideBuy, req.Side, "no buy may be placed at the cap")
	}
}

func TestRunCycleOneBelowCapSubmitsExactlyOneBuy(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)
	seedOrder(t, st, "open0", models.OrderStatusWait, models.OrderStatusAwaitingSell)
	seedOrder(t, st, "open1", models.OrderStatusWaitPartial, models.OrderStatusAwaitingSell)
	// Settled orders do not count against the cap.
	seedOrder(t, st, "closed0", models.OrderStatusFilled, models.OrderStatusFilled)
	seedOrder(t, st, "closed1", models.OrderStatusCancelled, models.OrderStatusCancelled)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	buys := 0
	for _, req := range orders.placed {
		if req.Side == models.OrderSideBuy {
			buys++
		}
	}
	assert.Equal(t, 1, buys)
}

func TestRunCycleCooldownGateBlocksBuy(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.CooldownEnabled = true
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	// Last buy at 95, bid 95: gap 0 < 0.01.
	seedOrder(t, st, "prev", models.OrderStatusCancelled, models.OrderStatusCancelled)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))
	assert.Empty(t, orders.placed)
}

func TestRunCycleCooldownGatePassesWhenPriceDropped(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.CooldownEnabled = true
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	// Last buy at 100, bid 95: gap 0.0526 >= 0.01.
	seedOrder(t, st, "prev", models.OrderStatusCancelled, models.OrderStatusCancelled,
		func(o *models.TradeOrder) { o.BuyPrice = d("100") })

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))
	assert.Len(t, orders.placed, 1)
}

func TestRunCycleBuyRejectionLeavesNoRecord(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{placeResults: []*models.OrderResult{
		{Accepted: false, Message: "insufficient balance"},
	}}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	all, err := st.FindOrders(context.Background(), "u1", "btc")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunCycleNoLadderTierMeansNoBuy(t *testing.T) {
	st := store.NewMemoryStore()
	seedStrategy(t, st)
	require.NoError(t, st.SaveLadder(context.Background(), "u1", "btc", []models.LadderTier{
		{DeviationThreshold: d("0.10"), OrderQuantity: 5, SellSpread: d("1")},
	}))

	// deviation 0.0526 < lowest threshold 0.10
	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))
	assert.Empty(t, orders.placed)
}

func TestSellPlacedOnlyForFilledAwaitingSell(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0 // keep the buy step out of the way
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "wait", models.OrderStatusWait, models.OrderStatusAwaitingSell)
	seedOrder(t, st, "partial", models.OrderStatusWaitPartial, models.OrderStatusAwaitingSell)
	seedOrder(t, st, "cancelled", models.OrderStatusCancelled, models.OrderStatusCancelled)
	seedOrder(t, st, "ready", models.OrderStatusFilled, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	require.Len(t, orders.placed, 1)
	sell := orders.placed[0]
	assert.Equal(t, models.OrderSideSell, sell.Side)
	assert.True(t, sell.Quantity.Equal(d("2")), "sell must cover the full filled quantity")
	// spread 1, fixed fraction 0.55: 95 + 0.55
	assert.True(t, sell.Price.Equal(d("95.55")), "price %s", sell.Price)

	o := findOrder(t, st, "ready")
	assert.Equal(t, models.OrderStatusWait, o.SellStatus)
	require.NotNil(t, o.SellOrderID)
	assert.True(t, o.SellPrice.Equal(d("95.55")))

	assert.Equal(t, models.OrderStatusAwaitingSell, findOrder(t, st, "wait").SellStatus)
	assert.Equal(t, models.OrderStatusAwaitingSell, findOrder(t, st, "partial").SellStatus)
}

func TestSellUsesFixedPriceWhenAboveBuy(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	fixed := d("120")
	cfg.FixedSellPrice = &fixed
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "ready", models.OrderStatusFilled, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	require.Len(t, orders.placed, 1)
	assert.True(t, orders.placed[0].Price.Equal(d("120")))
}

func TestSellIgnoresFixedPriceBelowBuy(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	fixed := d("90") // below the 95 buy price, no margin
	cfg.FixedSellPrice = &fixed
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "ready", models.OrderStatusFilled, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	require.Len(t, orders.placed, 1)
	assert.True(t, orders.placed[0].Price.Equal(d("95.55")))
}

func TestSellRejectionKeepsSentinelForRetry(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "ready", models.OrderStatusFilled, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("95"), BestAsk: d("95.2"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{placeResults: []*models.OrderResult{
		{Accepted: false, Message: "market closed"},
	}}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	o := findOrder(t, st, "ready")
	assert.Equal(t, models.OrderStatusAwaitingSell, o.SellStatus)
	assert.Nil(t, o.SellOrderID)
}

func TestReconcileOverwritesLegsFromExchange(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	sellID := "sell-t1"
	seedOrder(t, st, "t1", models.OrderStatusWait, models.OrderStatusWait,
		func(o *models.TradeOrder) { o.SellOrderID = &sellID })

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.01"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{statuses: map[string]*models.OrderState{
		"buy-t1":  {Status: models.OrderStatusFilled, Fees: d("0.05")},
		"sell-t1": {Status: models.OrderStatusWaitPartial, Fees: d("0.01")},
	}}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	o := findOrder(t, st, "t1")
	assert.Equal(t, models.OrderStatusFilled, o.BuyStatus)
	assert.True(t, o.BuyFees.Equal(d("0.05")))
	assert.Equal(t, models.OrderStatusWaitPartial, o.SellStatus)
	assert.True(t, o.SellFees.Equal(d("0.01")))
}

func TestReconcileIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "t1", models.OrderStatusWait, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.01"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{statuses: map[string]*models.OrderState{
		"buy-t1": {Status: models.OrderStatusWaitPartial, Fees: d("0.02")},
	}}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))
	first := findOrder(t, st, "t1")

	require.NoError(t, e.RunCycle(context.Background(), testJob))
	second := findOrder(t, st, "t1")

	assert.Equal(t, first.BuyStatus, second.BuyStatus)
	assert.True(t, first.BuyFees.Equal(second.BuyFees))
	assert.Equal(t, first.SellStatus, second.SellStatus)
}

func TestReconcileMissLeavesLegUntouched(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "t1", models.OrderStatusWait, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.01"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{} // no statuses: every lookup misses
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	o := findOrder(t, st, "t1")
	assert.Equal(t, models.OrderStatusWait, o.BuyStatus)
}

func TestTimeoutCancelsStaleBuy(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	// Created exactly one timeout ago: the deadline is inclusive.
	seedOrder(t, st, "stale", models.OrderStatusWait, models.OrderStatusAwaitingSell,
		func(o *models.TradeOrder) { o.CreatedAt = testNow.Add(-10 * time.Minute) })
	seedOrder(t, st, "fresh", models.OrderStatusWait, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.01"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	require.Len(t, orders.cancelled, 1)
	assert.Equal(t, "buy-stale", orders.cancelled[0])

	stale := findOrder(t, st, "stale")
	assert.Equal(t, models.OrderStatusCancelled, stale.BuyStatus)
	assert.Equal(t, models.OrderStatusCancelled, stale.SellStatus)

	fresh := findOrder(t, st, "fresh")
	assert.Equal(t, models.OrderStatusWait, fresh.BuyStatus)
}

func TestTimeoutCancelsLocallyEvenWhenRemoteCancelFails(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "stale", models.OrderStatusWait, models.OrderStatusAwaitingSell,
		func(o *models.TradeOrder) { o.CreatedAt = testNow.Add(-time.Hour) })

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.01"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{cancelErr: errors.New("order already filled")}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	o := findOrder(t, st, "stale")
	assert.Equal(t, models.OrderStatusCancelled, o.BuyStatus)
	assert.Equal(t, models.OrderStatusCancelled, o.SellStatus)
}

func TestTimeoutHonorsConfiguredStatusSet(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	cfg.TimeoutStatuses = []models.OrderStatus{models.OrderStatusWait}
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "partial", models.OrderStatusWaitPartial, models.OrderStatusAwaitingSell,
		func(o *models.TradeOrder) { o.CreatedAt = testNow.Add(-time.Hour) })

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.01"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	assert.Empty(t, orders.cancelled)
	assert.Equal(t, models.OrderStatusWaitPartial, findOrder(t, st, "partial").BuyStatus)
}

func TestBuyFilledThisCycleGetsSellSameCycle(t *testing.T) {
	// A buy reconciled to filled at the start of the cycle must be picked
	// up by the sell step of the same cycle.
	st := store.NewMemoryStore()
	cfg := seedStrategy(t, st)
	cfg.MaxOpenPositions = 0
	require.NoError(t, st.SaveConfig(context.Background(), cfg))

	seedOrder(t, st, "t1", models.OrderStatusWait, models.OrderStatusAwaitingSell)

	quotes := &stubQuotes{quote: &models.Quote{
		BestBid: d("99"), BestAsk: d("99.01"), PeriodHigh: d("100"),
	}}
	orders := &stubOrders{statuses: map[string]*models.OrderState{
		"buy-t1": {Status: models.OrderStatusFilled, Fees: d("0.1")},
	}}
	e := newTestEngine(st, quotes, orders)

	require.NoError(t, e.RunCycle(context.Background(), testJob))

	o := findOrder(t, st, "t1")
	assert.Equal(t, models.OrderStatusFilled, o.BuyStatus)
	assert.Equal(t, models.OrderStatusWait, o.SellStatus)
	require.Len(t, orders.placed, 1)
	assert.Equal(t, models.OrderSideSell, orders.placed[0].Side)
}
