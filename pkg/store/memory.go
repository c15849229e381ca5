package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gregtusar/spotcycle/pkg/models"
)

type pairKey struct {
	userID   string
	currency string
}

// MemoryStore is an in-process Store used by tests and dry-run mode. Cycle
// transactions buffer writes and apply them on Commit under the store lock.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[pairKey]*models.StrategyConfig
	ladders map[pairKey][]models.LadderTier
	orders  []*models.TradeOrder
	index   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs: make(map[pairKey]*models.StrategyConfig),
		ladders: make(map[pairKey][]models.LadderTier),
		index:   make(map[string]int),
	}
}

func cloneOrder(o *models.TradeOrder) *models.TradeOrder {
	c := *o
	if o.BuyOrderID != nil {
		id := *o.BuyOrderID
		c.BuyOrderID = &id
	}
	if o.SellOrderID != nil {
		id := *o.SellOrderID
		c.SellOrderID = &id
	}
	return &c
}

func cloneConfig(cfg *models.StrategyConfig) *models.StrategyConfig {
	c := *cfg
	if cfg.FixedSellPrice != nil {
		p := *cfg.FixedSellPrice
		c.FixedSellPrice = &p
	}
	c.TimeoutStatuses = append([]models.OrderStatus(nil), cfg.TimeoutStatuses...)
	return &c
}

func (m *MemoryStore) FindActiveConfig(ctx context.Context, userID, currency string) (*models.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[pairKey{userID, currency}]
	if !ok || cfg.Deleted {
		return nil, ErrNotFound
	}
	return cloneConfig(cfg), nil
}

func (m *MemoryStore) SaveConfig(ctx context.Context, cfg *models.StrategyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[pairKey{cfg.UserID, cfg.Currency}] = cloneConfig(cfg)
	return nil
}

func (m *MemoryStore) FindLadder(ctx context.Context, userID, currency string) ([]models.LadderTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tiers := append([]models.LadderTier(nil), m.ladders[pairKey{userID, currency}]...)
	return tiers, nil
}

func (m *MemoryStore) SaveLadder(ctx context.Context, userID, currency string, tiers []models.LadderTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]models.LadderTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DeviationThreshold.LessThan(sorted[j].DeviationThreshold)
	})
	m.ladders[pairKey{userID, currency}] = sorted
	return nil
}

func (m *MemoryStore) SaveOrder(ctx context.Context, order *models.TradeOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(order)
	return nil
}

func (m *MemoryStore) saveLocked(order *models.TradeOrder) {
	c := cloneOrder(order)
	c.UpdatedAt = time.Now()
	if i, ok := m.index[c.ID]; ok {
		m.orders[i] = c
		return
	}
	m.index[c.ID] = len(m.orders)
	m.orders = append(m.orders, c)
}

func (m *MemoryStore) findOrders(userID, currency string, match func(*models.TradeOrder) bool) []*models.TradeOrder {
	var out []*models.TradeOrder
	for _, o := range m.orders {
		if o.UserID == userID && o.Currency == currency && match(o) {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

func (m *MemoryStore) FindOrders(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOrders(userID, currency, func(*models.TradeOrder) bool { return true }), nil
}

func (m *MemoryStore) FindByBuyStatus(ctx context.Context, userID, currency string, statuses []models.OrderStatus) ([]*models.TradeOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOrders(userID, currency, func(o *models.TradeOrder) bool {
		return statusIn(o.BuyStatus, statuses)
	}), nil
}

func (m *MemoryStore) FindAwaitingSell(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOrders(userID, currency, func(o *models.TradeOrder) bool {
		return o.AwaitingSell()
	}), nil
}

func (m *MemoryStore) FindUnsettled(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOrders(userID, currency, func(o *models.TradeOrder) bool {
		return !o.BuyStatus.Terminal() || !o.SellStatus.Terminal()
	}), nil
}

func (m *MemoryStore) CountOpen(ctx context.Context, userID, currency string, buyIn, sellNotIn []models.OrderStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.orders {
		if o.UserID == userID && o.Currency == currency &&
			statusIn(o.BuyStatus, buyIn) && !statusIn(o.SellStatus, sellNotIn) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LastBuyPrice(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.orders) - 1; i >= 0; i-- {
		o := m.orders[i]
		if o.UserID == userID && o.Currency == currency {
			return o.BuyPrice, nil
		}
	}
	return decimal.Zero, ErrNotFound
}

// Begin starts a buffered cycle transaction. Same-pair cycles are already
// serialized by the scheduler's pair lock, so buffering is enough here.
func (m *MemoryStore) Begin(ctx context.Context) (CycleStore, error) {
	return &memoryTx{base: m, pending: make(map[string]*models.TradeOrder)}, nil
}

type memoryTx struct {
	base       *MemoryStore
	pending    map[string]*models.TradeOrder
	pendingSeq []string
	done       bool
}

func (t *memoryTx) overlay(orders []*models.TradeOrder) []*models.TradeOrder {
	seen := make(map[string]bool, len(orders))
	out := orders[:0:0]
	for _, o := range orders {
		seen[o.ID] = true
		if p, ok := t.pending[o.ID]; ok {
			out = append(out, cloneOrder(p))
			continue
		}
		out = append(out, o)
	}
	for _, id := range t.pendingSeq {
		if !seen[id] {
			out = append(out, cloneOrder(t.pending[id]))
		}
	}
	return out
}

func (t *memoryTx) filter(orders []*models.TradeOrder, userID, currency string, match func(*models.TradeOrder) bool) []*models.TradeOrder {
	var out []*models.TradeOrder
	for _, o := range orders {
		if o.UserID == userID && o.Currency == currency && match(o) {
			out = append(out, o)
		}
	}
	return out
}

func (t *memoryTx) FindActiveConfig(ctx context.Context, userID, currency string) (*models.StrategyConfig, error) {
	return t.base.FindActiveConfig(ctx, userID, currency)
}

func (t *memoryTx) SaveConfig(ctx context.Context, cfg *models.StrategyConfig) error {
	return t.base.SaveConfig(ctx, cfg)
}

func (t *memoryTx) FindLadder(ctx context.Context, userID, currency string) ([]models.LadderTier, error) {
	return t.base.FindLadder(ctx, userID, currency)
}

func (t *memoryTx) SaveLadder(ctx context.Context, userID, currency string, tiers []models.LadderTier) error {
	return t.base.SaveLadder(ctx, userID, currency, tiers)
}

func (t *memoryTx) SaveOrder(ctx context.Context, order *models.TradeOrder) error {
	if _, ok := t.pending[order.ID]; !ok {
		t.pendingSeq = append(t.pendingSeq, order.ID)
	}
	t.pending[order.ID] = cloneOrder(order)
	return nil
}

func (t *memoryTx) all(userID, currency string) []*models.TradeOrder {
	base, _ := t.base.FindOrders(context.Background(), userID, currency)
	return t.filter(t.overlay(base), userID, currency, func(*models.TradeOrder) bool { return true })
}

func (t *memoryTx) FindOrders(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return t.all(userID, currency), nil
}

func (t *memoryTx) FindByBuyStatus(ctx context.Context, userID, currency string, statuses []models.OrderStatus) ([]*models.TradeOrder, error) {
	return t.filter(t.all(userID, currency), userID, currency, func(o *models.TradeOrder) bool {
		return statusIn(o.BuyStatus, statuses)
	}), nil
}

func (t *memoryTx) FindAwaitingSell(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return t.filter(t.all(userID, currency), userID, currency, func(o *models.TradeOrder) bool {
		return o.AwaitingSell()
	}), nil
}

func (t *memoryTx) FindUnsettled(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return t.filter(t.all(userID, currency), userID, currency, func(o *models.TradeOrder) bool {
		return !o.BuyStatus.Terminal() || !o.SellStatus.Terminal()
	}), nil
}

func (t *memoryTx) CountOpen(ctx context.Context, userID, currency string, buyIn, sellNotIn []models.OrderStatus) (int, error) {
	n := 0
	for _, o := range t.all(userID, currency) {
		if statusIn(o.BuyStatus, buyIn) && !statusIn(o.SellStatus, sellNotIn) {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) LastBuyPrice(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	all := t.all(userID, currency)
	if len(all) == 0 {
		return decimal.Zero, ErrNotFound
	}
	return all[len(all)-1].BuyPrice, nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.base.mu.Lock()
	defer t.base.mu.Unlock()
	for _, id := range t.pendingSeq {
		t.base.saveLocked(t.pending[id])
	}
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	t.done = true
	t.pending = make(map[string]*models.TradeOrder)
	t.pendingSeq = nil
	return nil
}
