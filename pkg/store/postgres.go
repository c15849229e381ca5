package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gregtusar/spotcycle/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategy_configs (
	user_id            TEXT NOT NULL,
	currency           TEXT NOT NULL,
	max_open_positions INT NOT NULL,
	buy_timeout_ms     BIGINT NOT NULL,
	high_bid_gap_min   NUMERIC NOT NULL,
	cooldown_enabled   BOOLEAN NOT NULL,
	cooldown_min       NUMERIC NOT NULL,
	spread_min         NUMERIC NOT NULL,
	fixed_sell_price   NUMERIC,
	timeout_statuses   TEXT[] NOT NULL DEFAULT '{}',
	deleted            BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, currency)
);

CREATE TABLE IF NOT EXISTS ladder_tiers (
	user_id             TEXT NOT NULL,
	currency            TEXT NOT NULL,
	deviation_threshold NUMERIC NOT NULL,
	order_quantity      BIGINT NOT NULL,
	sell_spread         NUMERIC NOT NULL,
	PRIMARY KEY (user_id, currency, deviation_threshold)
);

CREATE TABLE IF NOT EXISTS trade_orders (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	currency      TEXT NOT NULL,
	buy_order_id  TEXT,
	buy_price     NUMERIC NOT NULL,
	buy_quantity  NUMERIC NOT NULL,
	buy_status    TEXT NOT NULL,
	buy_fees      NUMERIC NOT NULL DEFAULT 0,
	sell_order_id TEXT,
	sell_price    NUMERIC NOT NULL DEFAULT 0,
	sell_status   TEXT NOT NULL,
	sell_fees     NUMERIC NOT NULL DEFAULT 0,
	sell_spread   NUMERIC NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS trade_orders_pair_idx
	ON trade_orders (user_id, currency, created_at);
`

const orderColumns = `id, user_id, currency, buy_order_id, buy_price::text,
	buy_quantity::text, buy_status, buy_fees::text, sell_order_id,
	sell_price::text, sell_status, sell_fees::text, sell_spread::text,
	created_at, updated_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the durable Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	pg   pgStore
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	s.pg = pgStore{q: pool}
	return s, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Begin opens a serializable transaction scoping one cycle's reads and
// writes; the cycle's mutations commit atomically or not at all.
func (s *PostgresStore) Begin(ctx context.Context) (CycleStore, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin cycle transaction: %w", err)
	}
	return &postgresTx{pgStore: pgStore{q: tx}, tx: tx}, nil
}

func (s *PostgresStore) FindActiveConfig(ctx context.Context, userID, currency string) (*models.StrategyConfig, error) {
	return s.pg.FindActiveConfig(ctx, userID, currency)
}
func (s *PostgresStore) SaveConfig(ctx context.Context, cfg *models.StrategyConfig) error {
	return s.pg.SaveConfig(ctx, cfg)
}
func (s *PostgresStore) FindLadder(ctx context.Context, userID, currency string) ([]models.LadderTier, error) {
	return s.pg.FindLadder(ctx, userID, currency)
}
func (s *PostgresStore) SaveLadder(ctx context.Context, userID, currency string, tiers []models.LadderTier) error {
	return s.pg.SaveLadder(ctx, userID, currency, tiers)
}
func (s *PostgresStore) SaveOrder(ctx context.Context, order *models.TradeOrder) error {
	return s.pg.SaveOrder(ctx, order)
}
func (s *PostgresStore) FindOrders(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return s.pg.FindOrders(ctx, userID, currency)
}
func (s *PostgresStore) FindByBuyStatus(ctx context.Context, userID, currency string, statuses []models.OrderStatus) ([]*models.TradeOrder, error) {
	return s.pg.FindByBuyStatus(ctx, userID, currency, statuses)
}
func (s *PostgresStore) FindAwaitingSell(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return s.pg.FindAwaitingSell(ctx, userID, currency)
}
func (s *PostgresStore) FindUnsettled(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return s.pg.FindUnsettled(ctx, userID, currency)
}
func (s *PostgresStore) CountOpen(ctx context.Context, userID, currency string, buyIn, sellNotIn []models.OrderStatus) (int, error) {
	return s.pg.CountOpen(ctx, userID, currency, buyIn, sellNotIn)
}
func (s *PostgresStore) LastBuyPrice(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	return s.pg.LastBuyPrice(ctx, userID, currency)
}

type postgresTx struct {
	pgStore
	tx pgx.Tx
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cycle transaction: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// pgStore implements the query surface against either a pool or a tx.
type pgStore struct {
	q querier
}

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func durationToMillis(d time.Duration) int64 {
	return d.Milliseconds()
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s pgStore) FindActiveConfig(ctx context.Context, userID, currency string) (*models.StrategyConfig, error) {
	row := s.q.QueryRow(ctx, `
		SELECT user_id, currency, max_open_positions, buy_timeout_ms,
			high_bid_gap_min::text, cooldown_enabled, cooldown_min::text,
			spread_min::text, fixed_sell_price::text, timeout_statuses,
			created_at, updated_at
		FROM strategy_configs
		WHERE user_id = $1 AND currency = $2 AND NOT deleted`,
		userID, currency)

	var (
		cfg       models.StrategyConfig
		timeoutMs int64
		gapMin    string
		cooldown  string
		spread    string
		fixed     *string
		statuses  []string
	)
	err := row.Scan(&cfg.UserID, &cfg.Currency, &cfg.MaxOpenPositions, &timeoutMs,
		&gapMin, &cfg.CooldownEnabled, &cooldown, &spread, &fixed, &statuses,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy config: %w", err)
	}

	cfg.BuyTimeout = millisToDuration(timeoutMs)
	if cfg.HighBidGapMin, err = decimal.NewFromString(gapMin); err != nil {
		return nil, fmt.Errorf("bad high_bid_gap_min: %w", err)
	}
	if cfg.CooldownMin, err = decimal.NewFromString(cooldown); err != nil {
		return nil, fmt.Errorf("bad cooldown_min: %w", err)
	}
	if cfg.SpreadMin, err = decimal.NewFromString(spread); err != nil {
		return nil, fmt.Errorf("bad spread_min: %w", err)
	}
	if fixed != nil {
		p, err := decimal.NewFromString(*fixed)
		if err != nil {
			return nil, fmt.Errorf("bad fixed_sell_price: %w", err)
		}
		cfg.FixedSellPrice = &p
	}
	for _, st := range statuses {
		cfg.TimeoutStatuses = append(cfg.TimeoutStatuses, models.OrderStatus(st))
	}
	return &cfg, nil
}

func (s pgStore) SaveConfig(ctx context.Context, cfg *models.StrategyConfig) error {
	var fixed *string
	if cfg.FixedSellPrice != nil {
		v := cfg.FixedSellPrice.String()
		fixed = &v
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO strategy_configs (user_id, currency, max_open_positions,
			buy_timeout_ms, high_bid_gap_min, cooldown_enabled, cooldown_min,
			spread_min, fixed_sell_price, timeout_statuses, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8::numeric,
			$9::numeric, $10, $11, now(), now())
		ON CONFLICT (user_id, currency) DO UPDATE SET
			max_open_positions = EXCLUDED.max_open_positions,
			buy_timeout_ms = EXCLUDED.buy_timeout_ms,
			high_bid_gap_min = EXCLUDED.high_bid_gap_min,
			cooldown_enabled = EXCLUDED.cooldown_enabled,
			cooldown_min = EXCLUDED.cooldown_min,
			spread_min = EXCLUDED.spread_min,
			fixed_sell_price = EXCLUDED.fixed_sell_price,
			timeout_statuses = EXCLUDED.timeout_statuses,
			deleted = EXCLUDED.deleted,
			updated_at = now()`,
		cfg.UserID, cfg.Currency, cfg.MaxOpenPositions, durationToMillis(cfg.BuyTimeout),
		cfg.HighBidGapMin.String(), cfg.CooldownEnabled, cfg.CooldownMin.String(),
		cfg.SpreadMin.String(), fixed, statusStrings(cfg.TimeoutStatuses), cfg.Deleted)
	if err != nil {
		return fmt.Errorf("failed to save strategy config: %w", err)
	}
	return nil
}

func (s pgStore) FindLadder(ctx context.Context, userID, currency string) ([]models.LadderTier, error) {
	rows, err := s.q.Query(ctx, `
		SELECT deviation_threshold::text, order_quantity, sell_spread::text
		FROM ladder_tiers
		WHERE user_id = $1 AND currency = $2
		ORDER BY deviation_threshold ASC`,
		userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to query ladder tiers: %w", err)
	}
	defer rows.Close()

	var tiers []models.LadderTier
	for rows.Next() {
		var (
			tier      models.LadderTier
			threshold string
			spread    string
		)
		if err := rows.Scan(&threshold, &tier.OrderQuantity, &spread); err != nil {
			return nil, fmt.Errorf("failed to scan ladder tier: %w", err)
		}
		if tier.DeviationThreshold, err = decimal.NewFromString(threshold); err != nil {
			return nil, fmt.Errorf("bad deviation_threshold: %w", err)
		}
		if tier.SellSpread, err = decimal.NewFromString(spread); err != nil {
			return nil, fmt.Errorf("bad sell_spread: %w", err)
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (s pgStore) SaveLadder(ctx context.Context, userID, currency string, tiers []models.LadderTier) error {
	if _, err := s.q.Exec(ctx,
		`DELETE FROM ladder_tiers WHERE user_id = $1 AND currency = $2`,
		userID, currency); err != nil {
		return fmt.Errorf("failed to clear ladder tiers: %w", err)
	}
	for _, tier := range tiers {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO ladder_tiers (user_id, currency, deviation_threshold,
				order_quantity, sell_spread)
			VALUES ($1, $2, $3::numeric, $4, $5::numeric)`,
			userID, currency, tier.DeviationThreshold.String(),
			tier.OrderQuantity, tier.SellSpread.String()); err != nil {
			return fmt.Errorf("failed to insert ladder tier: %w", err)
		}
	}
	return nil
}

func (s pgStore) SaveOrder(ctx context.Context, order *models.TradeOrder) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO trade_orders (id, user_id, currency, buy_order_id,
			buy_price, buy_quantity, buy_status, buy_fees, sell_order_id,
			sell_price, sell_status, sell_fees, sell_spread, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8::numeric,
			$9, $10::numeric, $11, $12::numeric, $13::numeric, $14, now())
		ON CONFLICT (id) DO UPDATE SET
			buy_order_id = EXCLUDED.buy_order_id,
			buy_status = EXCLUDED.buy_status,
			buy_fees = EXCLUDED.buy_fees,
			sell_order_id = EXCLUDED.sell_order_id,
			sell_price = EXCLUDED.sell_price,
			sell_status = EXCLUDED.sell_status,
			sell_fees = EXCLUDED.sell_fees,
			updated_at = now()`,
		order.ID, order.UserID, order.Currency, order.BuyOrderID,
		order.BuyPrice.String(), order.BuyQuantity.String(), string(order.BuyStatus),
		order.BuyFees.String(), order.SellOrderID, order.SellPrice.String(),
		string(order.SellStatus), order.SellFees.String(), order.SellSpread.String(),
		order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade order: %w", err)
	}
	return nil
}

func (s pgStore) queryOrders(ctx context.Context, where string, args ...any) ([]*models.TradeOrder, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+orderColumns+` FROM trade_orders WHERE `+where+` ORDER BY created_at ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.TradeOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(rows pgx.Rows) (*models.TradeOrder, error) {
	var (
		o                                    models.TradeOrder
		buyPrice, buyQty, buyFees, sellPrice string
		sellFees, sellSpread                 string
		buyStatus, sellStatus                string
	)
	err := rows.Scan(&o.ID, &o.UserID, &o.Currency, &o.BuyOrderID, &buyPrice,
		&buyQty, &buyStatus, &buyFees, &o.SellOrderID, &sellPrice, &sellStatus,
		&sellFees, &sellSpread, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade order: %w", err)
	}
	o.BuyStatus = models.OrderStatus(buyStatus)
	o.SellStatus = models.OrderStatus(sellStatus)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.BuyPrice, buyPrice}, {&o.BuyQuantity, buyQty}, {&o.BuyFees, buyFees},
		{&o.SellPrice, sellPrice}, {&o.SellFees, sellFees}, {&o.SellSpread, sellSpread},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("bad numeric column on order %s: %w", o.ID, err)
		}
		*f.dst = v
	}
	return &o, nil
}

func (s pgStore) FindOrders(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return s.queryOrders(ctx, `user_id = $1 AND currency = $2`, userID, currency)
}

func (s pgStore) FindByBuyStatus(ctx context.Context, userID, currency string, statuses []models.OrderStatus) ([]*models.TradeOrder, error) {
	return s.queryOrders(ctx,
		`user_id = $1 AND currency = $2 AND buy_status = ANY($3)`,
		userID, currency, statusStrings(statuses))
}

func (s pgStore) FindAwaitingSell(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	return s.queryOrders(ctx,
		`user_id = $1 AND currency = $2 AND buy_status = $3 AND sell_status = $4`,
		userID, currency, string(models.OrderStatusFilled),
		string(models.OrderStatusAwaitingSell))
}

func (s pgStore) FindUnsettled(ctx context.Context, userID, currency string) ([]*models.TradeOrder, error) {
	terminal := []string{
		string(models.OrderStatusFilled),
		string(models.OrderStatusCancelled),
	}
	return s.queryOrders(ctx,
		`user_id = $1 AND currency = $2 AND (buy_status <> ALL($3) OR sell_status <> ALL($3))`,
		userID, currency, terminal)
}

func (s pgStore) CountOpen(ctx context.Context, userID, currency string, buyIn, sellNotIn []models.OrderStatus) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM trade_orders
		WHERE user_id = $1 AND currency = $2
			AND buy_status = ANY($3) AND NOT (sell_status = ANY($4))`,
		userID, currency, statusStrings(buyIn), statusStrings(sellNotIn)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open orders: %w", err)
	}
	return n, nil
}

func (s pgStore) LastBuyPrice(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var price string
	err := s.q.QueryRow(ctx, `
		SELECT buy_price::text FROM trade_orders
		WHERE user_id = $1 AND currency = $2
		ORDER BY created_at DESC LIMIT 1`,
		userID, currency).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query last buy price: %w", err)
	}
	v, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad buy_price: %w", err)
	}
	return v, nil
}
