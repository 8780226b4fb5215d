package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/order"
)

const (
	orderColumns = `id, status, payment_status, stock_state, total,
		customer_email, customer_name, shipping_address, payment_ref,
		version, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR payment_status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`

	updateOrderSQL = `UPDATE orders
		SET status = $2, payment_status = $3, stock_state = $4, payment_ref = $5,
			version = $6, updated_at = $7
		WHERE id = $1 AND version = $6 - 1`

	stalePendingSQL = `SELECT id FROM orders
		WHERE status = 'pending_payment' AND payment_status = 'unpaid' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	orderItemsSQL = `SELECT order_id, product_id, product_name, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	transitionsSQL = `SELECT order_id, axis, from_state, to_state, trigger, at
		FROM order_transitions WHERE order_id = $1 ORDER BY id`

	insertTransitionSQL = `INSERT INTO order_transitions (order_id, axis, from_state, to_state, trigger, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertRefundSQL = `INSERT INTO refunds (id, order_id, amount, reason, status, external_ref, failure_msg, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	refundsSQL = `SELECT id, order_id, amount, reason, status, external_ref, failure_msg, created_at
		FROM refunds WHERE order_id = $1 ORDER BY created_at, id`

	setLockTimeoutSQL = `SELECT set_config('lock_timeout', $1, true)`
)

// DefaultLockTimeout bounds the wait for order and product row locks.
const DefaultLockTimeout = 5 * time.Second

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
// lockTimeout <= 0 selects DefaultLockTimeout.
func NewOrderRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *OrderRepository {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &OrderRepository{pool: pool, lockTimeout: lockTimeout}
}

// WithinTx runs fn in a database transaction. Row locks taken by the ledger
// and by LockForUpdate are held until fn returns.
func (r *OrderRepository) WithinTx(ctx context.Context, fn order.TxFunc) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, setLockTimeoutSQL, timeout); err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}
		return fn(ctx, &orderTx{tx: tx, ledger: &Ledger{db: tx}})
	})
	return mapConflict(err)
}

// Get returns an order with its items and transition history.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return loadOrder(ctx, r.pool, getOrderSQL, id)
}

// List returns orders matching filter, newest first. Transitions are not
// loaded.
func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL,
		string(filter.Status), string(filter.PaymentStatus), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := loadItems(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// Refunds returns the refund records of an order, oldest first.
func (r *OrderRepository) Refunds(ctx context.Context, orderID string) ([]order.Refund, error) {
	return loadRefunds(ctx, r.pool, orderID)
}

// StalePending returns ids of unpaid PendingPayment orders created before
// the given time, oldest first.
func (r *OrderRepository) StalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, stalePendingSQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale orders: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type orderTx struct {
	tx     pgx.Tx
	ledger *Ledger
}

var _ order.Tx = (*orderTx)(nil)

func (t *orderTx) Ledger() inventory.Ledger { return t.ledger }

func (t *orderTx) Create(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, createOrderSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), string(o.StockState), o.Total,
		o.Customer.Email, o.Customer.Name, o.Customer.ShippingAddress, o.PaymentRef,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	rows := make([][]any, len(o.Items))
	for i, it := range o.Items {
		rows[i] = []any{o.ID, i, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice}
	}
	_, err = t.tx.CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"order_id", "position", "product_id", "product_name", "quantity", "unit_price"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) LockForUpdate(ctx context.Context, id string) (*order.Order, error) {
	o, err := loadOrder(ctx, t.tx, lockOrderSQL, id)
	if err != nil {
		return nil, mapConflict(err)
	}
	return o, nil
}

func (t *orderTx) Update(ctx context.Context, o *order.Order) error {
	tag, err := t.tx.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), string(o.StockState), o.PaymentRef,
		o.Version, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, mapConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConcurrentModification
	}
	return nil
}

func (t *orderTx) AppendTransitions(ctx context.Context, ts []order.Transition) error {
	if len(ts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, tr := range ts {
		batch.Queue(insertTransitionSQL, tr.OrderID, string(tr.Axis), tr.From, tr.To, string(tr.Trigger), tr.At)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("appending transitions: %w", err)
	}
	return nil
}

func (t *orderTx) AppendRefund(ctx context.Context, r *order.Refund) error {
	_, err := t.tx.Exec(ctx, insertRefundSQL,
		r.ID, r.OrderID, r.Amount, r.Reason, string(r.Status), r.ExternalRef, r.FailureMsg, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending refund to order %q: %w", r.OrderID, err)
	}
	return nil
}

func (t *orderTx) Refunds(ctx context.Context, orderID string) ([]order.Refund, error) {
	return loadRefunds(ctx, t.tx, orderID)
}

func loadOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	items, err := loadItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]

	rows, err = q.Query(ctx, transitionsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting transitions of order %q: %w", id, err)
	}
	o.Transitions, err = pgx.CollectRows(rows, scanTransition)
	if err != nil {
		return nil, fmt.Errorf("getting transitions of order %q: %w", id, err)
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, ids []string) (map[string][]order.OrderItem, error) {
	rows, err := q.Query(ctx, orderItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("getting order items: %w", err)
	}
	byOrder := make(map[string][]order.OrderItem, len(ids))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	return byOrder, nil
}

func loadRefunds(ctx context.Context, q querier, orderID string) ([]order.Refund, error) {
	rows, err := q.Query(ctx, refundsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting refunds of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanRefund)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                 order.Order
		status, paymentStatus, stockState string
		total                             decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &status, &paymentStatus, &stockState, &total,
		&o.Customer.Email, &o.Customer.Name, &o.Customer.ShippingAddress, &o.PaymentRef,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.StockState = order.StockState(stockState)
	o.Total = total
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.OrderItem, error) {
	var it order.OrderItem
	err := row.Scan(&it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice)
	return it, err
}

func scanTransition(row pgx.CollectableRow) (order.Transition, error) {
	var (
		t             order.Transition
		axis, trigger string
	)
	err := row.Scan(&t.OrderID, &axis, &t.From, &t.To, &trigger, &t.At)
	t.Axis = order.Axis(axis)
	t.Trigger = order.Trigger(trigger)
	return t, err
}

func scanRefund(row pgx.CollectableRow) (order.Refund, error) {
	var (
		r      order.Refund
		status string
	)
	err := row.Scan(&r.ID, &r.OrderID, &r.Amount, &r.Reason, &status, &r.ExternalRef, &r.FailureMsg, &r.CreatedAt)
	r.Status = order.RefundStatus(status)
	return r, err
}
