package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/product"
)

const (
	productColumns = `id, name, price, category, stock_quantity, reserved_quantity`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, name, price, category, stock_quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			stock_quantity = EXCLUDED.stock_quantity,
			updated_at = now()`

	reserveStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity - $2,
			reserved_quantity = reserved_quantity + $2,
			updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING stock_quantity`

	releaseStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity + $2,
			reserved_quantity = GREATEST(reserved_quantity - $2, 0),
			updated_at = now()
		WHERE id = $1`

	fulfilStockSQL = `UPDATE products
		SET reserved_quantity = GREATEST(reserved_quantity - $2, 0),
			updated_at = now()
		WHERE id = $1`

	availableStockSQL = `SELECT stock_quantity FROM products WHERE id = $1`

	restockSQL = `UPDATE products
		SET stock_quantity = GREATEST($2 - reserved_quantity, 0),
			updated_at = now()
		WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &product.NotFoundError{ProductID: id}
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts a product or replaces its catalog fields and available
// stock. Reserved quantity is left untouched.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Category, p.StockQuantity)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// Restock sets available stock from a physical on-hand count. Units held by
// open reservations are part of the count and stay reserved.
func (r *ProductRepository) Restock(ctx context.Context, productID string, onHand int) error {
	if onHand < 0 {
		return fmt.Errorf("restocking %q: negative on-hand count %d", productID, onHand)
	}
	tag, err := r.pool.Exec(ctx, restockSQL, productID, onHand)
	if err != nil {
		return fmt.Errorf("restocking %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return &product.NotFoundError{ProductID: productID}
	}
	return nil
}

// Ledger returns a stock ledger whose changes commit immediately.
func (r *ProductRepository) Ledger() inventory.Ledger {
	return &Ledger{db: r.pool}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Category, &p.StockQuantity, &p.ReservedQuantity)
	p.Price = price
	return p, err
}

var _ inventory.Ledger = (*Ledger)(nil)

// Ledger implements inventory.Ledger with conditional row updates. The row
// lock taken by UPDATE serializes concurrent reservations of one product
// until the surrounding transaction ends.
type Ledger struct {
	db querier
}

// Reserve decrements available stock when it covers quantity.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int) (inventory.Reservation, error) {
	if quantity <= 0 {
		return inventory.Reservation{}, inventory.ErrInvalidQuantity
	}

	var remaining int
	err := l.db.QueryRow(ctx, reserveStockSQL, productID, quantity).Scan(&remaining)
	if err == nil {
		return inventory.Reservation{ProductID: productID, Quantity: quantity, Remaining: remaining}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return inventory.Reservation{}, fmt.Errorf("reserving %d of %q: %w", quantity, productID, mapConflict(err))
	}

	var available int
	if err := l.db.QueryRow(ctx, availableStockSQL, productID).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Reservation{}, &product.NotFoundError{ProductID: productID}
		}
		return inventory.Reservation{}, fmt.Errorf("reading stock of %q: %w", productID, mapConflict(err))
	}
	return inventory.Reservation{}, &inventory.InsufficientStockError{
		ProductID: productID,
		Requested: quantity,
		Available: available,
	}
}

// Release returns quantity to available stock.
func (l *Ledger) Release(ctx context.Context, productID string, quantity int) error {
	return l.exec(ctx, releaseStockSQL, productID, quantity, "releasing")
}

// Fulfil removes quantity from the reserved pool.
func (l *Ledger) Fulfil(ctx context.Context, productID string, quantity int) error {
	return l.exec(ctx, fulfilStockSQL, productID, quantity, "fulfilling")
}

func (l *Ledger) exec(ctx context.Context, sql, productID string, quantity int, verb string) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	tag, err := l.db.Exec(ctx, sql, productID, quantity)
	if err != nil {
		return fmt.Errorf("%s %d of %q: %w", verb, quantity, productID, mapConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return &product.NotFoundError{ProductID: productID}
	}
	return nil
}
