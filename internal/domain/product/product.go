package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// NotFoundError names the missing product. It matches ErrNotFound.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Product represents a catalog item available for purchase.
//
// StockQuantity is the quantity still available for new reservations.
// ReservedQuantity is the part of the original stock currently held by
// unpaid or unshipped orders; it is already carved out of StockQuantity.
type Product struct {
	ID               string
	Name             string
	Price            decimal.Decimal
	Category         string
	StockQuantity    int
	ReservedQuantity int
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
