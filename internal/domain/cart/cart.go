// Package cart validates and prices client-supplied cart snapshots before an
// order is created from them.
package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/product"
)

// ErrEmptyCart is returned when a snapshot has no lines.
var ErrEmptyCart = errors.New("cart is empty")

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Line is a single (product, quantity) entry of a cart snapshot.
type Line struct {
	ProductID string
	Quantity  int
}

// Snapshot is the ordered cart handed over by the client at checkout.
type Snapshot struct {
	Lines []Line
}

// PricedLine is a validated line with the price captured at validation time.
type PricedLine struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Priced is the validator output consumed by the order factory.
type Priced struct {
	Lines []PricedLine
	Total decimal.Decimal
}

// InventoryLines returns the ledger view of the priced lines.
func (p Priced) InventoryLines() []inventory.Line {
	lines := make([]inventory.Line, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = inventory.Line{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return lines
}

// Dedupe collapses repeated product ids. The last quantity seen for a product
// wins while the position of its first occurrence is kept.
func Dedupe(lines []Line) []Line {
	pos := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := pos[l.ProductID]; ok {
			out[i].Quantity = l.Quantity
			continue
		}
		pos[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

// Validator prices a snapshot against the live catalog.
//
// The stock comparison is an optimistic pre-check only. Stock can change
// before the order is created; the reservation made by the order factory is
// the final authority.
type Validator struct {
	products product.Repository
}

// NewValidator creates a Validator reading from the given catalog.
func NewValidator(products product.Repository) *Validator {
	return &Validator{products: products}
}

// Validate dedupes, checks and prices the snapshot.
func (v *Validator) Validate(ctx context.Context, snap Snapshot) (*Priced, error) {
	lines := Dedupe(snap.Lines)
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		ids[i] = l.ProductID
	}

	fetched, err := v.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	priced := &Priced{
		Lines: make([]PricedLine, 0, len(lines)),
		Total: decimal.Zero,
	}
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &product.NotFoundError{ProductID: l.ProductID}
		}
		if p.StockQuantity < l.Quantity {
			return nil, &inventory.InsufficientStockError{
				ProductID: p.ID,
				Requested: l.Quantity,
				Available: p.StockQuantity,
			}
		}

		subtotal := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		priced.Lines = append(priced.Lines, PricedLine{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  l.Quantity,
			UnitPrice: p.Price,
			Subtotal:  subtotal,
		})
		priced.Total = priced.Total.Add(subtotal)
	}

	return priced, nil
}
