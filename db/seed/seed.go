// Package seed provides the embedded demo catalog.
package seed

import (
	_ "embed"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-store/internal/domain/product"
)

//go:embed products.json
var productsJSON []byte

// Products returns the embedded demo catalog.
func Products() ([]product.Product, error) {
	return DecodeProducts(productsJSON)
}

// DecodeProducts parses a JSON array of
// {"id", "name", "price", "category", "stock"} objects.
func DecodeProducts(data []byte) ([]product.Product, error) {
	var out []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "category":
				p.Category, err = d.Str()
			case "stock":
				p.StockQuantity, err = d.Int()
			case "price":
				var n jx.Num
				if n, err = d.Num(); err == nil {
					p.Price, err = decimal.NewFromString(n.String())
				}
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("product without id")
		}
		if p.StockQuantity < 0 {
			return errors.Errorf("product %s: negative stock", p.ID)
		}
		if p.Price.IsNegative() || !p.Price.Equal(p.Price.Round(2)) {
			return errors.Errorf("product %s: price %s is not a whole number of cents", p.ID, p.Price)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}
