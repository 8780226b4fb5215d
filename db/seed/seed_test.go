package seed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducts(t *testing.T) {
	products, err := Products()
	require.NoError(t, err)
	require.NotEmpty(t, products)

	seen := make(map[string]bool)
	for _, p := range products {
		assert.False(t, seen[p.ID], "duplicate id %s", p.ID)
		seen[p.ID] = true
		assert.True(t, p.Price.IsPositive(), p.ID)
		assert.Positive(t, p.StockQuantity, p.ID)
	}
}

func TestDecodeProducts(t *testing.T) {
	products, err := DecodeProducts([]byte(`[{"id":"x","name":"X","price":1.25,"category":"c","stock":3,"extra":true}]`))
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, decimal.RequireFromString("1.25").Equal(products[0].Price))
	assert.Equal(t, 3, products[0].StockQuantity)

	_, err = DecodeProducts([]byte(`[{"name":"no id"}]`))
	assert.Error(t, err)

	_, err = DecodeProducts([]byte(`[{"id":"y","stock":-1}]`))
	assert.Error(t, err)

	_, err = DecodeProducts([]byte(`[{"id":"z","price":1.255,"stock":1}]`))
	assert.ErrorContains(t, err, "whole number of cents")

	_, err = DecodeProducts([]byte(`[{"id":"z","price":-1,"stock":1}]`))
	assert.Error(t, err)

	_, err = DecodeProducts([]byte(`{`))
	assert.Error(t, err)
}
