//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/cart"
	"github.com/xenking/kart-store/internal/domain/inventory"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/product"
	"github.com/xenking/kart-store/internal/domain/refund"
	"github.com/xenking/kart-store/internal/payments"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kart",
				"POSTGRES_PASSWORD": "kart",
				"POSTGRES_DB":       "kart",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://kart:kart@%s:%s/kart?sslmode=disable", host, port.Port())
	pool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

// putProduct inserts a product with a unique id so tests do not share stock.
func putProduct(t *testing.T, price string, stock int) product.Product {
	t.Helper()
	p := product.Product{
		ID:            "p-" + uuid.NewString()[:8],
		Name:          "Waffle",
		Price:         decimal.RequireFromString(price),
		Category:      "Waffle",
		StockQuantity: stock,
	}
	require.NoError(t, NewProductRepository(pool).Upsert(context.Background(), p))
	return p
}

func stockOf(t *testing.T, id string) (int, int) {
	t.Helper()
	p, err := NewProductRepository(pool).GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity, p.ReservedQuantity
}

func pricedFor(p product.Product, qty int) *cart.Priced {
	sub := p.Price.Mul(decimal.NewFromInt(int64(qty)))
	return &cart.Priced{
		Lines: []cart.PricedLine{{ProductID: p.ID, Name: p.Name, Quantity: qty, UnitPrice: p.Price, Subtotal: sub}},
		Total: sub,
	}
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(pool)
	p := putProduct(t, "6.50", 7)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, 7, got.StockQuantity)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)

	some, err := repo.GetByIDs(ctx, []string{p.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, some, 1)

	require.ErrorIs(t, repo.Restock(ctx, "missing", 3), product.ErrNotFound)
	require.Error(t, repo.Restock(ctx, p.ID, -1))
}

func TestLedger_ReserveReleaseFulfil(t *testing.T) {
	ctx := context.Background()
	l := NewProductRepository(pool).Ledger()
	p := putProduct(t, "1.00", 3)

	r, err := l.Reserve(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Remaining)

	_, err = l.Reserve(ctx, p.ID, 2)
	var se *inventory.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Available)

	_, err = l.Reserve(ctx, "missing", 1)
	require.ErrorIs(t, err, product.ErrNotFound)

	require.NoError(t, l.Release(ctx, p.ID, 1))
	require.NoError(t, l.Fulfil(ctx, p.ID, 1))
	avail, reserved := stockOf(t, p.ID)
	assert.Equal(t, 2, avail)
	assert.Equal(t, 0, reserved)
}

func TestRestock_KeepsReservations(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(pool)
	p := putProduct(t, "1.00", 10)

	_, err := repo.Ledger().Reserve(ctx, p.ID, 4)
	require.NoError(t, err)

	// Warehouse counts 6 units on hand, 4 of which are held.
	require.NoError(t, repo.Restock(ctx, p.ID, 6))
	avail, reserved := stockOf(t, p.ID)
	assert.Equal(t, 2, avail)
	assert.Equal(t, 4, reserved)

	require.NoError(t, repo.Restock(ctx, p.ID, 1))
	avail, _ = stockOf(t, p.ID)
	assert.Equal(t, 0, avail)
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(pool, time.Second)
	sandbox := payments.NewSandbox(payments.SandboxConfig{})
	svc := order.NewService(orders, sandbox)
	coord := refund.NewCoordinator(svc, sandbox)
	p := putProduct(t, "4.25", 5)

	o, err := order.NewFactory(orders).Create(ctx, pricedFor(p, 2), order.Customer{Email: "a@example.com", Name: "Ann"})
	require.NoError(t, err)
	avail, reserved := stockOf(t, p.ID)
	assert.Equal(t, 3, avail)
	assert.Equal(t, 2, reserved)

	stored, err := orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingPayment, stored.Status)
	assert.True(t, decimal.RequireFromString("8.50").Equal(stored.Total))
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Waffle", stored.Items[0].ProductName)
	assert.Equal(t, "Ann", stored.Customer.Name)
	require.Len(t, stored.Transitions, 1)

	paid, err := svc.Pay(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	assert.NotEmpty(t, paid.PaymentRef)

	_, err = coord.ProcessRefund(ctx, o.ID, decimal.RequireFromString("3.50"), "late")
	require.NoError(t, err)

	cancelled, err := coord.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, order.PaymentRefunded, cancelled.PaymentStatus)
	assert.Equal(t, order.StockReleased, cancelled.StockState)

	avail, reserved = stockOf(t, p.ID)
	assert.Equal(t, 5, avail)
	assert.Equal(t, 0, reserved)

	refunds, err := orders.Refunds(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.True(t, decimal.RequireFromString("8.50").Equal(order.RefundedTotal(refunds)))

	stored, err = orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, cancelled.Version, stored.Version)
	assert.Len(t, stored.Transitions, len(cancelled.Transitions))

	list, err := orders.List(ctx, order.ListFilter{Status: order.StatusCancelled, Limit: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}

func TestFulfilment_RemovesStockForGood(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(pool, time.Second)
	svc := order.NewService(orders, payments.NewSandbox(payments.SandboxConfig{}))
	p := putProduct(t, "2.00", 4)

	o, err := order.NewFactory(orders).Create(ctx, pricedFor(p, 3), order.Customer{})
	require.NoError(t, err)
	_, err = svc.Pay(ctx, o.ID)
	require.NoError(t, err)
	for _, s := range []order.Status{order.StatusProcessing, order.StatusShipped, order.StatusDelivered} {
		_, err := svc.ChangeStatus(ctx, o.ID, s, order.TriggerAdmin)
		require.NoError(t, err)
	}

	avail, reserved := stockOf(t, p.ID)
	assert.Equal(t, 1, avail)
	assert.Equal(t, 0, reserved)
}

func TestConcurrentCheckout_NeverOversells(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(pool, 5*time.Second)
	factory := order.NewFactory(orders)
	p := putProduct(t, "1.00", 5)

	var (
		wg      sync.WaitGroup
		created atomic.Int32
		short   atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := factory.Create(ctx, pricedFor(p, 1), order.Customer{})
			var se *inventory.InsufficientStockError
			switch {
			case err == nil:
				created.Add(1)
			case assert.ErrorAs(t, err, &se):
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, created.Load())
	assert.EqualValues(t, 15, short.Load())
	avail, reserved := stockOf(t, p.ID)
	assert.Equal(t, 0, avail)
	assert.Equal(t, 5, reserved)
}

func TestLockTimeout_IsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(pool, 100*time.Millisecond)
	p := putProduct(t, "1.00", 2)
	o, err := order.NewFactory(orders).Create(ctx, pricedFor(p, 1), order.Customer{})
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- orders.WithinTx(ctx, func(ctx context.Context, tx order.Tx) error {
			if _, err := tx.LockForUpdate(ctx, o.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	svc := order.NewService(orders, payments.NewSandbox(payments.SandboxConfig{}))
	_, err = svc.ChangeStatus(ctx, o.ID, order.StatusCancelled, order.TriggerAdmin)
	require.ErrorIs(t, err, order.ErrConcurrentModification)

	close(release)
	require.NoError(t, <-done)

	_, err = svc.ChangeStatus(ctx, o.ID, order.StatusCancelled, order.TriggerAdmin)
	require.NoError(t, err)
}

func TestStalePending(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(pool, time.Second)
	p := putProduct(t, "1.00", 2)
	o, err := order.NewFactory(orders).Create(ctx, pricedFor(p, 1), order.Customer{})
	require.NoError(t, err)

	ids, err := orders.StalePending(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.Contains(t, ids, o.ID)

	ids, err = orders.StalePending(ctx, o.CreatedAt.Add(-time.Minute), 1000)
	require.NoError(t, err)
	assert.NotContains(t, ids, o.ID)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(pool)
	hash := auth.HashKey([]byte("pepper"), "raw-"+uuid.NewString())

	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      uuid.NewString(),
		KeyHash: hash,
		Name:    "ops",
		Scopes:  []string{auth.ScopeAdmin, auth.ScopePayments},
	}))

	info, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)
	assert.True(t, info.HasScope(auth.ScopePayments))

	_, err = repo.FindByHash(ctx, "nope")
	require.Error(t, err)
}
