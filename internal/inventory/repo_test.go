package inventory

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-checkout/internal/orders"
	"github.com/ariefcatur/go-pos-checkout/internal/postgres"
)

// These tests need a real database: row locking is the thing under test.
func testManager(t *testing.T) *Manager {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, postgres.Migrate(dsn))
	pool, err := postgres.Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return &Manager{DB: pool, TTL: time.Minute}
}

func seedProduct(t *testing.T, db *pgxpool.Pool, stock int) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(context.Background(), `
		INSERT INTO products(id, sku, name, stock, price)
		VALUES ($1, $2, 'test product', $3, 9.99)`, id, uuid.NewString(), stock)
	require.NoError(t, err)
	return id
}

func productStock(t *testing.T, db *pgxpool.Pool, id string) int {
	t.Helper()
	var stock int
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT stock FROM products WHERE id=$1`, id).Scan(&stock))
	return stock
}

func TestReserveDecrementsStock(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	pid := seedProduct(t, m.DB, 5)
	orderID := uuid.NewString()

	ok, shortages, err := m.Reserve(ctx, orderID, []orders.ItemQty{{ProductID: pid, Qty: 2}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, shortages)
	assert.Equal(t, 3, productStock(t, m.DB, pid))

	var status string
	require.NoError(t, m.DB.QueryRow(ctx, `
		SELECT status FROM reservations WHERE order_id=$1 AND product_id=$2`,
		orderID, pid).Scan(&status))
	assert.Equal(t, "RESERVED", status)
}

func TestReserveShortageIsAllOrNothing(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	full := seedProduct(t, m.DB, 10)
	short := seedProduct(t, m.DB, 1)
	orderID := uuid.NewString()

	ok, shortages, err := m.Reserve(ctx, orderID, []orders.ItemQty{
		{ProductID: full, Qty: 3},
		{ProductID: short, Qty: 2},
	})
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, shortages, 1)
	assert.Equal(t, short, shortages[0].ProductID)
	assert.Equal(t, 2, shortages[0].Required)
	assert.Equal(t, 1, shortages[0].Available)

	// the in-stock line was rolled back with the short one
	assert.Equal(t, 10, productStock(t, m.DB, full))
	assert.Equal(t, 1, productStock(t, m.DB, short))

	var n int
	require.NoError(t, m.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM reservations WHERE order_id=$1`, orderID).Scan(&n))
	assert.Zero(t, n)
}

func TestReserveMergesDuplicateLines(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	pid := seedProduct(t, m.DB, 5)
	orderID := uuid.NewString()

	ok, _, err := m.Reserve(ctx, orderID, []orders.ItemQty{
		{ProductID: pid, Qty: 2},
		{ProductID: pid, Qty: 1},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, productStock(t, m.DB, pid))

	// one hold row covering both lines
	var qty int
	require.NoError(t, m.DB.QueryRow(ctx, `
		SELECT qty FROM reservations WHERE order_id=$1 AND product_id=$2 AND status='RESERVED'`,
		orderID, pid).Scan(&qty))
	assert.Equal(t, 3, qty)

	// release restores everything the two lines took
	require.NoError(t, m.Release(ctx, orderID))
	assert.Equal(t, 5, productStock(t, m.DB, pid))
}

func TestReserveUnknownProduct(t *testing.T) {
	m := testManager(t)
	_, _, err := m.Reserve(context.Background(), uuid.NewString(),
		[]orders.ItemQty{{ProductID: uuid.NewString(), Qty: 1}})
	require.Error(t, err)
	assert.Equal(t, orders.KindValidation, orders.AsCheckoutError(err).Kind)
}

func TestConcurrentReserveLastUnit(t *testing.T) {
	m := testManager(t)
	pid := seedProduct(t, m.DB, 1)

	var wg sync.WaitGroup
	wins := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := m.Reserve(context.Background(), uuid.NewString(),
				[]orders.ItemQty{{ProductID: pid, Qty: 1}})
			require.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 0, productStock(t, m.DB, pid))
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	pid := seedProduct(t, m.DB, 5)
	orderID := uuid.NewString()

	ok, _, err := m.Reserve(ctx, orderID, []orders.ItemQty{{ProductID: pid, Qty: 2}})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Release(ctx, orderID))
	assert.Equal(t, 5, productStock(t, m.DB, pid))

	// second release must not double-restore
	require.NoError(t, m.Release(ctx, orderID))
	assert.Equal(t, 5, productStock(t, m.DB, pid))
}

func TestFinalizeKeepsDeduction(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	pid := seedProduct(t, m.DB, 5)
	orderID := uuid.NewString()

	ok, _, err := m.Reserve(ctx, orderID, []orders.ItemQty{{ProductID: pid, Qty: 2}})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.Finalize(ctx, orderID))
	assert.Equal(t, 3, productStock(t, m.DB, pid))

	// a late release after finalize is a no-op
	require.NoError(t, m.Release(ctx, orderID))
	assert.Equal(t, 3, productStock(t, m.DB, pid))
}

func TestSweepExpiredRestoresStock(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	pid := seedProduct(t, m.DB, 5)
	orderID := uuid.NewString()

	expired := &Manager{DB: m.DB, TTL: -time.Minute}
	ok, _, err := expired.Reserve(ctx, orderID, []orders.ItemQty{{ProductID: pid, Qty: 2}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, productStock(t, m.DB, pid))

	n, err := m.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.Equal(t, 5, productStock(t, m.DB, pid))

	// swept holds are gone, a second sweep finds nothing for this order
	require.NoError(t, m.Release(ctx, orderID))
	assert.Equal(t, 5, productStock(t, m.DB, pid))
}

func TestSweepSkipsOrdersParkedOnUnknownPayment(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	pid := seedProduct(t, m.DB, 5)
	orderID := uuid.NewString()

	expired := &Manager{DB: m.DB, TTL: -time.Minute}
	ok, _, err := expired.Reserve(ctx, orderID, []orders.ItemQty{{ProductID: pid, Qty: 2}})
	require.NoError(t, err)
	require.True(t, ok)

	// the order is awaiting the gateway's verdict; its charge may have landed
	var itemID int64
	require.NoError(t, m.DB.QueryRow(ctx, `
		INSERT INTO reconciliation_queue(order_id, kind, payload)
		VALUES ($1, 'payment-unknown', '{}') RETURNING id`, orderID).Scan(&itemID))

	_, err = m.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)

	// the hold survived the sweep, stock stays deducted
	var status string
	require.NoError(t, m.DB.QueryRow(ctx, `
		SELECT status FROM reservations WHERE order_id=$1 AND product_id=$2`,
		orderID, pid).Scan(&status))
	assert.Equal(t, "RESERVED", status)
	assert.Equal(t, 3, productStock(t, m.DB, pid))

	// once the verdict is in and the item resolved, the sweep reclaims it
	_, err = m.DB.Exec(ctx, `
		UPDATE reconciliation_queue SET resolved=TRUE, resolved_at=now() WHERE id=$1`, itemID)
	require.NoError(t, err)

	_, err = m.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 5, productStock(t, m.DB, pid))
}
