package inventory

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-pos-checkout/internal/orders"
)

// Manager holds short-lived reservations against on-hand stock. Stock is
// decremented at reserve time inside the same transaction that writes the
// reservation row, so concurrent checkouts can never jointly oversell: the
// per-product row lock serializes them and the loser sees the reduced count.
type Manager struct {
	DB  *pgxpool.Pool
	TTL time.Duration
}

// coalesce sums quantities per product. One reservation row per product is
// the invariant the UNIQUE(order_id, product_id) constraint enforces; a
// duplicate line must add to the hold, not silently drop past it.
func coalesce(items []orders.ItemQty) []orders.ItemQty {
	idx := make(map[string]int, len(items))
	out := make([]orders.ItemQty, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

// Reserve locks each product row, checks availability, decrements stock and
// records a RESERVED hold with an expiry. All-or-nothing: any shortage rolls
// the whole attempt back and reports every short line. Lines naming the same
// product are merged into one hold first.
func (m *Manager) Reserve(ctx context.Context, orderID string, items []orders.ItemQty) (bool, []orders.Shortage, error) {
	items = coalesce(items)
	tx, err := m.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	var shortages []orders.Shortage
	expires := time.Now().UTC().Add(m.TTL)

	for _, it := range items {
		var stock int
		if err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, it.ProductID).Scan(&stock); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, nil, orders.NewError(orders.KindValidation, false, "unknown product %s", it.ProductID)
			}
			return false, nil, errors.Wrap(err, "lock product")
		}
		if stock < it.Qty {
			shortages = append(shortages, orders.Shortage{ProductID: it.ProductID, Required: it.Qty, Available: stock})
			continue
		}

		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`,
			it.ProductID, it.Qty); err != nil {
			return false, nil, errors.Wrap(err, "decrement stock")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status, expires_at)
			VALUES ($1,$2,$3,'RESERVED',$4)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, it.ProductID, it.Qty, expires); err != nil {
			return false, nil, errors.Wrap(err, "insert reservation")
		}
	}

	if len(shortages) > 0 {
		return false, shortages, nil // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, errors.Wrap(err, "commit")
	}
	return true, nil, nil
}

// Finalize converts the order's holds into permanent deductions. Stock was
// already decremented at reserve time, so this only flips the hold status.
func (m *Manager) Finalize(ctx context.Context, orderID string) error {
	_, err := m.DB.Exec(ctx, `
		UPDATE reservations SET status='CONSUMED', released_at=now()
		WHERE order_id=$1 AND status='RESERVED'`, orderID)
	return errors.Wrap(err, "finalize reservations")
}

// Release returns the order's held quantities to the pool. Idempotent:
// rollback paths may call it more than once, only RESERVED rows are touched.
func (m *Manager) Release(ctx context.Context, orderID string) error {
	tx, err := m.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservations
		WHERE order_id=$1 AND status='RESERVED' FOR UPDATE`, orderID)
	if err != nil {
		return errors.Wrap(err, "select holds")
	}
	type hold struct {
		pid string
		qty int
	}
	var holds []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.pid, &h.qty); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan hold")
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(holds) == 0 {
		return nil // already released or finalized
	}

	for _, h := range holds {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`,
			h.pid, h.qty); err != nil {
			return errors.Wrap(err, "restore stock")
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status='RELEASED', released_at=now()
		WHERE order_id=$1 AND status='RESERVED'`, orderID); err != nil {
		return errors.Wrap(err, "release holds")
	}
	return tx.Commit(ctx)
}

// SweepExpired reclaims holds whose orchestrator never finalized or released
// them (crash mid-flow). Until swept, an expired hold still counts against
// availability. Returns the number of reclaimed holds.
//
// Orders parked behind an unresolved payment-unknown reconciliation item are
// skipped: their charge may already have landed, and the repairer will
// finalize or release those holds once the gateway's record settles it.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := m.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, product_id, qty FROM reservations r
		WHERE status='RESERVED' AND expires_at < $1
		AND NOT EXISTS (
			SELECT 1 FROM reconciliation_queue q
			WHERE q.order_id = r.order_id AND q.kind = 'payment-unknown' AND NOT q.resolved
		)
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return 0, errors.Wrap(err, "select expired")
	}
	type hold struct {
		id  int64
		pid string
		qty int
	}
	var holds []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.id, &h.pid, &h.qty); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan expired")
		}
		holds = append(holds, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, h := range holds {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`,
			h.pid, h.qty); err != nil {
			return 0, errors.Wrap(err, "restore stock")
		}
		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status='RELEASED', released_at=now() WHERE id=$1`, h.id); err != nil {
			return 0, errors.Wrap(err, "release expired hold")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return len(holds), nil
}
