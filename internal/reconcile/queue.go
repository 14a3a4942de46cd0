package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Kinds of post-payment failures the queue records.
const (
	KindLoyaltyUpdate  = "loyalty-update"
	KindSessionTotals  = "session-totals"
	KindOrderFinalize  = "order-finalize"
	KindPaymentUnknown = "payment-unknown"
)

type Item struct {
	ID         int64           `json:"id"`
	OrderID    string          `json:"order_id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Resolved   bool            `json:"resolved"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// Queue is the durable record of failures that must not block a
// customer-facing transaction. Purely additive: duplicate enqueues of the
// same logical failure are fine, repair is idempotent against the order's
// actual state, not against row count.
type Queue struct{ DB *pgxpool.Pool }

func (q *Queue) Enqueue(ctx context.Context, orderID, kind string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrap(err, "marshal payload")
	}
	var id int64
	err = q.DB.QueryRow(ctx, `
		INSERT INTO reconciliation_queue(order_id, kind, payload)
		VALUES ($1,$2,$3) RETURNING id`, orderID, kind, data).Scan(&id)
	return id, errors.Wrap(err, "enqueue reconciliation item")
}

// ListUnresolved returns pending items, oldest first. Empty kind means all.
func (q *Queue) ListUnresolved(ctx context.Context, kind string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, order_id, kind, payload, resolved, created_at, resolved_at
	          FROM reconciliation_queue WHERE NOT resolved`
	args := []any{limit}
	if kind != "" {
		query += ` AND kind=$2`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at LIMIT $1`

	rows, err := q.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list unresolved")
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Kind, &it.Payload, &it.Resolved, &it.CreatedAt, &it.ResolvedAt); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (q *Queue) Get(ctx context.Context, id int64) (*Item, error) {
	var it Item
	err := q.DB.QueryRow(ctx, `
		SELECT id, order_id, kind, payload, resolved, created_at, resolved_at
		FROM reconciliation_queue WHERE id=$1`, id).
		Scan(&it.ID, &it.OrderID, &it.Kind, &it.Payload, &it.Resolved, &it.CreatedAt, &it.ResolvedAt)
	if err != nil {
		return nil, errors.Wrap(err, "get item")
	}
	return &it, nil
}

func (q *Queue) Resolve(ctx context.Context, id int64) error {
	_, err := q.DB.Exec(ctx, `
		UPDATE reconciliation_queue SET resolved=TRUE, resolved_at=now()
		WHERE id=$1 AND NOT resolved`, id)
	return errors.Wrap(err, "resolve item")
}

func (q *Queue) CountUnresolved(ctx context.Context) (int, error) {
	var n int
	err := q.DB.QueryRow(ctx, `SELECT COUNT(*) FROM reconciliation_queue WHERE NOT resolved`).Scan(&n)
	return n, errors.Wrap(err, "count unresolved")
}
