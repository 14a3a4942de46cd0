package sessions

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Repo maintains per-register aggregate totals. These are best-effort,
// eventually consistent figures: a failed update never blocks a checkout, it
// is queued for reconciliation instead.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) AddSale(ctx context.Context, sessionID, locationID string, total decimal.Decimal) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO register_sessions(id, location_id, total_sales, order_count)
		VALUES ($1,$2,$3,1)
		ON CONFLICT (id) DO UPDATE
		SET total_sales = register_sessions.total_sales + EXCLUDED.total_sales,
		    order_count = register_sessions.order_count + 1`,
		sessionID, locationID, total)
	return errors.Wrap(err, "add sale to session")
}

type Totals struct {
	SessionID  string
	TotalSales decimal.Decimal
	OrderCount int
}

func (r *Repo) Get(ctx context.Context, sessionID string) (*Totals, error) {
	var t Totals
	err := r.DB.QueryRow(ctx, `
		SELECT id, total_sales, order_count FROM register_sessions WHERE id=$1`,
		sessionID).Scan(&t.SessionID, &t.TotalSales, &t.OrderCount)
	if err != nil {
		return nil, errors.Wrap(err, "get session totals")
	}
	return &t, nil
}
