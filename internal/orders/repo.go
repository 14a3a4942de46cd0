package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Repo struct{ DB *pgxpool.Pool }

const uniqueViolation = "23505"

// CreateDraft inserts the order in PENDING/PENDING and stores the idempotency
// key in the same statement, so the unique constraint arbitrates concurrent
// requests bearing the same key. Fills o.ID (if empty), o.OrderNumber and
// timestamps from the database.
func (r *Repo) CreateDraft(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = StatusPending
	o.PaymentStatus = PaymentPending

	var customer any
	if o.CustomerID != "" {
		customer = o.CustomerID
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO orders(id, idempotency_key, request_hash, vendor_id, location_id, session_id,
		                   customer_id, status, payment_status, payment_method,
		                   subtotal, tax_amount, discount_amount, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING order_number, created_at, updated_at`,
		o.ID, o.IdempotencyKey, o.RequestHash, o.VendorID, o.LocationID, o.SessionID,
		customer, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.Subtotal, o.TaxAmount, o.DiscountAmount, o.Total,
	).Scan(&o.OrderNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "insert draft order")
	}
	return nil
}

const orderColumns = `id, order_number, idempotency_key, request_hash, vendor_id, location_id,
	session_id, COALESCE(customer_id, ''), status, payment_status, payment_method,
	subtotal, tax_amount, discount_amount, total, points_earned, points_redeemed,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.IdempotencyKey, &o.RequestHash, &o.VendorID,
		&o.LocationID, &o.SessionID, &o.CustomerID, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.Total,
		&o.PointsEarned, &o.PointsRedeemed, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}
	return &o, nil
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key=$1`, key))
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
}

func (r *Repo) InsertLines(ctx context.Context, orderID string, lines []OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	for _, l := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, unit_price)
			VALUES ($1,$2,$3,$4)`,
			orderID, l.ProductID, l.Qty, l.UnitPrice,
		); err != nil {
			return errors.Wrap(err, "insert order line")
		}
	}
	return tx.Commit(ctx)
}

// Resolve moves the order out of PENDING. The WHERE clause re-checks the
// transition so a replayed resolve of an already-terminal order is a no-op.
func (r *Repo) Resolve(ctx context.Context, orderID string, st Status, ps PaymentStatus, earned, redeemed int64) error {
	if !CanTransition(StatusPending, st) || !Consistent(st, ps) {
		return errors.Errorf("invalid resolution %s/%s", st, ps)
	}
	_, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status=$2, payment_status=$3, points_earned=$4, points_redeemed=$5, updated_at=now()
		WHERE id=$1 AND status='PENDING'`,
		orderID, st, ps, earned, redeemed)
	return errors.Wrap(err, "resolve order")
}

// DeleteDraft removes a draft that never reached the payment step. Lines go
// with it via ON DELETE CASCADE.
func (r *Repo) DeleteDraft(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND status='PENDING'`, orderID)
	return errors.Wrap(err, "delete draft order")
}

func (r *Repo) RecordPayment(ctx context.Context, p *PaymentTransaction) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payment_transactions(id, order_id, method, amount, status, reference_id, auth_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.OrderID, p.Method, p.Amount, p.Status, p.ReferenceID, p.AuthCode)
	return errors.Wrap(err, "record payment")
}

func (r *Repo) GetStatus(ctx context.Context, orderID string) (Status, PaymentStatus, error) {
	var s Status
	var ps PaymentStatus
	err := r.DB.QueryRow(ctx, `SELECT status, payment_status FROM orders WHERE id=$1`, orderID).Scan(&s, &ps)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrNotFound
		}
		return "", "", errors.Wrap(err, "get order status")
	}
	return s, ps, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, stock, price, created_at, updated_at
	                              FROM products ORDER BY sku`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
