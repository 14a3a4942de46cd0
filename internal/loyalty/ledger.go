package loyalty

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-pos-checkout/internal/orders"
)

// ErrInsufficientBalance is returned, never clamped, when a spend would
// drive the balance negative.
var ErrInsufficientBalance = errors.New("insufficient loyalty balance")

// Ledger serializes all balance mutations for one customer behind an
// exclusive row lock on loyalty_accounts, so two concurrent redemptions can
// never both read a stale balance and jointly overdraw it. Transactions are
// append-only; corrections are new ADJUSTED rows.
type Ledger struct{ DB *pgxpool.Pool }

// lockBalance ensures the account row exists, then locks it.
func lockBalance(ctx context.Context, tx pgx.Tx, customerID string) (int64, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO loyalty_accounts(customer_id) VALUES ($1)
		ON CONFLICT (customer_id) DO NOTHING`, customerID); err != nil {
		return 0, errors.Wrap(err, "ensure account")
	}
	var balance int64
	if err := tx.QueryRow(ctx, `
		SELECT balance FROM loyalty_accounts WHERE customer_id=$1 FOR UPDATE`,
		customerID).Scan(&balance); err != nil {
		return 0, errors.Wrap(err, "lock balance")
	}
	return balance, nil
}

func appendTx(ctx context.Context, tx pgx.Tx, customerID string, points, before int64,
	typ orders.LoyaltyTxType, refType orders.LoyaltyRefType, refID string) (int64, error) {
	after := before + points
	if after < 0 {
		return 0, ErrInsufficientBalance
	}
	var ref any
	if refID != "" {
		ref = refID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO loyalty_transactions(id, customer_id, type, points, balance_before, balance_after, reference_type, reference_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.NewString(), customerID, typ, points, before, after, refType, ref); err != nil {
		return 0, errors.Wrap(err, "append loyalty tx")
	}
	if _, err := tx.Exec(ctx, `
		UPDATE loyalty_accounts SET balance=$2, updated_at=now() WHERE customer_id=$1`,
		customerID, after); err != nil {
		return 0, errors.Wrap(err, "update balance")
	}
	return after, nil
}

// ApplyDelta applies one signed point mutation under the row lock and returns
// the before/after balances.
func (l *Ledger) ApplyDelta(ctx context.Context, customerID string, points int64,
	typ orders.LoyaltyTxType, refType orders.LoyaltyRefType, refID string) (before, after int64, err error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	before, err = lockBalance(ctx, tx, customerID)
	if err != nil {
		return 0, 0, err
	}
	after, err = appendTx(ctx, tx, customerID, points, before, typ, refType, refID)
	if err != nil {
		return 0, 0, err
	}
	return before, after, tx.Commit(ctx)
}

// ApplyCheckout applies a redemption and an earn for one order inside a
// single lock acquisition. Two separate lock/unlock cycles would let an
// interleaved adjustment observe the inconsistent intermediate balance.
func (l *Ledger) ApplyCheckout(ctx context.Context, customerID string, redeem, earn int64, orderID string) error {
	if redeem == 0 && earn == 0 {
		return nil
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, customerID)
	if err != nil {
		return err
	}
	if redeem > 0 {
		balance, err = appendTx(ctx, tx, customerID, -redeem, balance, orders.LoyaltySpent, orders.RefOrder, orderID)
		if err != nil {
			return err
		}
	}
	if earn > 0 {
		if _, err = appendTx(ctx, tx, customerID, earn, balance, orders.LoyaltyEarned, orders.RefOrder, orderID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CheckBalance verifies the customer can cover a redemption. It takes and
// releases the row lock in its own short transaction; the lock is not held
// across the payment call, so the balance is re-checked when the spend is
// actually applied.
func (l *Ledger) CheckBalance(ctx context.Context, customerID string, required int64) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, customerID)
	if err != nil {
		return err
	}
	if balance < required {
		return ErrInsufficientBalance
	}
	return tx.Commit(ctx)
}

func (l *Ledger) Balance(ctx context.Context, customerID string) (int64, error) {
	var b int64
	err := l.DB.QueryRow(ctx, `SELECT balance FROM loyalty_accounts WHERE customer_id=$1`, customerID).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return b, errors.Wrap(err, "read balance")
}

// HasOrderTransactions reports whether ledger rows for this order already
// exist; the repair worker uses it to keep re-application idempotent.
func (l *Ledger) HasOrderTransactions(ctx context.Context, orderID string) (bool, error) {
	var n int
	err := l.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM loyalty_transactions
		WHERE reference_type='ORDER' AND reference_id=$1`, orderID).Scan(&n)
	return n > 0, errors.Wrap(err, "count order loyalty txs")
}
