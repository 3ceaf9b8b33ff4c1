package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/model"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

const orderColumns = `o.id, o.order_number, o.user_id, o.currency, o.subtotal, o.discount, o.total,
	o.payment_status, o.order_status, o.payment_reference, o.paid_amount, o.paid_currency,
	o.fx_rate, o.paid_at, o.notes, o.created_at, o.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner, extra ...interface{}) (*model.Order, error) {
	o := &model.Order{}
	var (
		paidAmount   decimal.NullDecimal
		fxRate       decimal.NullDecimal
		paidCurrency sql.NullString
		paidAt       sql.NullTime
	)
	dest := []interface{}{
		&o.ID, &o.OrderNumber, &o.UserID, &o.Currency, &o.Subtotal, &o.Discount, &o.Total,
		&o.PaymentStatus, &o.OrderStatus, &o.PaymentReference, &paidAmount, &paidCurrency,
		&fxRate, &paidAt, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if paidAmount.Valid {
		o.PaidAmount = &paidAmount.Decimal
	}
	if fxRate.Valid {
		o.FxRate = &fxRate.Decimal
	}
	o.PaidCurrency = paidCurrency.String
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	return o, nil
}

// FindOrder tries the explicit id, then the gateway reference, then the
// order number.
func (d Datasource) FindOrder(ctx context.Context, lookup OrderLookup) (*model.Order, error) {
	ctx, span := otel.Tracer("payd.database").Start(ctx, "FindOrder")
	defer span.End()

	candidates := []struct {
		column string
		value  string
	}{
		{"o.id", lookup.ID},
		{"o.payment_reference", lookup.Reference},
		{"o.order_number", lookup.OrderNumber},
	}

	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT %s, COALESCE(u.email, ''), COALESCE(u.name, '')
			FROM orders o
			LEFT JOIN users u ON u.id = o.user_id
			WHERE %s = $1
			LIMIT 1
		`, orderColumns, c.column), c.value)

		var email, name string
		order, err := scanOrder(row, &email, &name)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
		}
		order.BuyerEmail = email
		order.BuyerName = name
		return order, nil
	}

	return nil, notFound("order not found")
}

func (d Datasource) GetOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.user_id, oi.name, oi.price, oi.subtotal,
			oi.quantity, oi.download_url, p.file_url
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, orderID)
	if err != nil {
		return nil, wrapDBError(err, "Failed to retrieve order items")
	}
	defer func() { _ = rows.Close() }()

	var items []model.OrderItem
	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.MerchantID, &item.Name,
			&item.Price, &item.Subtotal, &item.Quantity, &item.DownloadURL, &item.FileURL); err != nil {
			return nil, wrapDBError(err, "Failed to scan order item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError(err, "Failed to read order items")
	}
	return items, nil
}

// ListPaidOrdersMissingCredits returns successful orders that have items
// but no sale_credit entries, oldest first.
func (d Datasource) ListPaidOrdersMissingCredits(ctx context.Context, limit int) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT o.id
		FROM orders o
		WHERE o.payment_status = 'successful'
			AND EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.id)
			AND NOT EXISTS (
				SELECT 1 FROM earnings_ledger_entries e
				WHERE e.order_id = o.id AND e.entry_type = 'sale_credit'
			)
		ORDER BY o.paid_at NULLS FIRST, o.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapDBError(err, "Failed to list orders missing credits")
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError(err, "Failed to scan order id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d Datasource) GetRecipient(ctx context.Context, id string) (*model.Recipient, error) {
	r := &model.Recipient{}
	err := d.Conn.QueryRowContext(ctx, `SELECT id, email, name FROM users WHERE id = $1`, id).
		Scan(&r.ID, &r.Email, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("recipient '%s' not found", id)
	}
	if err != nil {
		return nil, wrapDBError(err, "Failed to retrieve recipient")
	}
	return r, nil
}

// pgTx is the Postgres unit of work behind Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return wrapDBError(err, "Failed to commit transaction")
	}
	return nil
}

// Rollback is safe to call after Commit.
func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s, COALESCE(u.email, ''), COALESCE(u.name, '')
		FROM orders o
		LEFT JOIN users u ON u.id = o.user_id
		WHERE o.id = $1
		FOR UPDATE OF o
	`, orderColumns), orderID)

	var email, name string
	order, err := scanOrder(row, &email, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order '%s' not found", orderID)
	}
	if err != nil {
		return nil, wrapDBError(err, "Failed to lock order")
	}
	order.BuyerEmail = email
	order.BuyerName = name
	return order, nil
}

// AppendOrderNote appends a line to the order's notes log.
func (t *pgTx) AppendOrderNote(ctx context.Context, orderID, note string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
			updated_at = NOW()
		WHERE id = $1
	`, orderID, note)
	return wrapDBError(err, "Failed to append order note")
}

func (t *pgTx) MarkOrderPaid(ctx context.Context, orderID string, update model.PaymentUpdate) error {
	var paidAmount, fxRate decimal.NullDecimal
	if update.PaidAmount != nil {
		paidAmount = decimal.NewNullDecimal(*update.PaidAmount)
	}
	if update.FxRate != nil {
		fxRate = decimal.NewNullDecimal(*update.FxRate)
	}
	var paidCurrency sql.NullString
	if update.PaidCurrency != "" {
		paidCurrency = sql.NullString{String: update.PaidCurrency, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'successful',
			order_status = 'successful',
			paid_amount = COALESCE($2, paid_amount),
			paid_currency = COALESCE($3, paid_currency),
			fx_rate = COALESCE($4, fx_rate),
			payment_reference = CASE WHEN payment_reference = '' THEN $5 ELSE payment_reference END,
			paid_at = $6,
			updated_at = NOW()
		WHERE id = $1
	`, orderID, paidAmount, paidCurrency, fxRate, update.Reference, update.PaidAt)
	return wrapDBError(err, "Failed to mark order paid")
}

func (t *pgTx) MarkOrderFailed(ctx context.Context, orderID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'failed', order_status = 'failed', updated_at = NOW()
		WHERE id = $1
	`, orderID)
	return wrapDBError(err, "Failed to mark order failed")
}

// FulfillOrderItems sets download urls on items that have none. Revoked
// items keep their sentinel.
func (t *pgTx) FulfillOrderItems(ctx context.Context, orderID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE order_items oi
		SET download_url = p.file_url
		FROM products p
		WHERE p.id = oi.product_id
			AND oi.order_id = $1
			AND oi.download_url = ''
			AND oi.download_url <> 'REVOKED'
			AND p.file_url <> ''
	`, orderID)
	if err != nil {
		return 0, wrapDBError(err, "Failed to fulfill order items")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError(err, "Failed to fulfill order items")
	}
	return n, nil
}

// DecrementStock locks each product row in id order and decrements its
// stock. A NULL stock means unlimited.
func (t *pgTx) DecrementStock(ctx context.Context, items []model.OrderItem) error {
	quantities := make(map[string]int)
	for _, item := range items {
		quantities[item.ProductID] += item.Quantity
	}
	productIDs := make([]string, 0, len(quantities))
	for id := range quantities {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	for _, productID := range productIDs {
		qty := quantities[productID]
		var stock sql.NullInt64
		err := t.tx.QueryRowContext(ctx,
			`SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("product '%s' not found", productID)
		}
		if err != nil {
			return wrapDBError(err, "Failed to lock product")
		}
		if !stock.Valid {
			continue
		}
		if stock.Int64 < int64(qty) {
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("insufficient stock for product '%s': %d available, %d requested", productID, stock.Int64, qty),
				ErrInsufficientStock)
		}
		_, err = t.tx.ExecContext(ctx,
			`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW() WHERE id = $1`,
			productID, qty)
		if err != nil {
			return wrapDBError(err, "Failed to decrement stock")
		}
	}
	return nil
}

func (t *pgTx) ClearActiveCart(ctx context.Context, userID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1 AND status = 'active')
	`, userID)
	if err != nil {
		return wrapDBError(err, "Failed to clear cart items")
	}
	_, err = t.tx.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1 AND status = 'active'`, userID)
	return wrapDBError(err, "Failed to clear cart")
}

// RedeemCoupon marks the order's pending redemptions successful and bumps
// each coupon's usage counter once. It returns the number redeemed.
func (t *pgTx) RedeemCoupon(ctx context.Context, orderID string) (int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		UPDATE coupon_redemptions
		SET status = 'successful'
		WHERE order_id = $1 AND status <> 'successful'
		RETURNING coupon_id
	`, orderID)
	if err != nil {
		return 0, wrapDBError(err, "Failed to redeem coupon")
	}
	var couponIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, wrapDBError(err, "Failed to scan coupon id")
		}
		couponIDs = append(couponIDs, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrapDBError(err, "Failed to redeem coupon")
	}

	for _, id := range couponIDs {
		_, err := t.tx.ExecContext(ctx, `UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1`, id)
		if err != nil {
			return 0, wrapDBError(err, "Failed to update coupon usage")
		}
	}
	return len(couponIDs), nil
}
