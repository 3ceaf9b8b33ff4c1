package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/model"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// insertLedgerEntry appends entry unless the partial unique index for its
// type already holds a row. Existing rows are never updated.
func insertLedgerEntry(ctx context.Context, db execer, entry *model.LedgerEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = model.GenerateUUIDWithSuffix("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	metaDataJSON, err := json.Marshal(entry.MetaData)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	var conflictTarget string
	switch entry.EntryType {
	case model.EntrySaleCredit:
		conflictTarget = `(order_item_id) WHERE entry_type = 'sale_credit'`
	case model.EntryPayoutDebit:
		conflictTarget = `(admin_transaction_id) WHERE entry_type = 'payout_debit'`
	case model.EntryPayoutDebitReversal:
		conflictTarget = `(admin_transaction_id) WHERE entry_type = 'payout_debit_reversal'`
	default:
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "unknown ledger entry type", nil)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO earnings_ledger_entries (
			id, recipient_id, amount_cents, currency, entry_type, order_id, order_item_id,
			admin_transaction_id, earned_at, meta_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT `+conflictTarget+` DO NOTHING
	`, entry.ID, entry.RecipientID, entry.AmountCents, entry.Currency, string(entry.EntryType),
		entry.OrderID, entry.OrderItemID, entry.AdminTransactionID, entry.EarnedAt, metaDataJSON, entry.CreatedAt)
	if err != nil {
		return false, wrapDBError(err, "Failed to record ledger entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(err, "Failed to record ledger entry")
	}
	return n == 1, nil
}

// RecordSaleCredits writes one order's credits in a single transaction and
// returns how many were new.
func (d Datasource) RecordSaleCredits(ctx context.Context, entries []model.LedgerEntry) (int, error) {
	ctx, span := otel.Tracer("payd.database").Start(ctx, "RecordSaleCredits")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapDBError(err, "Failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for i := range entries {
		if entries[i].EntryType != model.EntrySaleCredit {
			return 0, apierror.NewAPIError(apierror.ErrInvalidInput, "only sale credits may be recorded here", nil)
		}
		ok, err := insertLedgerEntry(ctx, tx, &entries[i])
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapDBError(err, "Failed to commit sale credits")
	}
	return inserted, nil
}

func (d Datasource) GetItemDiscounts(ctx context.Context, orderID string) ([]model.ItemDiscount, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT cri.order_item_id, cri.discount_amount,
			(u.crowdpen_staff OR u.role IN ('admin', 'staff')) AS creator_is_staff
		FROM coupon_redemption_items cri
		JOIN coupon_redemptions cr ON cr.id = cri.redemption_id
		JOIN coupons c ON c.id = cr.coupon_id
		JOIN users u ON u.id = c.created_by
		WHERE cr.order_id = $1 AND cr.status = 'successful'
	`, orderID)
	if err != nil {
		return nil, wrapDBError(err, "Failed to retrieve item discounts")
	}
	defer func() { _ = rows.Close() }()

	var discounts []model.ItemDiscount
	for rows.Next() {
		var d model.ItemDiscount
		if err := rows.Scan(&d.OrderItemID, &d.Amount, &d.CreatorIsStaff); err != nil {
			return nil, wrapDBError(err, "Failed to scan item discount")
		}
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

// GetLastSettledTo is the latest settlement_to over the recipient's active
// payout periods, or nil when none exist.
func (d Datasource) GetLastSettledTo(ctx context.Context, recipientID string) (*time.Time, error) {
	var last sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT MAX(settlement_to) FROM payout_periods WHERE recipient_id = $1 AND is_active
	`, recipientID).Scan(&last)
	if err != nil {
		return nil, wrapDBError(err, "Failed to resolve last settled date")
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

func (d Datasource) GetUnsettledSales(ctx context.Context, recipientID string, after *time.Time) (model.UnsettledSales, error) {
	var earliest, latest sql.NullTime
	var afterArg interface{}
	if after != nil {
		afterArg = *after
	}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT MIN(earned_at), MAX(earned_at)
		FROM earnings_ledger_entries
		WHERE recipient_id = $1
			AND entry_type = 'sale_credit'
			AND ($2::timestamptz IS NULL OR earned_at > $2::timestamptz)
	`, recipientID, afterArg).Scan(&earliest, &latest)
	if err != nil {
		return model.UnsettledSales{}, wrapDBError(err, "Failed to resolve unsettled sales")
	}

	var out model.UnsettledSales
	if earliest.Valid {
		out.Earliest = &earliest.Time
	}
	if latest.Valid {
		out.Latest = &latest.Time
	}
	return out, nil
}

func (d Datasource) SumSaleCredits(ctx context.Context, recipientID string, window model.DateRange) (int64, error) {
	var total int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM earnings_ledger_entries
		WHERE recipient_id = $1
			AND entry_type = 'sale_credit'
			AND earned_at BETWEEN $2 AND $3
	`, recipientID, window.From, window.To).Scan(&total)
	if err != nil {
		return 0, wrapDBError(err, "Failed to sum sale credits")
	}
	return total, nil
}

// SumLivePayouts is what still-live payouts for exactly this window have
// taken from the recipient, as a positive number.
func (d Datasource) SumLivePayouts(ctx context.Context, recipientID string, window model.DateRange) (int64, error) {
	var paid int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(-SUM(e.amount_cents), 0)
		FROM earnings_ledger_entries e
		JOIN payout_periods p ON p.transaction_id = e.admin_transaction_id
		JOIN admin_transactions t ON t.id = p.transaction_id
		WHERE p.recipient_id = $1
			AND p.is_active
			AND p.settlement_from = $2
			AND p.settlement_to = $3
			AND t.status IN ('pending', 'completed')
			AND e.entry_type IN ('payout_debit', 'payout_debit_reversal')
	`, recipientID, window.From, window.To).Scan(&paid)
	if err != nil {
		return 0, wrapDBError(err, "Failed to sum live payouts")
	}
	return paid, nil
}

// GetRecipientBalance derives the balance from the ledger. An empty
// currency sums across currencies.
func (d Datasource) GetRecipientBalance(ctx context.Context, recipientID, currency string) (int64, error) {
	var balance int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM earnings_ledger_entries
		WHERE recipient_id = $1 AND ($2 = '' OR UPPER(currency) = UPPER($2))
	`, recipientID, currency).Scan(&balance)
	if err != nil {
		return 0, wrapDBError(err, "Failed to compute balance")
	}
	return balance, nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	return insertLedgerEntry(ctx, t.tx, entry)
}

// GetPayoutDebit returns the transaction's payout_debit entry, or nil.
func (t *pgTx) GetPayoutDebit(ctx context.Context, transactionID string) (*model.LedgerEntry, error) {
	e := &model.LedgerEntry{}
	var (
		entryType    string
		orderID      sql.NullString
		orderItemID  sql.NullString
		adminTxnID   sql.NullString
		metaDataJSON []byte
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, recipient_id, amount_cents, currency, entry_type, order_id, order_item_id,
			admin_transaction_id, earned_at, meta_data, created_at
		FROM earnings_ledger_entries
		WHERE admin_transaction_id = $1 AND entry_type = 'payout_debit'
	`, transactionID).Scan(&e.ID, &e.RecipientID, &e.AmountCents, &e.Currency, &entryType,
		&orderID, &orderItemID, &adminTxnID, &e.EarnedAt, &metaDataJSON, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError(err, "Failed to retrieve payout debit")
	}
	e.EntryType = model.EntryType(entryType)
	if orderID.Valid {
		e.OrderID = ptr.String(orderID.String)
	}
	if orderItemID.Valid {
		e.OrderItemID = ptr.String(orderItemID.String)
	}
	if adminTxnID.Valid {
		e.AdminTransactionID = ptr.String(adminTxnID.String)
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &e.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return e, nil
}
