package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/crowdpen/payd/model"
	"go.opentelemetry.io/otel"
)

const receiptColumns = `id, transaction_id, recipient_id, to_email, cc_email, bcc_email, subject, html, text,
	provider_message_id, status, sent_at, error, created_at, updated_at`

func scanReceipt(row rowScanner) (*model.PayoutReceipt, error) {
	r := &model.PayoutReceipt{}
	var sentAt sql.NullTime
	err := row.Scan(&r.ID, &r.TransactionID, &r.RecipientID, &r.ToEmail, &r.CcEmail, &r.BccEmail,
		&r.Subject, &r.HTML, &r.Text, &r.ProviderMessageID, &r.Status, &sentAt, &r.Error,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	return r, nil
}

func createPayoutReceipt(ctx context.Context, db execer, receipt *model.PayoutReceipt) (bool, error) {
	if receipt.ID == "" {
		receipt.ID = model.GenerateUUIDWithSuffix("rcp")
	}
	if receipt.Status == "" {
		receipt.Status = model.ReceiptStatusQueued
	}
	now := time.Now().UTC()
	receipt.CreatedAt, receipt.UpdatedAt = now, now

	res, err := db.ExecContext(ctx, `
		INSERT INTO payout_receipts (id, transaction_id, recipient_id, to_email, cc_email, bcc_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (transaction_id) DO NOTHING
	`, receipt.ID, receipt.TransactionID, receipt.RecipientID, receipt.ToEmail, receipt.CcEmail,
		receipt.BccEmail, receipt.Status, now)
	if err != nil {
		return false, wrapDBError(err, "Failed to register payout receipt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(err, "Failed to register payout receipt")
	}
	return n == 1, nil
}

// CreatePayoutReceipt registers the intent to send a receipt. It reports
// false when the transaction already has one.
func (d Datasource) CreatePayoutReceipt(ctx context.Context, receipt *model.PayoutReceipt) (bool, error) {
	return createPayoutReceipt(ctx, d.Conn, receipt)
}

func (t *pgTx) CreatePayoutReceipt(ctx context.Context, receipt *model.PayoutReceipt) (bool, error) {
	return createPayoutReceipt(ctx, t.tx, receipt)
}

func (d Datasource) GetPayoutReceipt(ctx context.Context, transactionID string) (*model.PayoutReceipt, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM payout_receipts WHERE transaction_id = $1`, transactionID)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("receipt for transaction '%s' not found", transactionID)
	}
	if err != nil {
		return nil, wrapDBError(err, "Failed to retrieve receipt")
	}
	return r, nil
}

// ClaimPayoutReceipt locks the receipt row and flips it to sending when no
// send has completed or is in flight. The lock is released on return; the
// caller that got true owns the send.
func (d Datasource) ClaimPayoutReceipt(ctx context.Context, transactionID string) (*model.PayoutReceipt, bool, error) {
	ctx, span := otel.Tracer("payd.database").Start(ctx, "ClaimPayoutReceipt")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, wrapDBError(err, "Failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM payout_receipts WHERE transaction_id = $1 FOR UPDATE`, transactionID)
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, notFound("receipt for transaction '%s' not found", transactionID)
	}
	if err != nil {
		return nil, false, wrapDBError(err, "Failed to lock receipt")
	}

	if !receipt.Claimable() {
		return receipt, false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payout_receipts SET status = 'sending', error = '', updated_at = NOW() WHERE id = $1
	`, receipt.ID)
	if err != nil {
		return nil, false, wrapDBError(err, "Failed to claim receipt")
	}
	if err := tx.Commit(); err != nil {
		return nil, false, wrapDBError(err, "Failed to claim receipt")
	}

	receipt.Status = model.ReceiptStatusSending
	receipt.Error = ""
	return receipt, true, nil
}

func (d Datasource) MarkReceiptSent(ctx context.Context, receipt *model.PayoutReceipt) error {
	sentAt := time.Now().UTC()
	if receipt.SentAt != nil {
		sentAt = *receipt.SentAt
	}
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE payout_receipts
		SET status = 'sent', provider_message_id = $2, subject = $3, html = $4, text = $5,
			sent_at = $6, error = '', updated_at = NOW()
		WHERE id = $1
	`, receipt.ID, receipt.ProviderMessageID, receipt.Subject, receipt.HTML, receipt.Text, sentAt)
	if err != nil {
		return wrapDBError(err, "Failed to mark receipt sent")
	}
	receipt.Status = model.ReceiptStatusSent
	receipt.SentAt = &sentAt
	return nil
}

// MarkReceiptFailed leaves sent_at empty so a later attempt can claim again.
func (d Datasource) MarkReceiptFailed(ctx context.Context, receiptID string, reason string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE payout_receipts SET status = 'error', error = $2, updated_at = NOW()
		WHERE id = $1 AND sent_at IS NULL
	`, receiptID, reason)
	return wrapDBError(err, "Failed to mark receipt failed")
}
