package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/model"
	"go.opentelemetry.io/otel"
)

const adminTransactionColumns = `id, recipient_id, trans_type, status, amount, currency, provider,
	reference, transaction_reference, gateway_reference, transfer_code, note, completed_at,
	meta_data, created_at, updated_at`

func scanAdminTransaction(row rowScanner) (*model.AdminTransaction, error) {
	txn := &model.AdminTransaction{}
	var (
		completedAt  sql.NullTime
		metaDataJSON []byte
	)
	err := row.Scan(&txn.ID, &txn.RecipientID, &txn.TransType, &txn.Status, &txn.AmountCents,
		&txn.Currency, &txn.Provider, &txn.Reference, &txn.TransactionRef, &txn.GatewayReference,
		&txn.TransferCode, &txn.Note, &completedAt, &metaDataJSON, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		txn.CompletedAt = &completedAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

func (d Datasource) GetAdminTransaction(ctx context.Context, id string) (*model.AdminTransaction, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+adminTransactionColumns+` FROM admin_transactions WHERE id = $1`, id)
	txn, err := scanAdminTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("transaction '%s' not found", id)
	}
	if err != nil {
		return nil, wrapDBError(err, "Failed to retrieve transaction")
	}
	return txn, nil
}

func (t *pgTx) CreateAdminTransaction(ctx context.Context, txn *model.AdminTransaction) error {
	ctx, span := otel.Tracer("payd.database").Start(ctx, "CreateAdminTransaction")
	defer span.End()

	if txn.ID == "" {
		txn.ID = model.GenerateUUIDWithSuffix("txn")
	}
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = txn.CreatedAt
	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO admin_transactions (`+adminTransactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, txn.ID, txn.RecipientID, txn.TransType, txn.Status, txn.AmountCents, txn.Currency, txn.Provider,
		txn.Reference, txn.TransactionRef, txn.GatewayReference, txn.TransferCode, txn.Note,
		txn.CompletedAt, metaDataJSON, txn.CreatedAt, txn.UpdatedAt)
	return wrapDBError(err, "Failed to create transaction")
}

// LockAdminTransaction resolves a payout by reference, then transfer code,
// then internal id, locking the first match.
func (t *pgTx) LockAdminTransaction(ctx context.Context, lookup TransferLookup) (*model.AdminTransaction, error) {
	candidates := []struct {
		where string
		value string
	}{
		{"(reference = $1 OR transaction_reference = $1 OR gateway_reference = $1)", lookup.Reference},
		{"transfer_code = $1", lookup.TransferCode},
		{"id = $1", lookup.TransactionID},
	}

	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT %s FROM admin_transactions
			WHERE trans_type = 'payout' AND %s
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		`, adminTransactionColumns, c.where), c.value)
		txn, err := scanAdminTransaction(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, wrapDBError(err, "Failed to lock transaction")
		}
		return txn, nil
	}
	return nil, notFound("payout transaction not found")
}

func (t *pgTx) UpdateAdminTransaction(ctx context.Context, txn *model.AdminTransaction) error {
	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	txn.UpdatedAt = time.Now().UTC()
	_, err = t.tx.ExecContext(ctx, `
		UPDATE admin_transactions
		SET status = $2, amount = $3, currency = $4, reference = $5, transaction_reference = $6,
			gateway_reference = $7, transfer_code = $8, completed_at = $9, meta_data = $10, updated_at = $11
		WHERE id = $1
	`, txn.ID, txn.Status, txn.AmountCents, txn.Currency, txn.Reference, txn.TransactionRef,
		txn.GatewayReference, txn.TransferCode, txn.CompletedAt, metaDataJSON, txn.UpdatedAt)
	return wrapDBError(err, "Failed to update transaction")
}

func (t *pgTx) InsertPayoutEvent(ctx context.Context, event *model.PayoutEvent) error {
	if event.ID == "" {
		event.ID = model.GenerateUUIDWithSuffix("pev")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	metaDataJSON, err := json.Marshal(event.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	var fromStatus sql.NullString
	if event.FromStatus != "" {
		fromStatus = sql.NullString{String: event.FromStatus, Valid: true}
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO payout_events (id, transaction_id, event_type, from_status, to_status, actor, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.TransactionID, event.EventType, fromStatus, event.ToStatus, event.Actor, metaDataJSON, event.CreatedAt)
	return wrapDBError(err, "Failed to record payout event")
}

// InsertPayoutPeriod relies on the exclusion constraint to reject active
// periods overlapping another of the same recipient.
func (t *pgTx) InsertPayoutPeriod(ctx context.Context, period *model.PayoutPeriod) error {
	if period.ID == "" {
		period.ID = model.GenerateUUIDWithSuffix("per")
	}
	if period.CreatedAt.IsZero() {
		period.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payout_periods (id, recipient_id, transaction_id, settlement_from, settlement_to, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, period.ID, period.RecipientID, period.TransactionID, period.SettlementFrom, period.SettlementTo, period.IsActive, period.CreatedAt)
	if err != nil {
		return translatePeriodError(err)
	}
	return nil
}

// DeactivatePayoutPeriod releases a window whose payout did not go through.
func (t *pgTx) DeactivatePayoutPeriod(ctx context.Context, transactionID string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE payout_periods SET is_active = FALSE WHERE transaction_id = $1 AND is_active
	`, transactionID)
	return wrapDBError(err, "Failed to deactivate payout period")
}
