package payd

import (
	"context"
	"strings"

	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/internal/metrics"
	"github.com/crowdpen/payd/model"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TransferResult reports what a transfer webhook did to its payout.
type TransferResult struct {
	Matched       bool   `json:"matched"`
	TransactionID string `json:"transaction_id,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	Changed       bool   `json:"changed"`
	Reversed      bool   `json:"reversed"`
	ReceiptQueued bool   `json:"receipt_queued"`
}

// ApplyTransferEvent moves a payout to the status a transfer webhook
// reports. A failed, reversed or cancelled payout gets its debit credited
// back exactly once. Unclassified or unmatched events change nothing.
func (p *Payd) ApplyTransferEvent(ctx context.Context, event model.TransferEvent) (*TransferResult, error) {
	ctx, span := tracer.Start(ctx, "ApplyTransferEvent", trace.WithAttributes(
		attribute.String("payd.gateway", event.Gateway),
		attribute.String("payd.transfer_status", string(event.Status)),
	))
	defer span.End()

	result := &TransferResult{}
	if event.Status == model.TransferUnrecognized || !event.HasLookupKey() {
		logrus.WithFields(logrus.Fields{
			"gateway": event.Gateway,
			"event":   event.RawEvent,
		}).Info("transfer webhook ignored")
		return result, nil
	}

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	txn, err := tx.LockAdminTransaction(ctx, database.TransferLookup{
		Reference:     event.Reference,
		TransferCode:  event.TransferCode,
		TransactionID: event.TransactionID,
	})
	if apierror.Is(err, apierror.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"gateway":       event.Gateway,
			"reference":     event.Reference,
			"transfer_code": event.TransferCode,
		}).Warn("transfer webhook matched no payout")
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result.Matched = true
	result.TransactionID = txn.ID
	result.From = txn.Status

	next, changed := model.NextPayoutStatus(txn.Status, event.Status.PayoutStatus())
	result.To, result.Changed = next, changed
	backfilled := backfillTransfer(txn, event)

	if changed {
		txn.Status = next
		if next == model.PayoutStatusCompleted && txn.CompletedAt == nil {
			txn.CompletedAt = ptr.Time(p.now())
		}
		meta := map[string]interface{}{"gateway": event.Gateway, "event": event.RawEvent}
		if event.Reason != "" {
			meta["reason"] = event.Reason
		}
		if err := tx.InsertPayoutEvent(ctx, &model.PayoutEvent{
			TransactionID: txn.ID,
			EventType:     model.PayoutEventStatusChanged,
			FromStatus:    result.From,
			ToStatus:      next,
			Actor:         "gateway:" + event.Gateway,
			MetaData:      meta,
		}); err != nil {
			return nil, err
		}
	}
	if changed || backfilled {
		if err := tx.UpdateAdminTransaction(ctx, txn); err != nil {
			return nil, err
		}
	}

	if model.RequiresDebitReversal(txn.Status) {
		result.Reversed, err = p.reverseDebit(ctx, tx, txn)
		if err != nil {
			return nil, err
		}
		if changed {
			if err := tx.DeactivatePayoutPeriod(ctx, txn.ID); err != nil {
				return nil, err
			}
		}
	}

	receiptCreated := false
	if changed && next == model.PayoutStatusCompleted {
		recipient, err := p.datasource.GetRecipient(ctx, txn.RecipientID)
		if err != nil && !apierror.Is(err, apierror.ErrNotFound) {
			return nil, err
		}
		if recipient != nil && recipient.Email != "" {
			receiptCreated, err = tx.CreatePayoutReceipt(ctx, p.newReceipt(txn, recipient))
			if err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if changed {
		metrics.RecordPayoutTransition(result.From, next)
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"from":           result.From,
			"to":             next,
			"reversed":       result.Reversed,
		}).Info("payout status updated")
		p.notify(ctx, payoutEvent(next), txn)
	}
	if receiptCreated {
		result.ReceiptQueued = true
		p.enqueueReceipt(ctx, txn.ID)
	}
	return result, nil
}

// reverseDebit credits back the payout's debit if it has one. The unique
// index on reversals makes redelivery a no-op.
func (p *Payd) reverseDebit(ctx context.Context, tx database.Tx, txn *model.AdminTransaction) (bool, error) {
	debit, err := tx.GetPayoutDebit(ctx, txn.ID)
	if err != nil || debit == nil {
		return false, err
	}
	amount := debit.AmountCents
	if amount < 0 {
		amount = -amount
	}
	return tx.InsertLedgerEntry(ctx, &model.LedgerEntry{
		RecipientID:        debit.RecipientID,
		AmountCents:        amount,
		Currency:           debit.Currency,
		EntryType:          model.EntryPayoutDebitReversal,
		AdminTransactionID: model.StringPtr(txn.ID),
		EarnedAt:           p.now(),
		MetaData: map[string]interface{}{
			"reversed_entry_id": debit.ID,
			"status":            txn.Status,
		},
	})
}

// backfillTransfer fills empty payout fields from the webhook and reports
// whether anything changed.
func backfillTransfer(txn *model.AdminTransaction, event model.TransferEvent) bool {
	changed := false
	if txn.Reference == "" && event.Reference != "" {
		txn.Reference = event.Reference
		changed = true
	}
	if txn.GatewayReference == "" && event.Reference != "" {
		txn.GatewayReference = event.Reference
		changed = true
	}
	if txn.TransferCode == "" && event.TransferCode != "" {
		txn.TransferCode = event.TransferCode
		changed = true
	}
	if txn.AmountCents == 0 && event.Amount != nil {
		txn.AmountCents = *event.Amount
		changed = true
	}
	if txn.Currency == "" && event.Currency != "" {
		txn.Currency = strings.ToUpper(event.Currency)
		changed = true
	}
	return changed
}
