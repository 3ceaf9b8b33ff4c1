package payd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/internal/apierror"
	redlock "github.com/crowdpen/payd/internal/lock"
	"github.com/crowdpen/payd/internal/metrics"
	"github.com/crowdpen/payd/model"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const payoutLockTimeout = 30 * time.Second

// PayoutPreview is the only window a recipient can be paid for next and
// what paying it would cost.
type PayoutPreview struct {
	RecipientID      string          `json:"recipient_id"`
	Window           model.DateRange `json:"window"`
	ExpectedCents    int64           `json:"expected_cents"`
	AlreadyPaidCents int64           `json:"already_paid_cents"`
	RemainingCents   int64           `json:"remaining_cents"`
}

// PreviewPayoutWindow computes the eligible window and amounts without
// writing anything.
func (p *Payd) PreviewPayoutWindow(ctx context.Context, recipientID string) (*PayoutPreview, error) {
	ctx, span := tracer.Start(ctx, "PreviewPayoutWindow")
	defer span.End()

	window, err := p.eligibleWindow(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return p.payoutAmounts(ctx, recipientID, window)
}

// GetRecipientBalance derives a recipient's balance from the ledger.
func (p *Payd) GetRecipientBalance(ctx context.Context, recipientID, currency string) (int64, error) {
	return p.datasource.GetRecipientBalance(ctx, recipientID, strings.ToUpper(strings.TrimSpace(currency)))
}

// CreatePayout pays a recipient for exactly the eligible window. The
// admin transaction, its debit, its audit event and its period are written
// in one transaction; an overlapping period aborts all of them.
func (p *Payd) CreatePayout(ctx context.Context, req model.PayoutRequest) (*model.AdminTransaction, error) {
	ctx, span := tracer.Start(ctx, "CreatePayout", trace.WithAttributes(
		attribute.String("payd.recipient_id", req.RecipientID),
	))
	defer span.End()

	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if req.Status == "" {
		req.Status = model.PayoutStatusPending
	}
	if !model.IsValidPayoutStatus(req.Status) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("invalid payout status %q", req.Status), nil)
	}

	unlock, err := p.lockRecipient(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	window, err := p.eligibleWindow(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}
	requested := model.NewDateRange(req.From, req.To)
	if err := model.ValidateRequestedWindow(requested, window); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), err)
	}

	amounts, err := p.payoutAmounts(ctx, req.RecipientID, window)
	if err != nil {
		return nil, err
	}
	if amounts.RemainingCents <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("nothing to pay for %s", window), model.ErrNothingToPay)
	}

	recipient, err := p.datasource.GetRecipient(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	txn, receiptCreated, err := p.writePayout(ctx, req, recipient, window, amounts.RemainingCents)
	if err != nil {
		return nil, p.explainPeriodConflict(ctx, req.RecipientID, err)
	}

	metrics.RecordPayoutCreated(txn.Status)
	logrus.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"recipient_id":   txn.RecipientID,
		"amount_cents":   txn.AmountCents,
		"window":         window.String(),
		"status":         txn.Status,
	}).Info("payout created")
	p.notify(ctx, EventPayoutCreated, txn)

	if receiptCreated {
		if _, err := p.SendPayoutReceipt(ctx, txn.ID); err != nil {
			logrus.Warnf("payout receipt for %s not sent: %v", txn.ID, err)
		}
	}
	return txn, nil
}

func (p *Payd) writePayout(ctx context.Context, req model.PayoutRequest, recipient *model.Recipient, window model.DateRange, amountCents int64) (*model.AdminTransaction, bool, error) {
	now := p.now()
	active := model.IsActivePayoutStatus(req.Status)

	txn := &model.AdminTransaction{
		RecipientID: req.RecipientID,
		TransType:   model.TransTypePayout,
		Status:      req.Status,
		AmountCents: amountCents,
		Currency:    strings.ToUpper(req.Currency),
		Provider:    req.Provider,
		Reference:   req.Reference,
		Note:        req.Note,
		MetaData: map[string]interface{}{
			"settlement_from": window.From.Format(model.DateLayout),
			"settlement_to":   window.To.Format(model.DateLayout),
		},
	}
	if req.Status == model.PayoutStatusCompleted {
		txn.CompletedAt = ptr.Time(now)
	}

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateAdminTransaction(ctx, txn); err != nil {
		return nil, false, err
	}

	if active {
		_, err := tx.InsertLedgerEntry(ctx, &model.LedgerEntry{
			RecipientID:        txn.RecipientID,
			AmountCents:        -amountCents,
			Currency:           txn.Currency,
			EntryType:          model.EntryPayoutDebit,
			AdminTransactionID: model.StringPtr(txn.ID),
			EarnedAt:           now,
			MetaData:           txn.MetaData,
		})
		if err != nil {
			return nil, false, err
		}
	}

	actor := req.Actor
	if actor == "" {
		actor = "operator"
	}
	if err := tx.InsertPayoutEvent(ctx, &model.PayoutEvent{
		TransactionID: txn.ID,
		EventType:     model.PayoutEventCreated,
		ToStatus:      txn.Status,
		Actor:         actor,
		MetaData: map[string]interface{}{
			"amount_cents": amountCents,
			"window":       window.String(),
		},
	}); err != nil {
		return nil, false, err
	}

	if err := tx.InsertPayoutPeriod(ctx, &model.PayoutPeriod{
		RecipientID:    txn.RecipientID,
		TransactionID:  txn.ID,
		SettlementFrom: window.From,
		SettlementTo:   window.To,
		IsActive:       active,
	}); err != nil {
		return nil, false, err
	}

	receiptCreated := false
	if txn.Status == model.PayoutStatusCompleted && recipient.Email != "" {
		receiptCreated, err = tx.CreatePayoutReceipt(ctx, p.newReceipt(txn, recipient))
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return txn, receiptCreated, nil
}

// eligibleWindow resolves the next settlement window for a recipient.
func (p *Payd) eligibleWindow(ctx context.Context, recipientID string) (model.DateRange, error) {
	lastSettledTo, err := p.datasource.GetLastSettledTo(ctx, recipientID)
	if err != nil {
		return model.DateRange{}, err
	}
	unsettled, err := p.datasource.GetUnsettledSales(ctx, recipientID, lastSettledTo)
	if err != nil {
		return model.DateRange{}, err
	}
	window, err := model.ResolvePayoutWindow(lastSettledTo, unsettled, p.now())
	if err != nil {
		msg := "no unsettled sales for this recipient"
		if lastSettledTo != nil {
			msg = fmt.Sprintf("%s; next eligible start is %s", msg,
				model.NextEligibleStart(*lastSettledTo).Format(model.DateLayout))
		}
		return model.DateRange{}, apierror.NewAPIError(apierror.ErrBadRequest, msg, err)
	}
	return window, nil
}

func (p *Payd) payoutAmounts(ctx context.Context, recipientID string, window model.DateRange) (*PayoutPreview, error) {
	expected, err := p.datasource.SumSaleCredits(ctx, recipientID, window)
	if err != nil {
		return nil, err
	}
	paid, err := p.datasource.SumLivePayouts(ctx, recipientID, window)
	if err != nil {
		return nil, err
	}
	return &PayoutPreview{
		RecipientID:      recipientID,
		Window:           window,
		ExpectedCents:    expected,
		AlreadyPaidCents: paid,
		RemainingCents:   expected - paid,
	}, nil
}

// explainPeriodConflict names the next eligible start on an overlap error.
func (p *Payd) explainPeriodConflict(ctx context.Context, recipientID string, err error) error {
	if !errors.Is(err, database.ErrPayoutPeriodOverlap) {
		return err
	}
	msg := "already paid for part/all of this date range"
	if last, lookupErr := p.datasource.GetLastSettledTo(ctx, recipientID); lookupErr == nil && last != nil {
		msg = fmt.Sprintf("%s; next eligible start is %s", msg, model.NextEligibleStart(*last).Format(model.DateLayout))
	}
	return apierror.NewAPIError(apierror.ErrConflict, msg, err)
}

// lockRecipient serializes payout creation per recipient across replicas.
// Without redis, or when redis fails, the period constraint is the only
// guard.
func (p *Payd) lockRecipient(ctx context.Context, recipientID string) (func(), error) {
	if p.redis == nil {
		return func() {}, nil
	}
	locker := redlock.NewPayoutLocker(p.redis, recipientID)
	err := locker.Lock(ctx, payoutLockTimeout)
	if errors.Is(err, redlock.ErrLockHeld) {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			"a payout for this recipient is already being created", nil)
	}
	if err != nil {
		logrus.Warnf("payout lock unavailable for %s, continuing without it: %v", recipientID, err)
		return func() {}, nil
	}
	return func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release payout lock %s: %v", locker.Key(), err)
		}
	}, nil
}
