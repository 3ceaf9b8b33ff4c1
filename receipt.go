package payd

import (
	"context"
	"fmt"
	"time"

	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/internal/mailer"
	"github.com/crowdpen/payd/internal/metrics"
	"github.com/crowdpen/payd/internal/notification"
	"github.com/crowdpen/payd/model"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
)

func (p *Payd) newReceipt(txn *model.AdminTransaction, recipient *model.Recipient) *model.PayoutReceipt {
	return &model.PayoutReceipt{
		TransactionID: txn.ID,
		RecipientID:   txn.RecipientID,
		ToEmail:       recipient.Email,
		BccEmail:      p.config.Mail.PayoutBcc,
		Status:        model.ReceiptStatusQueued,
	}
}

// SendPayoutReceipt sends a completed payout's receipt at most once. The
// row is claimed in its own transaction before the email goes out, so a
// concurrent caller sees it claimed and returns without sending. A failed
// send is recorded on the row and returned.
func (p *Payd) SendPayoutReceipt(ctx context.Context, transactionID string) (*model.PayoutReceipt, error) {
	ctx, span := tracer.Start(ctx, "SendPayoutReceipt")
	defer span.End()

	receipt, claimed, err := p.datasource.ClaimPayoutReceipt(ctx, transactionID)
	if apierror.Is(err, apierror.ErrNotFound) {
		if err = p.registerReceipt(ctx, transactionID); err != nil {
			return nil, err
		}
		receipt, claimed, err = p.datasource.ClaimPayoutReceipt(ctx, transactionID)
	}
	if err != nil {
		return nil, err
	}
	if !claimed {
		metrics.RecordReceipt("skipped")
		return receipt, nil
	}

	if err := p.deliverReceipt(ctx, receipt); err != nil {
		metrics.RecordReceipt("error")
		if markErr := p.datasource.MarkReceiptFailed(ctx, receipt.ID, err.Error()); markErr != nil {
			logrus.Errorf("failed to record receipt error for %s: %v", transactionID, markErr)
		}
		receipt.Status = model.ReceiptStatusError
		receipt.Error = err.Error()
		notification.Report(fmt.Errorf("payout receipt %s: %w", transactionID, err), notification.Tags{
			Stage:     "receipt",
			Reference: transactionID,
		})
		return receipt, apierror.NewAPIError(apierror.ErrUpstream, "payout receipt could not be sent", err)
	}

	if err := p.datasource.MarkReceiptSent(ctx, receipt); err != nil {
		return receipt, err
	}
	metrics.RecordReceipt("sent")
	return receipt, nil
}

// registerReceipt creates the receipt row for a completed payout that has
// none yet.
func (p *Payd) registerReceipt(ctx context.Context, transactionID string) error {
	txn, err := p.datasource.GetAdminTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if txn.Status != model.PayoutStatusCompleted {
		return apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("payout %s is %s; receipts are sent for completed payouts only", txn.ID, txn.Status), nil)
	}
	recipient, err := p.datasource.GetRecipient(ctx, txn.RecipientID)
	if err != nil {
		return err
	}
	if recipient.Email == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "recipient has no email address", nil)
	}
	_, err = p.datasource.CreatePayoutReceipt(ctx, p.newReceipt(txn, recipient))
	return err
}

// deliverReceipt renders and sends a claimed receipt, filling in what was
// sent.
func (p *Payd) deliverReceipt(ctx context.Context, receipt *model.PayoutReceipt) error {
	txn, err := p.datasource.GetAdminTransaction(ctx, receipt.TransactionID)
	if err != nil {
		return err
	}
	recipient, err := p.datasource.GetRecipient(ctx, receipt.RecipientID)
	if err != nil {
		return err
	}

	data := mailer.PayoutReceiptData{
		RecipientName: recipient.Name,
		AmountCents:   txn.AmountCents,
		Currency:      txn.Currency,
		Reference:     txn.Reference,
		TransactionID: txn.ID,
		Provider:      txn.Provider,
		SupportEmail:  p.config.Mail.SupportEmail,
	}
	if data.Reference == "" {
		data.Reference = txn.ID
	}
	data.SettlementFrom = metaDate(txn.MetaData, "settlement_from")
	data.SettlementTo = metaDate(txn.MetaData, "settlement_to")
	if txn.CompletedAt != nil {
		data.CompletedAt = *txn.CompletedAt
	}

	rendered, err := mailer.RenderPayoutReceipt(data)
	if err != nil {
		return err
	}
	messageID, err := p.mailer.Send(ctx, mailer.Message{
		To:      receipt.ToEmail,
		ToName:  recipient.Name,
		Cc:      receipt.CcEmail,
		Bcc:     receipt.BccEmail,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	if err != nil {
		return err
	}

	receipt.Subject = rendered.Subject
	receipt.HTML = rendered.HTML
	receipt.Text = rendered.Text
	receipt.ProviderMessageID = messageID
	receipt.SentAt = ptr.Time(p.now())
	return nil
}

func metaDate(meta map[string]interface{}, key string) time.Time {
	s, _ := meta[key].(string)
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
