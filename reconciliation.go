package payd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/internal/gateway"
	"github.com/crowdpen/payd/internal/mailer"
	"github.com/crowdpen/payd/internal/notification"
	"github.com/crowdpen/payd/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrderResult reports what a payment event did to its order.
type OrderResult struct {
	OrderID        string                `json:"order_id,omitempty"`
	Transition     model.OrderTransition `json:"transition"`
	CreditsWritten int                   `json:"credits_written"`
}

// ReconcileOrder applies a classified payment event to its order. Replays
// are safe: a paid order only gets a note, and sale credits are
// insert-or-ignore.
func (p *Payd) ReconcileOrder(ctx context.Context, event model.PaymentEvent) (*OrderResult, error) {
	ctx, span := tracer.Start(ctx, "ReconcileOrder", trace.WithAttributes(
		attribute.String("payd.gateway", event.Gateway),
		attribute.String("payd.event_kind", string(event.Kind)),
	))
	defer span.End()

	if !event.HasLookupKey() {
		if event.Kind == model.EventUnrecognized {
			return &OrderResult{Transition: model.TransitionNoteOnly}, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "webhook does not reference an order", nil)
	}

	order, err := p.datasource.FindOrder(ctx, database.OrderLookup{
		ID:          event.OrderID,
		Reference:   event.GatewayRef,
		OrderNumber: event.OrderNumber,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("payd.order_id", order.ID))

	tx, err := p.datasource.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := tx.LockOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if locked.BuyerEmail == "" {
		locked.BuyerEmail, locked.BuyerName = order.BuyerEmail, order.BuyerName
	}

	result := &OrderResult{OrderID: locked.ID, Transition: model.DecideOrderTransition(*locked, event.Kind)}
	switch result.Transition {
	case model.TransitionAlreadyProcessed:
		err = p.appendNote(ctx, tx, locked.ID, fmt.Sprintf("%s %s event ignored: order already %s",
			event.Gateway, event.Kind, locked.PaymentStatus))
	case model.TransitionNoteOnly:
		err = p.appendNote(ctx, tx, locked.ID, diagnosticNote(event))
	case model.TransitionMarkFailed:
		err = p.markFailed(ctx, tx, locked, event)
	case model.TransitionMarkPaid:
		err = p.markPaid(ctx, tx, locked, event)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id":   locked.ID,
		"gateway":    event.Gateway,
		"transition": result.Transition,
	}).Info("payment event applied")

	switch result.Transition {
	case model.TransitionMarkPaid:
		result.CreditsWritten = p.recordEarningsAfterPayment(ctx, locked.ID, event.Gateway)
		p.sendOrderConfirmation(ctx, locked, event)
		p.notify(ctx, EventOrderPaid, result)
	case model.TransitionMarkFailed:
		p.notify(ctx, EventOrderFailed, result)
	}
	return result, nil
}

func (p *Payd) appendNote(ctx context.Context, tx database.Tx, orderID, note string) error {
	return tx.AppendOrderNote(ctx, orderID, model.FormatNote(p.now(), note))
}

func (p *Payd) markFailed(ctx context.Context, tx database.Tx, order *model.Order, event model.PaymentEvent) error {
	if err := tx.MarkOrderFailed(ctx, order.ID); err != nil {
		return err
	}
	note := fmt.Sprintf("payment failed via %s", event.Gateway)
	if event.GatewayRef != "" {
		note += " (ref " + event.GatewayRef + ")"
	}
	return p.appendNote(ctx, tx, order.ID, note)
}

// markPaid runs the whole success path inside tx. Any error rolls every
// step back.
func (p *Payd) markPaid(ctx context.Context, tx database.Tx, order *model.Order, event model.PaymentEvent) error {
	update, err := p.confirmPayment(ctx, order, event)
	if err != nil {
		return err
	}
	if err := tx.MarkOrderPaid(ctx, order.ID, update); err != nil {
		return err
	}
	order.PaymentStatus = model.PaymentStatusSuccessful
	order.OrderStatus = model.OrderStatusSuccessful
	order.PaidAt = &update.PaidAt

	if _, err := tx.FulfillOrderItems(ctx, order.ID); err != nil {
		return err
	}

	items, err := p.datasource.GetOrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	if err := tx.DecrementStock(ctx, items); err != nil {
		return err
	}
	if order.UserID != "" {
		if err := tx.ClearActiveCart(ctx, order.UserID); err != nil {
			return err
		}
	}
	if _, err := tx.RedeemCoupon(ctx, order.ID); err != nil {
		return err
	}

	note := fmt.Sprintf("payment confirmed via %s", event.Gateway)
	if update.Reference != "" {
		note += " (ref " + update.Reference + ")"
	}
	return p.appendNote(ctx, tx, order.ID, note)
}

// confirmPayment checks the payment with the gateway where it supports
// verification, then validates amount and currency against the order.
func (p *Payd) confirmPayment(ctx context.Context, order *model.Order, event model.PaymentEvent) (model.PaymentUpdate, error) {
	amount, currency := event.Amount, event.Currency
	reference := event.GatewayRef
	if reference == "" {
		reference = order.PaymentReference
	}
	paidAt := p.now()

	if strings.EqualFold(event.Gateway, gateway.Paystack) && p.verifier != nil {
		v, err := p.verifier.VerifyTransaction(ctx, reference)
		if err != nil {
			return model.PaymentUpdate{}, apierror.NewAPIError(apierror.ErrUpstream, "payment verification failed", err)
		}
		if !v.Successful() {
			return model.PaymentUpdate{}, apierror.NewAPIError(apierror.ErrUpstream,
				fmt.Sprintf("gateway reports payment as %s", v.Status), nil)
		}
		verifiedAmount := v.Amount
		amount = &verifiedAmount
		if v.Currency != "" {
			currency = v.Currency
		}
		if v.PaidAt != nil {
			paidAt = v.PaidAt.UTC()
		}
	}

	if err := model.ValidatePayment(*order, amount, currency, p.config.Payments.AmountToleranceMinor); err != nil {
		notification.Report(fmt.Errorf("order %s: %w", order.ID, err), notification.Tags{
			Stage:     "payment_validation",
			Gateway:   event.Gateway,
			Reference: reference,
		})
		msg := "paid amount does not match order"
		if errors.Is(err, model.ErrCurrencyMismatch) {
			msg = "paid currency does not match order"
		}
		return model.PaymentUpdate{}, apierror.NewAPIError(apierror.ErrBadRequest, msg, err)
	}

	update := model.PaymentUpdate{
		PaidCurrency: strings.ToUpper(order.Currency),
		FxRate:       event.FxRate,
		Reference:    reference,
		PaidAt:       paidAt,
	}
	if currency != "" {
		update.PaidCurrency = strings.ToUpper(currency)
	}
	if amount != nil {
		paid := model.FromMinorUnits(*amount)
		update.PaidAmount = &paid
	} else {
		total := order.Total
		update.PaidAmount = &total
	}
	return update, nil
}

func diagnosticNote(event model.PaymentEvent) string {
	if event.Kind == model.EventFailure {
		return fmt.Sprintf("%s failure event repeated", event.Gateway)
	}
	raw := event.RawEvent
	if raw == "" {
		raw = "(none)"
	}
	return fmt.Sprintf("unrecognized %s event %s; no change", event.Gateway, raw)
}

// sendOrderConfirmation emails the buyer after a committed payment. It
// only reports failures.
func (p *Payd) sendOrderConfirmation(ctx context.Context, order *model.Order, event model.PaymentEvent) {
	to := order.BuyerEmail
	if to == "" {
		to = event.CustomerEmail
	}
	if to == "" {
		return
	}

	items, err := p.datasource.GetOrderItems(ctx, order.ID)
	if err != nil {
		notification.Report(fmt.Errorf("order confirmation for %s: %w", order.ID, err), notification.Tags{Stage: "order_email"})
		return
	}

	data := mailer.OrderConfirmationData{
		BuyerName:    order.BuyerName,
		OrderNumber:  order.OrderNumber,
		Currency:     order.Currency,
		Total:        order.Total,
		SupportEmail: p.config.Mail.SupportEmail,
	}
	if order.PaidAt != nil {
		data.PaidAt = *order.PaidAt
	}
	for _, item := range items {
		line := mailer.OrderConfirmationItem{Name: item.Name, Quantity: item.Quantity, Subtotal: item.Subtotal}
		if item.DownloadURL != model.DownloadURLRevoked {
			line.DownloadURL = item.DownloadURL
		}
		data.Items = append(data.Items, line)
	}

	rendered, err := mailer.RenderOrderConfirmation(data)
	if err == nil {
		_, err = p.mailer.Send(ctx, mailer.Message{
			To:      to,
			ToName:  order.BuyerName,
			Subject: rendered.Subject,
			HTML:    rendered.HTML,
			Text:    rendered.Text,
		})
	}
	if err != nil {
		notification.Report(fmt.Errorf("order confirmation for %s: %w", order.ID, err), notification.Tags{
			Stage:     "order_email",
			Gateway:   event.Gateway,
			Reference: order.ID,
		})
	}
}
