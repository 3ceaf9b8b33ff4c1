package payd

import (
	"context"
	"fmt"

	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/internal/metrics"
	"github.com/crowdpen/payd/internal/notification"
	"github.com/crowdpen/payd/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// orderPaidSource tags credits written from a database notification.
const orderPaidSource = "notification"

// ReconcileReport summarizes a missing-credit backfill run.
type ReconcileReport struct {
	Orders         int `json:"orders"`
	CreditsWritten int `json:"credits_written"`
	Failed         int `json:"failed"`
}

// RecordEarnings writes one sale credit per item of a paid order. Existing
// credits are left untouched, so the call is safe to repeat. It returns the
// number of credits inserted.
func (p *Payd) RecordEarnings(ctx context.Context, orderID, gatewayName string) (int, error) {
	ctx, span := tracer.Start(ctx, "RecordEarnings")
	defer span.End()

	order, err := p.datasource.FindOrder(ctx, database.OrderLookup{ID: orderID})
	if err != nil {
		return 0, err
	}
	if order.PaymentStatus != model.PaymentStatusSuccessful {
		return 0, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("order %s is not paid", order.ID), nil)
	}

	items, err := p.datasource.GetOrderItems(ctx, order.ID)
	if err != nil {
		return 0, err
	}
	discounts, err := p.datasource.GetItemDiscounts(ctx, order.ID)
	if err != nil {
		return 0, err
	}
	fees, err := p.feeSettings(ctx)
	if err != nil {
		return 0, err
	}

	byItem := make(map[string][]model.ItemDiscount, len(discounts))
	for _, d := range discounts {
		byItem[d.OrderItemID] = append(byItem[d.OrderItemID], d)
	}

	earnedAt := p.now()
	if order.PaidAt != nil {
		earnedAt = order.PaidAt.UTC()
	}

	entries := make([]model.LedgerEntry, 0, len(items))
	for _, item := range items {
		if item.MerchantID == "" {
			logrus.Warnf("order item %s has no merchant; skipping sale credit", item.ID)
			continue
		}
		credit := model.ComputeSaleCredit(item.Subtotal, byItem[item.ID], fees)
		entries = append(entries, model.LedgerEntry{
			RecipientID: item.MerchantID,
			AmountCents: credit.AmountCents,
			Currency:    order.Currency,
			EntryType:   model.EntrySaleCredit,
			OrderID:     model.StringPtr(order.ID),
			OrderItemID: model.StringPtr(item.ID),
			EarnedAt:    earnedAt,
			MetaData:    credit.MetaData(fees, gatewayName),
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}

	inserted, err := p.datasource.RecordSaleCredits(ctx, entries)
	if err != nil {
		return 0, err
	}
	metrics.RecordSaleCredits(inserted)
	return inserted, nil
}

// recordEarningsAfterPayment runs the ledger writer for a committed order.
// Its failure never affects the order.
func (p *Payd) recordEarningsAfterPayment(ctx context.Context, orderID, gatewayName string) int {
	inserted, err := p.RecordEarnings(ctx, orderID, gatewayName)
	if err != nil {
		notification.Report(fmt.Errorf("earnings for order %s: %w", orderID, err), notification.Tags{
			Stage:     "earnings",
			Gateway:   gatewayName,
			Reference: orderID,
		})
		return 0
	}
	return inserted
}

// ReconcileMissingCredits backfills sale credits for paid orders that have
// none, at most limit orders per call.
func (p *Payd) ReconcileMissingCredits(ctx context.Context, limit int) (ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "ReconcileMissingCredits")
	defer span.End()

	var report ReconcileReport
	if limit <= 0 {
		limit = p.config.Queue.ReconcileBatchSize
	}
	ids, err := p.datasource.ListPaidOrdersMissingCredits(ctx, limit)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		report.Orders++
		inserted, err := p.RecordEarnings(ctx, id, "reconcile")
		if err != nil {
			report.Failed++
			notification.Report(fmt.Errorf("earnings backfill for order %s: %w", id, err), notification.Tags{
				Stage:     "earnings",
				Reference: id,
			})
			continue
		}
		report.CreditsWritten += inserted
	}
	return report, nil
}

// feeSettings reads the active fee record, falling back to configured
// defaults when none exists.
func (p *Payd) feeSettings(ctx context.Context) (model.FeeSettings, error) {
	fees, err := p.datasource.GetActiveFeeSettings(ctx)
	if err != nil {
		return model.FeeSettings{}, err
	}
	if fees != nil {
		return *fees, nil
	}
	return model.FeeSettings{
		CrowdpenFeePct:    decimal.NewFromFloat(p.config.Fees.DefaultCrowdpenPct),
		StartbuttonFeePct: decimal.NewFromFloat(p.config.Fees.DefaultStartbuttonPct),
	}, nil
}

// HandleNotification records earnings for an order the storefront marked
// paid outside the webhook path. It is fed by the orders NOTIFY trigger.
func (p *Payd) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	if table != "orders" {
		return nil
	}
	orderID, _ := data["id"].(string)
	if orderID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "notification has no order id", nil)
	}
	inserted, err := p.RecordEarnings(ctx, orderID, orderPaidSource)
	if err != nil {
		return err
	}
	if inserted > 0 {
		logrus.Infof("recorded %d sale credits for order %s from notification", inserted, orderID)
	}
	return nil
}
