package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntrySaleCredit          EntryType = "sale_credit"
	EntryPayoutDebit         EntryType = "payout_debit"
	EntryPayoutDebitReversal EntryType = "payout_debit_reversal"
)

// LedgerEntry is one immutable, signed fact attributed to a recipient.
// Positive amounts credit the recipient, negative amounts debit it.
type LedgerEntry struct {
	ID                 string                 `json:"id"`
	RecipientID        string                 `json:"recipient_id"`
	AmountCents        int64                  `json:"amount_cents"`
	Currency           string                 `json:"currency"`
	EntryType          EntryType              `json:"entry_type"`
	OrderID            *string                `json:"order_id,omitempty"`
	OrderItemID        *string                `json:"order_item_id,omitempty"`
	AdminTransactionID *string                `json:"admin_transaction_id,omitempty"`
	EarnedAt           time.Time              `json:"earned_at"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// ItemDiscount is a coupon redemption attributed to an order item.
type ItemDiscount struct {
	OrderItemID    string          `json:"order_item_id"`
	Amount         decimal.Decimal `json:"amount"`
	CreatorIsStaff bool            `json:"creator_is_staff"`
}

// FeeSettings are fractions, e.g. 0.10 for ten percent.
type FeeSettings struct {
	CrowdpenFeePct    decimal.Decimal `json:"crowdpen_fee_pct"`
	StartbuttonFeePct decimal.Decimal `json:"startbutton_fee_pct"`
}

type SaleCredit struct {
	AmountCents            int64
	Revenue                decimal.Decimal
	DiscountTotal          decimal.Decimal
	DiscountMerchantFunded decimal.Decimal
	CrowdpenFee            decimal.Decimal
	StartbuttonFee         decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// ComputeSaleCredit returns the merchant's credit for one paid item.
// The platform fee is charged on gross revenue and the processor fee on
// what the buyer paid. Only merchant-funded discounts reduce the credit.
func ComputeSaleCredit(revenue decimal.Decimal, discounts []ItemDiscount, fees FeeSettings) SaleCredit {
	discountTotal := decimal.Zero
	merchantFunded := decimal.Zero
	for _, d := range discounts {
		discountTotal = discountTotal.Add(d.Amount)
		if !d.CreatorIsStaff {
			merchantFunded = merchantFunded.Add(d.Amount)
		}
	}

	crowdpenFee := revenue.Mul(fees.CrowdpenFeePct)
	startbuttonFee := revenue.Sub(discountTotal).Mul(fees.StartbuttonFeePct)

	net := revenue.Sub(merchantFunded).Sub(crowdpenFee).Sub(startbuttonFee)
	if net.IsNegative() {
		net = decimal.Zero
	}

	return SaleCredit{
		AmountCents:            net.Mul(hundred).Round(0).IntPart(),
		Revenue:                revenue,
		DiscountTotal:          discountTotal,
		DiscountMerchantFunded: merchantFunded,
		CrowdpenFee:            crowdpenFee,
		StartbuttonFee:         startbuttonFee,
	}
}

// MetaData is the audit payload stamped on the sale_credit entry.
func (c SaleCredit) MetaData(fees FeeSettings, gateway string) map[string]interface{} {
	return map[string]interface{}{
		"revenue":                  c.Revenue.StringFixed(2),
		"discount_total":           c.DiscountTotal.StringFixed(2),
		"discount_merchant_funded": c.DiscountMerchantFunded.StringFixed(2),
		"crowdpen_fee_pct":         fees.CrowdpenFeePct.String(),
		"startbutton_fee_pct":      fees.StartbuttonFeePct.String(),
		"crowdpen_fee":             c.CrowdpenFee.StringFixed(2),
		"startbutton_fee":          c.StartbuttonFee.StringFixed(2),
		"gateway":                  gateway,
	}
}

// ToMinorUnits converts a major-unit decimal amount to integer cents,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer cents to a major-unit decimal.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func SameCurrency(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
