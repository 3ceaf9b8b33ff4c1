package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("txn")
	assert.True(t, strings.HasPrefix(id, "txn_"))
	assert.Len(t, id, len("txn_")+36)
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	assert.Equal(t, "x", *StringPtr("x"))
}

func fees(crowdpen, startbutton string) FeeSettings {
	return FeeSettings{
		CrowdpenFeePct:    decimal.RequireFromString(crowdpen),
		StartbuttonFeePct: decimal.RequireFromString(startbutton),
	}
}

func TestComputeSaleCredit_MerchantFundedDiscount(t *testing.T) {
	credit := ComputeSaleCredit(
		decimal.NewFromInt(100),
		[]ItemDiscount{{OrderItemID: "item-1", Amount: decimal.NewFromInt(10)}},
		fees("0.10", "0.015"),
	)

	assert.Equal(t, int64(7865), credit.AmountCents)
	assert.True(t, credit.DiscountTotal.Equal(decimal.NewFromInt(10)))
	assert.True(t, credit.DiscountMerchantFunded.Equal(decimal.NewFromInt(10)))
	assert.True(t, credit.StartbuttonFee.Equal(decimal.RequireFromString("1.35")))
}

func TestComputeSaleCredit_PlatformFundedDiscount(t *testing.T) {
	credit := ComputeSaleCredit(
		decimal.NewFromInt(100),
		[]ItemDiscount{{OrderItemID: "item-1", Amount: decimal.NewFromInt(10), CreatorIsStaff: true}},
		fees("0.10", "0.015"),
	)

	assert.Equal(t, int64(8865), credit.AmountCents)
	assert.True(t, credit.DiscountMerchantFunded.IsZero())
}

func TestComputeSaleCredit_MixedDiscounts(t *testing.T) {
	credit := ComputeSaleCredit(
		decimal.NewFromInt(100),
		[]ItemDiscount{
			{Amount: decimal.NewFromInt(5)},
			{Amount: decimal.NewFromInt(5), CreatorIsStaff: true},
		},
		fees("0.10", "0.015"),
	)
	// (100 - 5) - 10 - 90*0.015 = 83.65
	assert.Equal(t, int64(8365), credit.AmountCents)
}

func TestComputeSaleCredit_ClampsAtZero(t *testing.T) {
	credit := ComputeSaleCredit(
		decimal.NewFromInt(10),
		[]ItemDiscount{{Amount: decimal.NewFromInt(10)}},
		fees("0.50", "0.015"),
	)
	assert.Equal(t, int64(0), credit.AmountCents)
}

func TestComputeSaleCredit_RoundsHalfUp(t *testing.T) {
	// 0.125 * 100 = 12.5 cents
	credit := ComputeSaleCredit(decimal.RequireFromString("0.125"), nil, fees("0", "0"))
	assert.Equal(t, int64(13), credit.AmountCents)
}

func TestSaleCreditMetaData(t *testing.T) {
	f := fees("0.10", "0.015")
	credit := ComputeSaleCredit(decimal.NewFromInt(100), nil, f)
	meta := credit.MetaData(f, "paystack")

	assert.Equal(t, "100.00", meta["revenue"])
	assert.Equal(t, "0.1", meta["crowdpen_fee_pct"])
	assert.Equal(t, "0.015", meta["startbutton_fee_pct"])
	assert.Equal(t, "paystack", meta["gateway"])
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.RequireFromString("9.995")))
	assert.Equal(t, "12.34", FromMinorUnits(1234).StringFixed(2))
}

func TestDecideOrderTransition(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		kind     EventKind
		expected OrderTransition
	}{
		{"pending success", PaymentStatusPending, EventSuccess, TransitionMarkPaid},
		{"pending failure", PaymentStatusPending, EventFailure, TransitionMarkFailed},
		{"pending unknown", PaymentStatusPending, EventUnrecognized, TransitionNoteOnly},
		{"successful replay", PaymentStatusSuccessful, EventSuccess, TransitionAlreadyProcessed},
		{"successful then failure", PaymentStatusSuccessful, EventFailure, TransitionAlreadyProcessed},
		{"refunded", PaymentStatusRefunded, EventSuccess, TransitionAlreadyProcessed},
		{"failed then success", PaymentStatusFailed, EventSuccess, TransitionMarkPaid},
		{"failed replay", PaymentStatusFailed, EventFailure, TransitionNoteOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideOrderTransition(Order{PaymentStatus: tt.status}, tt.kind)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidatePayment(t *testing.T) {
	order := Order{Currency: "USD", Total: decimal.RequireFromString("25.00")}

	assert.NoError(t, ValidatePayment(order, Int64Ptr(2500), "usd", 5))
	assert.NoError(t, ValidatePayment(order, Int64Ptr(2504), "USD", 5))
	assert.NoError(t, ValidatePayment(order, nil, "USD", 5))

	err := ValidatePayment(order, Int64Ptr(2400), "USD", 5)
	assert.True(t, errors.Is(err, ErrAmountMismatch))

	err = ValidatePayment(order, Int64Ptr(2500), "NGN", 5)
	assert.True(t, errors.Is(err, ErrCurrencyMismatch))
}

func TestOrderItemFulfillable(t *testing.T) {
	assert.True(t, OrderItem{}.Fulfillable())
	assert.False(t, OrderItem{DownloadURL: DownloadURLRevoked}.Fulfillable())
	assert.False(t, OrderItem{DownloadURL: "https://files/x.pdf"}.Fulfillable())
}

func TestNextPayoutStatus(t *testing.T) {
	tests := []struct {
		current, incoming string
		next              string
		changed           bool
	}{
		{PayoutStatusPending, PayoutStatusCompleted, PayoutStatusCompleted, true},
		{PayoutStatusPending, PayoutStatusFailed, PayoutStatusFailed, true},
		{PayoutStatusPending, PayoutStatusPending, PayoutStatusPending, false},
		{PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusFailed, true},
		{PayoutStatusCompleted, PayoutStatusReversed, PayoutStatusReversed, true},
		{PayoutStatusCompleted, PayoutStatusPending, PayoutStatusCompleted, false},
		{PayoutStatusCompleted, PayoutStatusCompleted, PayoutStatusCompleted, false},
		{PayoutStatusFailed, PayoutStatusPending, PayoutStatusFailed, false},
		{PayoutStatusFailed, PayoutStatusCompleted, PayoutStatusFailed, false},
		{PayoutStatusReversed, PayoutStatusFailed, PayoutStatusReversed, false},
		{PayoutStatusPending, "", PayoutStatusPending, false},
	}

	for _, tt := range tests {
		next, changed := NextPayoutStatus(tt.current, tt.incoming)
		assert.Equal(t, tt.next, next, "%s -> %s", tt.current, tt.incoming)
		assert.Equal(t, tt.changed, changed, "%s -> %s", tt.current, tt.incoming)
	}
}

func TestPayoutStatusHelpers(t *testing.T) {
	assert.True(t, IsActivePayoutStatus(PayoutStatusPending))
	assert.True(t, IsActivePayoutStatus(PayoutStatusCompleted))
	assert.False(t, IsActivePayoutStatus(PayoutStatusFailed))

	assert.True(t, RequiresDebitReversal(PayoutStatusFailed))
	assert.True(t, RequiresDebitReversal(PayoutStatusCancelled))
	assert.True(t, RequiresDebitReversal(PayoutStatusReversed))
	assert.False(t, RequiresDebitReversal(PayoutStatusCompleted))

	assert.True(t, IsValidPayoutStatus(PayoutStatusPartiallyRefunded))
	assert.False(t, IsValidPayoutStatus("paid"))

	assert.Equal(t, PayoutStatusCompleted, TransferCompleted.PayoutStatus())
	assert.Equal(t, "", TransferUnrecognized.PayoutStatus())
}

func TestReceiptClaimable(t *testing.T) {
	now := time.Now()
	assert.True(t, PayoutReceipt{Status: ReceiptStatusQueued}.Claimable())
	assert.True(t, PayoutReceipt{Status: ReceiptStatusError}.Claimable())
	assert.False(t, PayoutReceipt{Status: ReceiptStatusSending}.Claimable())
	assert.False(t, PayoutReceipt{Status: ReceiptStatusSent, SentAt: &now}.Claimable())
}

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolvePayoutWindow(t *testing.T) {
	today := day("2024-03-20").Add(15 * time.Hour)

	window, err := ResolvePayoutWindow(nil, UnsettledSales{
		Earliest: ptr.Time(day("2024-03-01").Add(9 * time.Hour)),
		Latest:   ptr.Time(day("2024-03-15").Add(18 * time.Hour)),
	}, today)
	require.NoError(t, err)
	assert.Equal(t, day("2024-03-01"), window.From)
	assert.Equal(t, day("2024-03-15").Add(24*time.Hour-time.Millisecond), window.To)
	assert.Equal(t, "2024-03-01 to 2024-03-15", window.String())
}

func TestResolvePayoutWindow_ClampsToToday(t *testing.T) {
	today := day("2024-03-10")
	window, err := ResolvePayoutWindow(nil, UnsettledSales{
		Earliest: ptr.Time(day("2024-03-01")),
		Latest:   ptr.Time(day("2024-03-15")),
	}, today)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", window.To.Format(DateLayout))
}

func TestResolvePayoutWindow_AfterLastSettled(t *testing.T) {
	last := EndOfDay(day("2024-03-05"))
	window, err := ResolvePayoutWindow(&last, UnsettledSales{
		Earliest: ptr.Time(day("2024-03-05").Add(23 * time.Hour)),
		Latest:   ptr.Time(day("2024-03-12")),
	}, day("2024-03-20"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-06", window.From.Format(DateLayout))
	assert.Equal(t, day("2024-03-06"), NextEligibleStart(last))
}

func TestResolvePayoutWindow_NoSales(t *testing.T) {
	_, err := ResolvePayoutWindow(nil, UnsettledSales{}, time.Now())
	assert.True(t, errors.Is(err, ErrNoUnsettledSales))

	_, err = ResolvePayoutWindow(nil, UnsettledSales{
		Earliest: ptr.Time(day("2024-04-01")),
		Latest:   ptr.Time(day("2024-04-02")),
	}, day("2024-03-20"))
	assert.True(t, errors.Is(err, ErrNoUnsettledSales))
}

func TestValidateRequestedWindow(t *testing.T) {
	eligible := NewDateRange(day("2024-03-01"), day("2024-03-15"))

	assert.NoError(t, ValidateRequestedWindow(NewDateRange(day("2024-03-01"), day("2024-03-15")), eligible))

	err := ValidateRequestedWindow(NewDateRange(day("2024-03-02"), day("2024-03-15")), eligible)
	var windowErr *WindowError
	require.True(t, errors.As(err, &windowErr))
	assert.Contains(t, err.Error(), "2024-03-01 to 2024-03-15")
}
