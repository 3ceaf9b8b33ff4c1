package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusSuccessful = "successful"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"

	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusSuccessful = "successful"
	OrderStatusFailed     = "failed"
	OrderStatusCancelled  = "cancelled"

	// DownloadURLRevoked marks an item whose access was withdrawn. It is
	// never overwritten by fulfillment.
	DownloadURLRevoked = "REVOKED"
)

type Order struct {
	ID               string           `json:"id"`
	OrderNumber      string           `json:"order_number"`
	UserID           string           `json:"user_id"`
	Currency         string           `json:"currency"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	Discount         decimal.Decimal  `json:"discount"`
	Total            decimal.Decimal  `json:"total"`
	PaymentStatus    string           `json:"payment_status"`
	OrderStatus      string           `json:"order_status"`
	PaymentReference string           `json:"payment_reference"`
	PaidAmount       *decimal.Decimal `json:"paid_amount,omitempty"`
	PaidCurrency     string           `json:"paid_currency,omitempty"`
	FxRate           *decimal.Decimal `json:"fx_rate,omitempty"`
	Notes            string           `json:"notes"`
	BuyerEmail       string           `json:"buyer_email,omitempty"`
	BuyerName        string           `json:"buyer_name,omitempty"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	MerchantID  string          `json:"merchant_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Quantity    int             `json:"quantity"`
	DownloadURL string          `json:"download_url"`
	FileURL     string          `json:"file_url,omitempty"`
}

// Fulfillable reports whether fulfillment may set the item's download url.
// Set and revoked urls are both final.
func (i OrderItem) Fulfillable() bool {
	return i.DownloadURL == ""
}

// PaymentUpdate carries what a success transition stores on the order.
type PaymentUpdate struct {
	PaidAmount   *decimal.Decimal
	PaidCurrency string
	FxRate       *decimal.Decimal
	Reference    string
	PaidAt       time.Time
}

type EventKind string

const (
	EventSuccess      EventKind = "success"
	EventFailure      EventKind = "failure"
	EventUnrecognized EventKind = "unrecognized"
)

// PaymentEvent is a collection webhook normalized by a gateway adapter.
type PaymentEvent struct {
	Gateway       string                 `json:"gateway"`
	Kind          EventKind              `json:"kind"`
	RawEvent      string                 `json:"raw_event,omitempty"`
	OrderID       string                 `json:"order_id,omitempty"`
	OrderNumber   string                 `json:"order_number,omitempty"`
	GatewayRef    string                 `json:"gateway_ref,omitempty"`
	Amount        *int64                 `json:"amount,omitempty"`
	Currency      string                 `json:"currency,omitempty"`
	FxRate        *decimal.Decimal       `json:"fx_rate,omitempty"`
	CustomerEmail string                 `json:"customer_email,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// HasLookupKey reports whether the event names an order in any way.
func (e PaymentEvent) HasLookupKey() bool {
	return e.OrderID != "" || e.GatewayRef != "" || e.OrderNumber != ""
}

type OrderTransition string

const (
	TransitionAlreadyProcessed OrderTransition = "already_processed"
	TransitionMarkPaid         OrderTransition = "mark_paid"
	TransitionMarkFailed       OrderTransition = "mark_failed"
	TransitionNoteOnly         OrderTransition = "note_only"
)

// DecideOrderTransition maps the locked order and a classified event to the
// command the reconciler executes. A successful or refunded order is never
// moved again.
func DecideOrderTransition(order Order, kind EventKind) OrderTransition {
	switch order.PaymentStatus {
	case PaymentStatusSuccessful, PaymentStatusRefunded:
		return TransitionAlreadyProcessed
	}

	switch kind {
	case EventSuccess:
		return TransitionMarkPaid
	case EventFailure:
		if order.PaymentStatus == PaymentStatusFailed {
			return TransitionNoteOnly
		}
		return TransitionMarkFailed
	default:
		return TransitionNoteOnly
	}
}

var (
	ErrAmountMismatch   = errors.New("paid amount does not match order total")
	ErrCurrencyMismatch = errors.New("paid currency does not match order currency")
)

// ValidatePayment checks the gateway-reported amount and currency against
// the order. The amount check is skipped when the gateway reported none.
func ValidatePayment(order Order, amountMinor *int64, currency string, toleranceMinor int64) error {
	if currency != "" && !SameCurrency(currency, order.Currency) {
		return fmt.Errorf("%w: got %s, expected %s", ErrCurrencyMismatch, currency, order.Currency)
	}
	if amountMinor == nil {
		return nil
	}
	expected := ToMinorUnits(order.Total)
	diff := *amountMinor - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > toleranceMinor {
		return fmt.Errorf("%w: got %d, expected %d", ErrAmountMismatch, *amountMinor, expected)
	}
	return nil
}

// FormatNote prefixes a note with its timestamp for the append-only log.
func FormatNote(at time.Time, note string) string {
	return fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), note)
}
