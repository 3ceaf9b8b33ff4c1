package model

import (
	"errors"
	"fmt"
	"time"
)

const (
	TransTypePayout     = "payout"
	TransTypeCollection = "collection"

	PayoutStatusPending           = "pending"
	PayoutStatusCompleted         = "completed"
	PayoutStatusFailed            = "failed"
	PayoutStatusCancelled         = "cancelled"
	PayoutStatusRefunded          = "refunded"
	PayoutStatusPartiallyRefunded = "partially_refunded"
	PayoutStatusReversed          = "reversed"

	ReceiptStatusQueued  = "queued"
	ReceiptStatusSending = "sending"
	ReceiptStatusSent    = "sent"
	ReceiptStatusError   = "error"

	PayoutEventCreated       = "payout.created"
	PayoutEventStatusChanged = "payout.status_changed"

	DateLayout = "2006-01-02"
)

var payoutStatuses = map[string]bool{
	PayoutStatusPending:           true,
	PayoutStatusCompleted:         true,
	PayoutStatusFailed:            true,
	PayoutStatusCancelled:         true,
	PayoutStatusRefunded:          true,
	PayoutStatusPartiallyRefunded: true,
	PayoutStatusReversed:          true,
}

func IsValidPayoutStatus(status string) bool {
	return payoutStatuses[status]
}

// IsActivePayoutStatus reports whether a payout in this status holds its
// settlement window and debits the ledger.
func IsActivePayoutStatus(status string) bool {
	return status == PayoutStatusPending || status == PayoutStatusCompleted
}

// RequiresDebitReversal reports whether a payout in this status must have
// its debit credited back.
func RequiresDebitReversal(status string) bool {
	switch status {
	case PayoutStatusFailed, PayoutStatusReversed, PayoutStatusCancelled:
		return true
	}
	return false
}

// NextPayoutStatus applies an incoming transfer status to the current one.
// Pending moves anywhere, completed may still fail or be reversed, and
// every other status is final.
func NextPayoutStatus(current, incoming string) (string, bool) {
	if incoming == "" || incoming == current {
		return current, false
	}
	switch current {
	case PayoutStatusPending:
		return incoming, true
	case PayoutStatusCompleted:
		if incoming == PayoutStatusFailed || incoming == PayoutStatusReversed {
			return incoming, true
		}
	}
	return current, false
}

type AdminTransaction struct {
	ID               string                 `json:"id"`
	RecipientID      string                 `json:"recipient_id"`
	TransType        string                 `json:"trans_type"`
	Status           string                 `json:"status"`
	AmountCents      int64                  `json:"amount"`
	Currency         string                 `json:"currency"`
	Provider         string                 `json:"provider"`
	Reference        string                 `json:"reference"`
	TransactionRef   string                 `json:"transaction_reference"`
	GatewayReference string                 `json:"gateway_reference"`
	TransferCode     string                 `json:"transfer_code"`
	Note             string                 `json:"note,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type PayoutPeriod struct {
	ID             string    `json:"id"`
	RecipientID    string    `json:"recipient_id"`
	TransactionID  string    `json:"transaction_id"`
	SettlementFrom time.Time `json:"settlement_from"`
	SettlementTo   time.Time `json:"settlement_to"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

type PayoutEvent struct {
	ID            string                 `json:"id"`
	TransactionID string                 `json:"transaction_id"`
	EventType     string                 `json:"event_type"`
	FromStatus    string                 `json:"from_status,omitempty"`
	ToStatus      string                 `json:"to_status"`
	Actor         string                 `json:"actor"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

type PayoutReceipt struct {
	ID                string     `json:"id"`
	TransactionID     string     `json:"transaction_id"`
	RecipientID       string     `json:"recipient_id"`
	ToEmail           string     `json:"to_email"`
	CcEmail           string     `json:"cc_email,omitempty"`
	BccEmail          string     `json:"bcc_email,omitempty"`
	Subject           string     `json:"subject,omitempty"`
	HTML              string     `json:"html,omitempty"`
	Text              string     `json:"text,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Status            string     `json:"status"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Claimable reports whether a send may claim the receipt.
func (r PayoutReceipt) Claimable() bool {
	return r.SentAt == nil && r.Status != ReceiptStatusSending && r.Status != ReceiptStatusSent
}

type Recipient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// PayoutRequest is an operator's request to pay a recipient.
type PayoutRequest struct {
	RecipientID string    `json:"recipient_id"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Provider    string    `json:"provider"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Reference   string    `json:"reference,omitempty"`
	Note        string    `json:"note,omitempty"`
	Actor       string    `json:"actor,omitempty"`
}

type TransferStatus string

const (
	TransferCompleted    TransferStatus = "completed"
	TransferFailed       TransferStatus = "failed"
	TransferReversed     TransferStatus = "reversed"
	TransferPending      TransferStatus = "pending"
	TransferUnrecognized TransferStatus = "unrecognized"
)

// PayoutStatus is the admin transaction status a transfer status maps to.
func (s TransferStatus) PayoutStatus() string {
	switch s {
	case TransferCompleted:
		return PayoutStatusCompleted
	case TransferFailed:
		return PayoutStatusFailed
	case TransferReversed:
		return PayoutStatusReversed
	case TransferPending:
		return PayoutStatusPending
	}
	return ""
}

// TransferEvent is a transfer webhook normalized by a gateway adapter.
type TransferEvent struct {
	Gateway       string                 `json:"gateway"`
	Status        TransferStatus         `json:"status"`
	RawEvent      string                 `json:"raw_event,omitempty"`
	Reference     string                 `json:"reference,omitempty"`
	TransferCode  string                 `json:"transfer_code,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Amount        *int64                 `json:"amount,omitempty"`
	Currency      string                 `json:"currency,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (e TransferEvent) HasLookupKey() bool {
	return e.Reference != "" || e.TransferCode != "" || e.TransactionID != ""
}

// DateRange is an inclusive settlement window. From is the start of its
// UTC day and To the last millisecond of its UTC day.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: StartOfDay(from), To: EndOfDay(to)}
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s to %s", r.From.Format(DateLayout), r.To.Format(DateLayout))
}

// SameDays compares ranges by calendar day.
func (r DateRange) SameDays(o DateRange) bool {
	return r.From.UTC().Format(DateLayout) == o.From.UTC().Format(DateLayout) &&
		r.To.UTC().Format(DateLayout) == o.To.UTC().Format(DateLayout)
}

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Millisecond)
}

// UnsettledSales is the earned_at span of sale credits not yet covered by
// an active payout period.
type UnsettledSales struct {
	Earliest *time.Time
	Latest   *time.Time
}

var (
	ErrNoUnsettledSales = errors.New("no unsettled sales for this recipient")
	ErrNothingToPay     = errors.New("nothing to pay for this window")
)

// WindowError reports a requested window that differs from the only
// acceptable one.
type WindowError struct {
	Requested DateRange
	Expected  DateRange
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("payout window must be %s (requested %s)", e.Expected, e.Requested)
}

// ResolvePayoutWindow computes the only window a payout may settle next.
// Sales dated on or before lastSettledTo are never eligible again.
func ResolvePayoutWindow(lastSettledTo *time.Time, unsettled UnsettledSales, today time.Time) (DateRange, error) {
	if unsettled.Earliest == nil || unsettled.Latest == nil {
		return DateRange{}, ErrNoUnsettledSales
	}

	from := StartOfDay(*unsettled.Earliest)
	if lastSettledTo != nil {
		next := NextEligibleStart(*lastSettledTo)
		if from.Before(next) {
			from = next
		}
	}

	to := StartOfDay(*unsettled.Latest)
	if t := StartOfDay(today); t.Before(to) {
		to = t
	}

	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: earliest eligible date %s is after %s",
			ErrNoUnsettledSales, from.Format(DateLayout), to.Format(DateLayout))
	}
	return NewDateRange(from, to), nil
}

// ValidateRequestedWindow accepts only the eligible window, compared by day.
func ValidateRequestedWindow(requested, eligible DateRange) error {
	if !requested.SameDays(eligible) {
		return &WindowError{Requested: requested, Expected: eligible}
	}
	return nil
}

// NextEligibleStart is the first day after a settled window.
func NextEligibleStart(lastSettledTo time.Time) time.Time {
	return StartOfDay(lastSettledTo).Add(24 * time.Hour)
}
