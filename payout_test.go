package payd

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/database/mocks"
	"github.com/crowdpen/payd/internal/apierror"
	redlock "github.com/crowdpen/payd/internal/lock"
	"github.com/crowdpen/payd/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

func day(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
}

var marchWindow = model.NewDateRange(day(1), day(8))

// expectWindow stubs an unpaid recipient with sales from March 1 to 8.
func expectWindow(ds *mocks.MockDataSource, expected, paid int64) {
	ds.On("GetLastSettledTo", mock.Anything, "mer_1").Return(nil, nil)
	ds.On("GetUnsettledSales", mock.Anything, "mer_1", (*time.Time)(nil)).Return(model.UnsettledSales{
		Earliest: ptr.Time(day(1).Add(9 * time.Hour)),
		Latest:   ptr.Time(day(8).Add(17 * time.Hour)),
	}, nil)
	ds.On("SumSaleCredits", mock.Anything, "mer_1", marchWindow).Return(expected, nil)
	ds.On("SumLivePayouts", mock.Anything, "mer_1", marchWindow).Return(paid, nil)
}

func payoutRequest(status string) model.PayoutRequest {
	return model.PayoutRequest{
		RecipientID: "mer_1",
		Currency:    "ngn",
		Status:      status,
		Provider:    "paystack",
		From:        day(1),
		To:          day(8).Add(23*time.Hour + 59*time.Minute),
		Reference:   "po_ref_1",
		Actor:       "admin@example.com",
	}
}

func TestPreviewPayoutWindow(t *testing.T) {
	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds)
	expectWindow(ds, 12000, 2000)

	preview, err := p.PreviewPayoutWindow(context.Background(), "mer_1")
	require.NoError(t, err)
	assert.Equal(t, marchWindow, preview.Window)
	assert.Equal(t, int64(12000), preview.ExpectedCents)
	assert.Equal(t, int64(2000), preview.AlreadyPaidCents)
	assert.Equal(t, int64(10000), preview.RemainingCents)
}

func TestPreviewPayoutWindow_NothingUnsettled(t *testing.T) {
	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds)

	last := day(8).Add(24*time.Hour - time.Millisecond)
	ds.On("GetLastSettledTo", mock.Anything, "mer_1").Return(&last, nil)
	ds.On("GetUnsettledSales", mock.Anything, "mer_1", &last).Return(model.UnsettledSales{}, nil)

	_, err := p.PreviewPayoutWindow(context.Background(), "mer_1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrBadRequest))
	assert.Contains(t, err.Error(), "next eligible start is 2025-03-09")
}

func TestCreatePayout_Pending(t *testing.T) {
	ds, tx := new(mocks.MockDataSource), new(mocks.MockTx)
	p, sender := newTestPayd(t, ds)
	expectWindow(ds, 10000, 0)
	ds.On("GetRecipient", mock.Anything, "mer_1").Return(&model.Recipient{ID: "mer_1", Email: "ama@example.com"}, nil)
	ds.On("BeginTx", mock.Anything).Return(tx, nil)

	tx.On("CreateAdminTransaction", mock.Anything, mock.MatchedBy(func(txn *model.AdminTransaction) bool {
		return txn.AmountCents == 10000 && txn.Status == model.PayoutStatusPending &&
			txn.Currency == "NGN" && txn.TransType == model.TransTypePayout && txn.CompletedAt == nil
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*model.AdminTransaction).ID = "txn_1"
	}).Return(nil)
	tx.On("InsertLedgerEntry", mock.Anything, mock.MatchedBy(func(e *model.LedgerEntry) bool {
		return e.EntryType == model.EntryPayoutDebit && e.AmountCents == -10000 && *e.AdminTransactionID == "txn_1"
	})).Return(true, nil)
	tx.On("InsertPayoutEvent", mock.Anything, mock.MatchedBy(func(e *model.PayoutEvent) bool {
		return e.EventType == model.PayoutEventCreated && e.ToStatus == "pending" && e.Actor == "admin@example.com"
	})).Return(nil)
	tx.On("InsertPayoutPeriod", mock.Anything, mock.MatchedBy(func(period *model.PayoutPeriod) bool {
		return period.IsActive && period.SettlementFrom.Equal(marchWindow.From) && period.SettlementTo.Equal(marchWindow.To)
	})).Return(nil)
	tx.On("Commit").Return(nil)
	tx.On("Rollback").Return(nil)

	txn, err := p.CreatePayout(context.Background(), payoutRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "txn_1", txn.ID)
	assert.Equal(t, "2025-03-01", txn.MetaData["settlement_from"])
	assert.Equal(t, "2025-03-08", txn.MetaData["settlement_to"])

	tx.AssertNotCalled(t, "CreatePayoutReceipt", mock.Anything, mock.Anything)
	assert.Zero(t, sender.count())
	tx.AssertExpectations(t)
}

func TestCreatePayout_InactiveStatusWritesNoDebit(t *testing.T) {
	ds, tx := new(mocks.MockDataSource), new(mocks.MockTx)
	p, _ := newTestPayd(t, ds)
	expectWindow(ds, 10000, 0)
	ds.On("GetRecipient", mock.Anything, "mer_1").Return(&model.Recipient{ID: "mer_1"}, nil)
	ds.On("BeginTx", mock.Anything).Return(tx, nil)
	tx.On("CreateAdminTransaction", mock.Anything, mock.Anything).Return(nil)
	tx.On("InsertPayoutEvent", mock.Anything, mock.Anything).Return(nil)
	tx.On("InsertPayoutPeriod", mock.Anything, mock.MatchedBy(func(period *model.PayoutPeriod) bool {
		return !period.IsActive
	})).Return(nil)
	tx.On("Commit").Return(nil)
	tx.On("Rollback").Return(nil)

	_, err := p.CreatePayout(context.Background(), payoutRequest("cancelled"))
	require.NoError(t, err)
	tx.AssertNotCalled(t, "InsertLedgerEntry", mock.Anything, mock.Anything)
}

func TestCreatePayout_CompletedSendsReceipt(t *testing.T) {
	ds, tx := new(mocks.MockDataSource), new(mocks.MockTx)
	p, sender := newTestPayd(t, ds)
	expectWindow(ds, 786500, 0)
	recipient := &model.Recipient{ID: "mer_1", Email: "ama@example.com", Name: "Ama"}
	ds.On("GetRecipient", mock.Anything, "mer_1").Return(recipient, nil)
	ds.On("BeginTx", mock.Anything).Return(tx, nil)

	tx.On("CreateAdminTransaction", mock.Anything, mock.MatchedBy(func(txn *model.AdminTransaction) bool {
		return txn.CompletedAt != nil && txn.CompletedAt.Equal(fixedNow)
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*model.AdminTransaction).ID = "txn_2"
	}).Return(nil)
	tx.On("InsertLedgerEntry", mock.Anything, mock.Anything).Return(true, nil)
	tx.On("InsertPayoutEvent", mock.Anything, mock.Anything).Return(nil)
	tx.On("InsertPayoutPeriod", mock.Anything, mock.Anything).Return(nil)
	tx.On("CreatePayoutReceipt", mock.Anything, mock.MatchedBy(func(r *model.PayoutReceipt) bool {
		return r.TransactionID == "txn_2" && r.ToEmail == "ama@example.com" && r.BccEmail == "finance@example.com"
	})).Return(true, nil)
	tx.On("Commit").Return(nil)
	tx.On("Rollback").Return(nil)

	claimed := &model.PayoutReceipt{ID: "rcp_1", TransactionID: "txn_2", RecipientID: "mer_1",
		ToEmail: "ama@example.com", BccEmail: "finance@example.com", Status: model.ReceiptStatusSending}
	ds.On("ClaimPayoutReceipt", mock.Anything, "txn_2").Return(claimed, true, nil)
	ds.On("GetAdminTransaction", mock.Anything, "txn_2").Return(&model.AdminTransaction{
		ID:          "txn_2",
		RecipientID: "mer_1",
		Status:      model.PayoutStatusCompleted,
		AmountCents: 786500,
		Currency:    "NGN",
		Provider:    "paystack",
		Reference:   "po_ref_1",
		CompletedAt: &fixedNow,
		MetaData:    map[string]interface{}{"settlement_from": "2025-03-01", "settlement_to": "2025-03-08"},
	}, nil)
	ds.On("MarkReceiptSent", mock.Anything, claimed).Return(nil)

	txn, err := p.CreatePayout(context.Background(), payoutRequest("completed"))
	require.NoError(t, err)
	require.NotNil(t, txn.CompletedAt)

	require.Equal(t, 1, sender.count())
	msg := sender.messages[0]
	assert.Equal(t, "ama@example.com", msg.To)
	assert.Equal(t, "finance@example.com", msg.Bcc)
	assert.Equal(t, "Payout receipt: NGN 7865.00", msg.Subject)
	assert.Contains(t, msg.Text, "Mar 1, 2025 to Mar 8, 2025")
	assert.Equal(t, "msg_1", claimed.ProviderMessageID)
}

func TestCreatePayout_WindowMismatch(t *testing.T) {
	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds)
	expectWindow(ds, 10000, 0)

	req := payoutRequest("pending")
	req.From = day(2)
	_, err := p.CreatePayout(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrBadRequest))
	assert.Contains(t, err.Error(), "payout window must be 2025-03-01 to 2025-03-08")
	ds.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestCreatePayout_NothingToPay(t *testing.T) {
	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds)
	expectWindow(ds, 10000, 10000)

	_, err := p.CreatePayout(context.Background(), payoutRequest("pending"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNothingToPay)
	ds.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestCreatePayout_InvalidStatus(t *testing.T) {
	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds)

	_, err := p.CreatePayout(context.Background(), payoutRequest("paid"))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestCreatePayout_OverlapIsConflict(t *testing.T) {
	ds, tx := new(mocks.MockDataSource), new(mocks.MockTx)
	p, _ := newTestPayd(t, ds)

	concurrent := day(8).Add(24*time.Hour - time.Millisecond)
	ds.On("GetLastSettledTo", mock.Anything, "mer_1").Return(nil, nil).Once()
	ds.On("GetLastSettledTo", mock.Anything, "mer_1").Return(&concurrent, nil)
	ds.On("GetUnsettledSales", mock.Anything, "mer_1", (*time.Time)(nil)).Return(model.UnsettledSales{
		Earliest: ptr.Time(day(1)),
		Latest:   ptr.Time(day(8)),
	}, nil)
	ds.On("SumSaleCredits", mock.Anything, "mer_1", marchWindow).Return(int64(10000), nil)
	ds.On("SumLivePayouts", mock.Anything, "mer_1", marchWindow).Return(int64(0), nil)
	ds.On("GetRecipient", mock.Anything, "mer_1").Return(&model.Recipient{ID: "mer_1"}, nil)
	ds.On("BeginTx", mock.Anything).Return(tx, nil)
	tx.On("CreateAdminTransaction", mock.Anything, mock.Anything).Return(nil)
	tx.On("InsertLedgerEntry", mock.Anything, mock.Anything).Return(true, nil)
	tx.On("InsertPayoutEvent", mock.Anything, mock.Anything).Return(nil)
	tx.On("InsertPayoutPeriod", mock.Anything, mock.Anything).Return(apierror.NewAPIError(apierror.ErrConflict,
		"already paid for part/all of this date range",
		fmt.Errorf("%w: conflicting key value violates exclusion constraint", database.ErrPayoutPeriodOverlap)))
	tx.On("Rollback").Return(nil)

	_, err := p.CreatePayout(context.Background(), payoutRequest("pending"))
	require.Error(t, err)
	assert.Equal(t, 409, apierror.MapErrorToHTTPStatus(err))
	assert.ErrorIs(t, err, database.ErrPayoutPeriodOverlap)
	assert.True(t, strings.Contains(err.Error(), "next eligible start is 2025-03-09"), err.Error())

	tx.AssertNotCalled(t, "Commit")
	tx.AssertCalled(t, "Rollback")
}

func TestCreatePayout_RecipientLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set(redlock.PayoutKey("mer_1"), "other-holder"))

	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds, WithRedis(client))

	_, err := p.CreatePayout(context.Background(), payoutRequest("pending"))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	ds.AssertNotCalled(t, "GetLastSettledTo", mock.Anything, mock.Anything)
}

func TestCreatePayout_ReleasesRecipientLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds, WithRedis(client))
	expectWindow(ds, 10000, 10000)

	_, err := p.CreatePayout(context.Background(), payoutRequest("pending"))
	require.Error(t, err)
	assert.False(t, mr.Exists(redlock.PayoutKey("mer_1")))
}

func TestGetRecipientBalance(t *testing.T) {
	ds := new(mocks.MockDataSource)
	p, _ := newTestPayd(t, ds)
	ds.On("GetRecipientBalance", mock.Anything, "mer_1", "NGN").Return(int64(4200), nil)

	balance, err := p.GetRecipientBalance(context.Background(), "mer_1", " ngn ")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), balance)
}
