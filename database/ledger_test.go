/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTx(t *testing.T) (*pgTx, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return &pgTx{tx: tx}, mock, db
}

func saleCreditEntry(itemID string, cents int64) model.LedgerEntry {
	return model.LedgerEntry{
		RecipientID: "usr_merchant",
		AmountCents: cents,
		Currency:    "USD",
		EntryType:   model.EntrySaleCredit,
		OrderID:     model.StringPtr("ord_1"),
		OrderItemID: model.StringPtr(itemID),
		EarnedAt:    time.Now().UTC(),
		MetaData:    map[string]interface{}{"gateway": "paystack"},
	}
}

func TestRecordSaleCredits_CountsOnlyNewRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO earnings_ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO earnings_ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	entries := []model.LedgerEntry{saleCreditEntry("itm_1", 7865), saleCreditEntry("itm_2", 500)}
	inserted, err := ds.RecordSaleCredits(context.Background(), entries)
	assert.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NotEmpty(t, entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSaleCredits_RejectsOtherEntryTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectBegin()
	mock.ExpectRollback()

	entry := saleCreditEntry("itm_1", 100)
	entry.EntryType = model.EntryPayoutDebit
	_, err = ds.RecordSaleCredits(context.Background(), []model.LedgerEntry{entry})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLedgerEntry_DuplicateIsIgnored(t *testing.T) {
	tx, mock, db := newTestTx(t)
	defer db.Close()

	txnID := "txn_1"
	mock.ExpectExec("ON CONFLICT \\(admin_transaction_id\\) WHERE entry_type = 'payout_debit' DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := tx.InsertLedgerEntry(context.Background(), &model.LedgerEntry{
		RecipientID:        "usr_merchant",
		AmountCents:        -7865,
		Currency:           "USD",
		EntryType:          model.EntryPayoutDebit,
		AdminTransactionID: &txnID,
		EarnedAt:           time.Now(),
	})
	assert.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLedgerEntry_UnknownType(t *testing.T) {
	tx, _, db := newTestTx(t)
	defer db.Close()

	_, err := tx.InsertLedgerEntry(context.Background(), &model.LedgerEntry{EntryType: "refund"})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestGetItemDiscounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	rows := sqlmock.NewRows([]string{"order_item_id", "discount_amount", "creator_is_staff"}).
		AddRow("itm_1", "10.00", false).
		AddRow("itm_2", "5.00", true)
	mock.ExpectQuery("FROM coupon_redemption_items").WithArgs("ord_1").WillReturnRows(rows)

	discounts, err := ds.GetItemDiscounts(context.Background(), "ord_1")
	assert.NoError(t, err)
	require.Len(t, discounts, 2)
	assert.Equal(t, "10", discounts[0].Amount.String())
	assert.False(t, discounts[0].CreatorIsStaff)
	assert.True(t, discounts[1].CreatorIsStaff)
}

func TestGetLastSettledTo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT MAX\\(settlement_to\\) FROM payout_periods").
		WithArgs("usr_1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	last, err := ds.GetLastSettledTo(context.Background(), "usr_1")
	assert.NoError(t, err)
	assert.Nil(t, last)

	settled := time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC)
	mock.ExpectQuery("SELECT MAX\\(settlement_to\\) FROM payout_periods").
		WithArgs("usr_1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(settled))
	last, err = ds.GetLastSettledTo(context.Background(), "usr_1")
	assert.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(settled))
}

func TestGetUnsettledSales(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	after := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	earliest := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	latest := time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT MIN\\(earned_at\\), MAX\\(earned_at\\)").
		WithArgs("usr_1", after).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(earliest, latest))

	sales, err := ds.GetUnsettledSales(context.Background(), "usr_1", &after)
	assert.NoError(t, err)
	require.NotNil(t, sales.Earliest)
	require.NotNil(t, sales.Latest)
	assert.True(t, sales.Earliest.Equal(earliest))
	assert.True(t, sales.Latest.Equal(latest))
}

func TestSumLivePayouts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	window := model.NewDateRange(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC))

	mock.ExpectQuery("FROM earnings_ledger_entries e").
		WithArgs("usr_1", window.From, window.To).
		WillReturnRows(sqlmock.NewRows([]string{"paid"}).AddRow(int64(4000)))

	paid, err := ds.SumLivePayouts(context.Background(), "usr_1", window)
	assert.NoError(t, err)
	assert.Equal(t, int64(4000), paid)
}

func TestGetRecipientBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount_cents\\), 0\\)").
		WithArgs("usr_1", "USD").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(12345)))

	balance, err := ds.GetRecipientBalance(context.Background(), "usr_1", "USD")
	assert.NoError(t, err)
	assert.Equal(t, int64(12345), balance)
}

func TestGetPayoutDebit_None(t *testing.T) {
	tx, mock, db := newTestTx(t)
	defer db.Close()

	mock.ExpectQuery("WHERE admin_transaction_id = \\$1 AND entry_type = 'payout_debit'").
		WithArgs("txn_1").
		WillReturnError(sql.ErrNoRows)

	entry, err := tx.GetPayoutDebit(context.Background(), "txn_1")
	assert.NoError(t, err)
	assert.Nil(t, entry)
}
