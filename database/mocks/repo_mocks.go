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
package mocks

import (
	"context"
	"time"

	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

// Order methods

func (m *MockDataSource) FindOrder(ctx context.Context, lookup database.OrderLookup) (*model.Order, error) {
	args := m.Called(ctx, lookup)
	order, _ := args.Get(0).(*model.Order)
	return order, args.Error(1)
}

func (m *MockDataSource) GetOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	args := m.Called(ctx, orderID)
	items, _ := args.Get(0).([]model.OrderItem)
	return items, args.Error(1)
}

func (m *MockDataSource) ListPaidOrdersMissingCredits(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockDataSource) GetRecipient(ctx context.Context, id string) (*model.Recipient, error) {
	args := m.Called(ctx, id)
	recipient, _ := args.Get(0).(*model.Recipient)
	return recipient, args.Error(1)
}

// Earnings methods

func (m *MockDataSource) GetItemDiscounts(ctx context.Context, orderID string) ([]model.ItemDiscount, error) {
	args := m.Called(ctx, orderID)
	discounts, _ := args.Get(0).([]model.ItemDiscount)
	return discounts, args.Error(1)
}

func (m *MockDataSource) RecordSaleCredits(ctx context.Context, entries []model.LedgerEntry) (int, error) {
	args := m.Called(ctx, entries)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) GetLastSettledTo(ctx context.Context, recipientID string) (*time.Time, error) {
	args := m.Called(ctx, recipientID)
	last, _ := args.Get(0).(*time.Time)
	return last, args.Error(1)
}

func (m *MockDataSource) GetUnsettledSales(ctx context.Context, recipientID string, after *time.Time) (model.UnsettledSales, error) {
	args := m.Called(ctx, recipientID, after)
	return args.Get(0).(model.UnsettledSales), args.Error(1)
}

func (m *MockDataSource) SumSaleCredits(ctx context.Context, recipientID string, window model.DateRange) (int64, error) {
	args := m.Called(ctx, recipientID, window)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) SumLivePayouts(ctx context.Context, recipientID string, window model.DateRange) (int64, error) {
	args := m.Called(ctx, recipientID, window)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetRecipientBalance(ctx context.Context, recipientID, currency string) (int64, error) {
	args := m.Called(ctx, recipientID, currency)
	return args.Get(0).(int64), args.Error(1)
}

// Payout and receipt methods

func (m *MockDataSource) GetAdminTransaction(ctx context.Context, id string) (*model.AdminTransaction, error) {
	args := m.Called(ctx, id)
	txn, _ := args.Get(0).(*model.AdminTransaction)
	return txn, args.Error(1)
}

func (m *MockDataSource) GetPayoutReceipt(ctx context.Context, transactionID string) (*model.PayoutReceipt, error) {
	args := m.Called(ctx, transactionID)
	receipt, _ := args.Get(0).(*model.PayoutReceipt)
	return receipt, args.Error(1)
}

func (m *MockDataSource) CreatePayoutReceipt(ctx context.Context, receipt *model.PayoutReceipt) (bool, error) {
	args := m.Called(ctx, receipt)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ClaimPayoutReceipt(ctx context.Context, transactionID string) (*model.PayoutReceipt, bool, error) {
	args := m.Called(ctx, transactionID)
	receipt, _ := args.Get(0).(*model.PayoutReceipt)
	return receipt, args.Bool(1), args.Error(2)
}

func (m *MockDataSource) MarkReceiptSent(ctx context.Context, receipt *model.PayoutReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *MockDataSource) MarkReceiptFailed(ctx context.Context, receiptID string, reason string) error {
	args := m.Called(ctx, receiptID, reason)
	return args.Error(0)
}

// Fee methods

func (m *MockDataSource) GetActiveFeeSettings(ctx context.Context) (*model.FeeSettings, error) {
	args := m.Called(ctx)
	fees, _ := args.Get(0).(*model.FeeSettings)
	return fees, args.Error(1)
}

func (m *MockDataSource) BeginTx(ctx context.Context) (database.Tx, error) {
	args := m.Called(ctx)
	tx, _ := args.Get(0).(database.Tx)
	return tx, args.Error(1)
}

// MockTx is a mock implementation of the Tx interface
type MockTx struct {
	mock.Mock
}

var _ database.Tx = (*MockTx)(nil)

func (m *MockTx) LockOrder(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*model.Order)
	return order, args.Error(1)
}

func (m *MockTx) AppendOrderNote(ctx context.Context, orderID, note string) error {
	args := m.Called(ctx, orderID, note)
	return args.Error(0)
}

func (m *MockTx) MarkOrderPaid(ctx context.Context, orderID string, update model.PaymentUpdate) error {
	args := m.Called(ctx, orderID, update)
	return args.Error(0)
}

func (m *MockTx) MarkOrderFailed(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockTx) FulfillOrderItems(ctx context.Context, orderID string) (int64, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) DecrementStock(ctx context.Context, items []model.OrderItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *MockTx) ClearActiveCart(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockTx) RedeemCoupon(ctx context.Context, orderID string) (int, error) {
	args := m.Called(ctx, orderID)
	return args.Int(0), args.Error(1)
}

func (m *MockTx) CreateAdminTransaction(ctx context.Context, txn *model.AdminTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockTx) LockAdminTransaction(ctx context.Context, lookup database.TransferLookup) (*model.AdminTransaction, error) {
	args := m.Called(ctx, lookup)
	txn, _ := args.Get(0).(*model.AdminTransaction)
	return txn, args.Error(1)
}

func (m *MockTx) UpdateAdminTransaction(ctx context.Context, txn *model.AdminTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockTx) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockTx) GetPayoutDebit(ctx context.Context, transactionID string) (*model.LedgerEntry, error) {
	args := m.Called(ctx, transactionID)
	entry, _ := args.Get(0).(*model.LedgerEntry)
	return entry, args.Error(1)
}

func (m *MockTx) InsertPayoutEvent(ctx context.Context, event *model.PayoutEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockTx) InsertPayoutPeriod(ctx context.Context, period *model.PayoutPeriod) error {
	args := m.Called(ctx, period)
	return args.Error(0)
}

func (m *MockTx) DeactivatePayoutPeriod(ctx context.Context, transactionID string) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

func (m *MockTx) CreatePayoutReceipt(ctx context.Context, receipt *model.PayoutReceipt) (bool, error) {
	args := m.Called(ctx, receipt)
	return args.Bool(0), args.Error(1)
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}
