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
	"time"

	"github.com/crowdpen/payd/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	order    // Order store reads
	earnings // Earnings ledger reads and the sale credit writer
	payout   // Admin transaction and receipt reads
	receipt  // Receipt claim lock
	fees     // Fee settings

	// BeginTx opens a unit of work holding row locks until Commit or Rollback.
	BeginTx(ctx context.Context) (Tx, error)
}

// OrderLookup names an order by any of the keys a webhook may carry. Keys
// are tried in field order.
type OrderLookup struct {
	ID          string
	Reference   string
	OrderNumber string
}

// TransferLookup names a payout admin transaction. Keys are tried in
// field order.
type TransferLookup struct {
	Reference     string
	TransferCode  string
	TransactionID string
}

type order interface {
	FindOrder(ctx context.Context, lookup OrderLookup) (*model.Order, error)        // Locates an order without locking it
	GetOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error)  // Items with merchant and file url
	ListPaidOrdersMissingCredits(ctx context.Context, limit int) ([]string, error) // Successful orders without sale credits
	GetRecipient(ctx context.Context, id string) (*model.Recipient, error)         // Recipient contact details
}

type earnings interface {
	GetItemDiscounts(ctx context.Context, orderID string) ([]model.ItemDiscount, error)
	RecordSaleCredits(ctx context.Context, entries []model.LedgerEntry) (int, error)
	GetLastSettledTo(ctx context.Context, recipientID string) (*time.Time, error)
	GetUnsettledSales(ctx context.Context, recipientID string, after *time.Time) (model.UnsettledSales, error)
	SumSaleCredits(ctx context.Context, recipientID string, window model.DateRange) (int64, error)
	SumLivePayouts(ctx context.Context, recipientID string, window model.DateRange) (int64, error)
	GetRecipientBalance(ctx context.Context, recipientID, currency string) (int64, error)
}

type payout interface {
	GetAdminTransaction(ctx context.Context, id string) (*model.AdminTransaction, error)
	GetPayoutReceipt(ctx context.Context, transactionID string) (*model.PayoutReceipt, error)
	CreatePayoutReceipt(ctx context.Context, receipt *model.PayoutReceipt) (bool, error)
}

type receipt interface {
	ClaimPayoutReceipt(ctx context.Context, transactionID string) (*model.PayoutReceipt, bool, error)
	MarkReceiptSent(ctx context.Context, receipt *model.PayoutReceipt) error
	MarkReceiptFailed(ctx context.Context, receiptID string, reason string) error
}

type fees interface {
	GetActiveFeeSettings(ctx context.Context) (*model.FeeSettings, error)
}

// Tx is a single Postgres transaction. Lock methods take SELECT ... FOR
// UPDATE row locks held until Commit or Rollback.
type Tx interface {
	LockOrder(ctx context.Context, orderID string) (*model.Order, error)
	AppendOrderNote(ctx context.Context, orderID, note string) error
	MarkOrderPaid(ctx context.Context, orderID string, update model.PaymentUpdate) error
	MarkOrderFailed(ctx context.Context, orderID string) error
	FulfillOrderItems(ctx context.Context, orderID string) (int64, error)
	DecrementStock(ctx context.Context, items []model.OrderItem) error
	ClearActiveCart(ctx context.Context, userID string) error
	RedeemCoupon(ctx context.Context, orderID string) (int, error)

	CreateAdminTransaction(ctx context.Context, txn *model.AdminTransaction) error
	LockAdminTransaction(ctx context.Context, lookup TransferLookup) (*model.AdminTransaction, error)
	UpdateAdminTransaction(ctx context.Context, txn *model.AdminTransaction) error
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) (bool, error)
	GetPayoutDebit(ctx context.Context, transactionID string) (*model.LedgerEntry, error)
	InsertPayoutEvent(ctx context.Context, event *model.PayoutEvent) error
	InsertPayoutPeriod(ctx context.Context, period *model.PayoutPeriod) error
	DeactivatePayoutPeriod(ctx context.Context, transactionID string) error
	CreatePayoutReceipt(ctx context.Context, receipt *model.PayoutReceipt) (bool, error)

	Commit() error
	Rollback() error
}
