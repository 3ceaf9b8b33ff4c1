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

package payd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crowdpen/payd/config"
	redis_db "github.com/crowdpen/payd/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	TaskPayoutReceipt     = "payout:receipt"
	TaskOutboundWebhook   = "webhook:deliver"
	TaskReconcileEarnings = "earnings:reconcile"
)

// Queue represents a queue for deferred receipts, outbound notifications
// and earnings reconciliation.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      *config.Configuration
}

type receiptPayload struct {
	TransactionID string `json:"transaction_id"`
}

type reconcilePayload struct {
	Limit int `json:"limit"`
}

// RedisClientOpt builds asynq connection options from the redis dns.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing redis url: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	queueOptions, err := RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		conf:      conf,
	}, nil
}

// EnqueueReceipt schedules a receipt send. The task id is derived from the
// transaction so a payout has at most one pending receipt task.
func (q *Queue) EnqueueReceipt(ctx context.Context, transactionID string) error {
	payload, err := json.Marshal(receiptPayload{TransactionID: transactionID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskPayoutReceipt, payload,
		asynq.TaskID("receipt_"+transactionID),
		asynq.Queue(q.conf.Queue.ReceiptQueue),
		asynq.MaxRetry(q.conf.Queue.MaxRetryAttempts),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		logrus.Errorf("failed to enqueue receipt for %s: %v", transactionID, err)
		return err
	}
	logrus.Infof(" [*] Successfully enqueued payout receipt: %s (%s)", transactionID, info.ID)
	return nil
}

func (q *Queue) EnqueueWebhook(ctx context.Context, newWebhook NewWebhook) error {
	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskOutboundWebhook, payload,
		asynq.Queue(q.conf.Queue.WebhookQueue),
		asynq.MaxRetry(q.conf.Queue.MaxRetryAttempts),
	)
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return err
	}
	return nil
}

// ReconcileTask is the periodic task registered with the scheduler.
func ReconcileTask(conf *config.Configuration) (*asynq.Task, error) {
	payload, err := json.Marshal(reconcilePayload{Limit: conf.Queue.ReconcileBatchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileEarnings, payload,
		asynq.Queue(conf.Queue.EarningsQueue),
		asynq.MaxRetry(1),
	), nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.Warnf("failed to close queue inspector: %v", err)
	}
	return q.Client.Close()
}

// enqueueReceipt defers a receipt send to the workers, or sends it now
// when there is no queue. Failures are reported only.
func (p *Payd) enqueueReceipt(ctx context.Context, transactionID string) {
	if p.queue != nil {
		if err := p.queue.EnqueueReceipt(ctx, transactionID); err == nil {
			return
		}
	}
	if _, err := p.SendPayoutReceipt(ctx, transactionID); err != nil {
		logrus.Warnf("payout receipt for %s not sent: %v", transactionID, err)
	}
}

// ProcessReceiptTask sends a queued receipt. A failed send is returned so
// the task retries; the receipt row has been left claimable.
func (p *Payd) ProcessReceiptTask(ctx context.Context, task *asynq.Task) error {
	var payload receiptPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid receipt task payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := p.SendPayoutReceipt(ctx, payload.TransactionID)
	return err
}

func (p *Payd) ProcessReconcileTask(ctx context.Context, task *asynq.Task) error {
	var payload reconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid reconcile task payload: %v: %w", err, asynq.SkipRetry)
	}
	report, err := p.ReconcileMissingCredits(ctx, payload.Limit)
	if err != nil {
		return err
	}
	if report.Orders > 0 {
		logrus.Infof("earnings reconcile: %d orders, %d credits written, %d failed",
			report.Orders, report.CreditsWritten, report.Failed)
	}
	return nil
}
