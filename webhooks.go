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
	"net/http"
	"strings"

	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/internal/request"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	EventOrderPaid     = "order.paid"
	EventOrderFailed   = "order.failed"
	EventPayoutCreated = "payout.created"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// payoutEvent maps a payout status to its outbound event name.
func payoutEvent(status string) string {
	switch strings.ToLower(status) {
	case "":
		return "payout.unknown"
	default:
		return "payout." + strings.ToLower(status)
	}
}

// processHTTP posts a notification to the configured webhook url with the
// configured headers. Non-2xx responses are errors so the queue retries.
func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	_, err = request.Call(req, nil)
	if err != nil {
		logrus.Errorf("webhook %s delivery failed: %v", data.Event, err)
		return err
	}
	logrus.Debugf("webhook notification %s sent", data.Event)
	return nil
}

// SendWebhook hands a notification to the webhook queue, or delivers it
// directly when no queue is configured. A missing url disables it.
func (p *Payd) SendWebhook(ctx context.Context, newWebhook NewWebhook) error {
	conf := p.config
	if conf == nil || conf.Notification.Webhook.Url == "" {
		return nil
	}
	if p.queue == nil {
		return processHTTP(ctx, conf, newWebhook)
	}
	return p.queue.EnqueueWebhook(ctx, newWebhook)
}

// notify sends a notification and only logs a failure.
func (p *Payd) notify(ctx context.Context, event string, data interface{}) {
	if err := p.SendWebhook(ctx, NewWebhook{Event: event, Payload: data}); err != nil {
		logrus.Warnf("failed to send %s notification: %v", event, err)
	}
}

// ProcessWebhook delivers a queued notification.
func (p *Payd) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf := p.config
	if conf == nil || conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("error unmarshaling webhook task payload: %v", err)
		return err
	}
	return processHTTP(ctx, conf, payload)
}
