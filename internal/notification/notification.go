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

package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/internal/request"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
)

// ErrorEvent is the PostHog event name for reported failures.
const ErrorEvent = "settlement_error"

// Tags describe where a reported failure happened.
type Tags struct {
	Stage     string
	Route     string
	Gateway   string
	Signature string
	Reference string
}

func (t Tags) fields() logrus.Fields {
	f := logrus.Fields{}
	if t.Stage != "" {
		f["stage"] = t.Stage
	}
	if t.Route != "" {
		f["route"] = t.Route
	}
	if t.Gateway != "" {
		f["gateway"] = t.Gateway
	}
	if t.Signature != "" {
		f["signature"] = t.Signature
	}
	if t.Reference != "" {
		f["reference"] = t.Reference
	}
	return f
}

// EventCapturer is the subset of posthog.Client used for error events.
type EventCapturer interface {
	Enqueue(posthog.Message) error
}

var (
	mu            sync.RWMutex
	capturer      EventCapturer
	webhookSender func(event string, payload interface{}) error
)

// SetCapturer installs the PostHog client used by Report. Passing nil
// disables capture.
func SetCapturer(c EventCapturer) {
	mu.Lock()
	defer mu.Unlock()
	capturer = c
}

// InitPostHog builds a PostHog client from configuration and installs it.
// It returns nil when no api key is configured.
func InitPostHog(cfg config.PostHogConfig) (posthog.Client, error) {
	if cfg.ApiKey == "" {
		return nil, nil
	}
	phCfg := posthog.Config{}
	if cfg.Endpoint != "" {
		phCfg.Endpoint = cfg.Endpoint
	}
	client, err := posthog.NewWithConfig(cfg.ApiKey, phCfg)
	if err != nil {
		return nil, err
	}
	SetCapturer(client)
	return client, nil
}

// RegisterWebhookSender lets the engine forward reported errors to the
// outbound notification queue without an import cycle.
func RegisterWebhookSender(sender func(event string, payload interface{}) error) {
	mu.Lock()
	defer mu.Unlock()
	webhookSender = sender
}

// SlackNotification sends an error message to a Slack webhook.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Payd 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, jsonEscape(err.Error()), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	_, err = request.Call(req, nil)
	if err != nil {
		log.Println(err)
	}
}

// NotifyError logs the error and forwards it to Slack when configured.
// It never blocks the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		notifySlack(systemError)
	}(systemError)
}

// Report records a non-fatal failure with its tags. The log line and the
// PostHog capture happen before returning; Slack and the outbound webhook
// are sent in the background.
func Report(err error, tags Tags) {
	if err == nil {
		return
	}
	logrus.WithFields(tags.fields()).Error(err)

	mu.RLock()
	c := capturer
	sender := webhookSender
	mu.RUnlock()

	if c != nil {
		props := posthog.NewProperties().Set("error", err.Error())
		for k, v := range tags.fields() {
			props.Set(k, v)
		}
		if captureErr := c.Enqueue(posthog.Capture{
			DistinctId: distinctID(tags),
			Event:      ErrorEvent,
			Properties: props,
		}); captureErr != nil {
			logrus.Warnf("failed to capture error event: %v", captureErr)
		}
	}

	go func() {
		notifySlack(err)
		if sender != nil {
			payload := map[string]interface{}{"error": err.Error(), "tags": tags.fields()}
			if sendErr := sender("error.reported", payload); sendErr != nil {
				logrus.Warnf("failed to forward error event: %v", sendErr)
			}
		}
	}()
}

func notifySlack(err error) {
	conf, cfgErr := config.Fetch()
	if cfgErr != nil {
		return
	}
	if conf.Notification.Slack.WebhookUrl != "" {
		SlackNotification(err)
	}
}

func distinctID(tags Tags) string {
	if tags.Stage != "" {
		return "payd:" + tags.Stage
	}
	return "payd"
}

func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
