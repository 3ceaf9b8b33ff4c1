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

// Package gateway authenticates payment gateway callbacks and maps their
// payloads into normalized payment and transfer events.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/model"
)

const (
	Paystack    = "paystack"
	Startbutton = "startbutton"
)

var (
	// ErrUnauthorized is returned for any failed authentication check. It
	// never says which check failed.
	ErrUnauthorized = errors.New("webhook authentication failed")

	// ErrMissingSecret is returned in production when the gateway's signing
	// secret is not configured.
	ErrMissingSecret = errors.New("webhook signing secret is not configured")

	ErrUnknownGateway = errors.New("unknown gateway")
)

// Adapter authenticates and decodes callbacks from one gateway.
type Adapter interface {
	Name() string

	// Verify authenticates the raw request body. It must run before any
	// parsing.
	Verify(body []byte, headers http.Header) error

	// IsTransfer reports whether the body is a transfer status event rather
	// than a collection event.
	IsTransfer(body []byte) bool

	ParsePayment(body []byte) model.PaymentEvent
	ParseTransfer(body []byte) model.TransferEvent
}

// Registry resolves adapters by gateway name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// NewRegistryFromConfig builds the paystack and startbutton adapters from
// the gateway section of cfg.
func NewRegistryFromConfig(cfg *config.Configuration) *Registry {
	production := cfg.IsProduction()
	return NewRegistry(
		NewPaystackAdapter(cfg.Gateways.Paystack.SecretKey, production),
		NewStartbuttonAdapter(cfg.Gateways.Startbutton.WebhookSecret, production),
	)
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return a, nil
}

// decodeLenient unmarshals body into v. Invalid JSON decodes as an empty
// object and fields of an unexpected type stay empty, so authenticated but
// malformed payloads still go through classification.
func decodeLenient(body []byte, v interface{}) {
	_ = json.Unmarshal(body, v)
}

// decodeMetadata accepts an object and ignores anything else; gateways send
// an empty string when no metadata was attached.
func decodeMetadata(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			_ = json.Unmarshal([]byte(s), &m)
		}
	}
	return m
}

// metaString returns the first non-empty string value under any of keys.
func metaString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
