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
	"embed"
	"time"

	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/internal/gateway"
	"github.com/crowdpen/payd/internal/mailer"
	"github.com/crowdpen/payd/internal/notification"
	redis_db "github.com/crowdpen/payd/internal/redis-db"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("payd")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Payd is the settlement engine: webhook ingress, order reconciliation,
// the earnings ledger, payouts and receipts.
type Payd struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	queue      *Queue
	gateways   *gateway.Registry
	verifier   gateway.TransactionVerifier
	mailer     mailer.Sender
	config     *config.Configuration
	now        func() time.Time
}

// Option overrides a collaborator built by NewPayd.
type Option func(*Payd)

func WithRedis(client redis.UniversalClient) Option {
	return func(p *Payd) { p.redis = client }
}

func WithQueue(q *Queue) Option {
	return func(p *Payd) { p.queue = q }
}

func WithGateways(r *gateway.Registry) Option {
	return func(p *Payd) { p.gateways = r }
}

func WithVerifier(v gateway.TransactionVerifier) Option {
	return func(p *Payd) { p.verifier = v }
}

func WithMailer(s mailer.Sender) Option {
	return func(p *Payd) { p.mailer = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Payd) { p.now = now }
}

// NewPayd builds the engine from the loaded configuration. Redis and the
// task queue are optional: without them payouts are not lock-serialized
// across replicas and receipts are sent in-process.
func NewPayd(db database.IDataSource, opts ...Option) (*Payd, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	p := &Payd{
		datasource: db,
		config:     configuration,
		gateways:   gateway.NewRegistryFromConfig(configuration),
		verifier:   gateway.NewPaystackClient(configuration.Gateways.Paystack),
		mailer:     mailer.NewSender(configuration.Mail),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.redis == nil && configuration.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient(redis_db.SplitAddresses(configuration.Redis.Dns), configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		p.redis = redisClient.Client()
	}
	if p.queue == nil && configuration.Redis.Dns != "" {
		q, err := NewQueue(configuration)
		if err != nil {
			return nil, err
		}
		p.queue = q
	}

	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return p.SendWebhook(context.Background(), NewWebhook{Event: event, Payload: payload})
	})

	return p, nil
}

func (p *Payd) Redis() redis.UniversalClient {
	return p.redis
}

func (p *Payd) Queue() *Queue {
	return p.queue
}

func (p *Payd) Config() *config.Configuration {
	return p.config
}

func (p *Payd) Datasource() database.IDataSource {
	return p.datasource
}
