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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crowdpen/payd"
	"github.com/crowdpen/payd/config"
	pg_listener "github.com/crowdpen/payd/internal/pg-listener"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// traceTask wraps every task handler in a span named after the task type.
func traceTask(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("payd.worker").Start(ctx, "Process "+t.Type())
		defer span.End()
		span.SetAttributes(attribute.String("task.type", t.Type()))

		start := time.Now()
		err := next.ProcessTask(ctx, t)
		if err != nil {
			span.RecordError(err)
			logrus.WithField("task", t.Type()).Errorf("task failed after %s: %v", time.Since(start), err)
			return err
		}
		log.Println(" [*] Task Processed", t.Type())
		return nil
	})
}

func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.ReceiptQueue:  3,
		cfg.Queue.WebhookQueue:  2,
		cfg.Queue.EarningsQueue: 1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := payd.RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency: conf.Queue.WorkerConcurrency,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(p *paydInstance, mux *asynq.ServeMux) {
	mux.Use(traceTask)
	mux.HandleFunc(payd.TaskPayoutReceipt, p.payd.ProcessReceiptTask)
	mux.HandleFunc(payd.TaskOutboundWebhook, p.payd.ProcessWebhook)
	mux.HandleFunc(payd.TaskReconcileEarnings, p.payd.ProcessReconcileTask)
}

// initializeScheduler registers the periodic missing-credit sweep.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := payd.RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}
	task, err := payd.ReconcileTask(conf)
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(redisOption, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := scheduler.Register(conf.Queue.ReconcileCron, task, asynq.TaskID("earnings_reconcile"))
	if err != nil {
		return nil, fmt.Errorf("error registering reconcile task: %v", err)
	}
	logrus.Infof("earnings reconcile scheduled %q (%s)", conf.Queue.ReconcileCron, entryID)
	return scheduler, nil
}

// startOrderListener records earnings for orders marked paid by other
// writers. It runs until ctx is cancelled.
func startOrderListener(ctx context.Context, p *paydInstance) {
	listener := pg_listener.NewDBListener(pg_listener.ListenerConfig{
		PgConnStr: p.cnf.DataSource.Dns,
	}, p.payd)
	go func() {
		if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
			logrus.Errorf("order paid listener stopped: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command. The workers drain the
// receipt, outbound webhook and earnings reconcile queues.
func workerCommands(p *paydInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payd workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			conf := p.cnf

			if conf.Redis.Dns == "" {
				log.Fatal("workers require redis: set PAYD_REDIS_DNS")
			}

			phClient, shutdown, err := initializeObservability(ctx, conf, "workers")
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(p, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			if conf.DataSource.ListenOrderPaid {
				startOrderListener(ctx, p)
			}

			redisOption, _ := payd.RedisClientOpt(conf)
			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: redisOption,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
