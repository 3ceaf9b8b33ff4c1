package pg_listener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "payd_order_paid"

// NotificationHandler receives the row carried by a NOTIFY payload.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, table string, data map[string]interface{}) error
}

// ListenerConfig configures the listener. Interval is how long to wait
// without a notification before pinging the connection.
type ListenerConfig struct {
	PgConnStr string
	Channel   string
	Interval  time.Duration
	Timeout   time.Duration
}

type DBListener struct {
	config  ListenerConfig
	handler NotificationHandler
}

type NotificationPayload struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

func NewDBListener(config ListenerConfig, handler NotificationHandler) *DBListener {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.Interval <= 0 {
		config.Interval = 90 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	return &DBListener{
		config:  config,
		handler: handler,
	}
}

// Start listens until ctx is cancelled. Notifications are handled one at
// a time on the calling goroutine.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, 10*time.Second, d.config.Timeout, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.Errorf("pg listener event %d: %v", ev, err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(d.config.Channel); err != nil {
		return fmt.Errorf("error listening to postgres channel %s: %w", d.config.Channel, err)
	}
	logrus.Infof("listening for postgres notifications on channel '%s'", d.config.Channel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			// nil after a reconnect; missed notifications are left to the
			// reconcile sweep.
			if n == nil {
				continue
			}
			d.handleNotification(ctx, n.Extra)
		case <-time.After(d.config.Interval):
			if err := listener.Ping(); err != nil {
				logrus.Warnf("pg listener ping failed: %v", err)
			}
		}
	}
}

func (d *DBListener) handleNotification(ctx context.Context, extra string) {
	var payload NotificationPayload
	if err := json.Unmarshal([]byte(extra), &payload); err != nil {
		logrus.Errorf("error unmarshalling notification payload: %v", err)
		return
	}

	for key, value := range payload.Data {
		if value == nil {
			delete(payload.Data, key)
		}
	}

	if err := d.handler.HandleNotification(ctx, payload.Table, payload.Data); err != nil {
		logrus.Errorf("error handling notification from %s: %v", payload.Table, err)
	}
}
