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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	EnvProduction  = "production"
	EnvDevelopment = "development"

	DEFAULT_WEBHOOK_RATE_LIMIT      = 600
	DEFAULT_WEBHOOK_RATE_WINDOW_SEC = 60
	DEFAULT_AMOUNT_TOLERANCE_MINOR  = 5
	DEFAULT_VERIFY_TIMEOUT_SEC      = 15
	DEFAULT_PAYSTACK_BASE_URL       = "https://api.paystack.co"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYD_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYD_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYD_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYD_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYD_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYD_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns             string `json:"dns" envconfig:"PAYD_DATA_SOURCE_DNS"`
	ListenOrderPaid bool   `json:"listen_order_paid" envconfig:"PAYD_DATA_SOURCE_LISTEN_ORDER_PAID"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYD_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYD_REDIS_SKIP_TLS_VERIFY"`
}

type PaystackConfig struct {
	SecretKey        string `json:"secret_key" envconfig:"PAYD_PAYSTACK_SECRET_KEY"`
	BaseUrl          string `json:"base_url" envconfig:"PAYD_PAYSTACK_BASE_URL"`
	VerifyTimeoutSec int    `json:"verify_timeout_sec" envconfig:"PAYD_PAYSTACK_VERIFY_TIMEOUT_SEC"`
}

type StartbuttonConfig struct {
	WebhookSecret string `json:"webhook_secret" envconfig:"PAYD_STARTBUTTON_WEBHOOK_SECRET"`
}

type GatewayConfig struct {
	Paystack    PaystackConfig    `json:"paystack"`
	Startbutton StartbuttonConfig `json:"startbutton"`
}

type PaymentsConfig struct {
	AmountToleranceMinor int64 `json:"amount_tolerance_minor" envconfig:"PAYD_PAYMENTS_AMOUNT_TOLERANCE_MINOR"`
}

type WebhookRateLimitConfig struct {
	Limit     int `json:"limit" envconfig:"PAYD_WEBHOOK_RATE_LIMIT"`
	WindowSec int `json:"window_sec" envconfig:"PAYD_WEBHOOK_RATE_WINDOW_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYD_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYD_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYD_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type MailConfig struct {
	SendgridApiKey string `json:"sendgrid_api_key" envconfig:"PAYD_MAIL_SENDGRID_API_KEY"`
	FromEmail      string `json:"from_email" envconfig:"PAYD_MAIL_FROM_EMAIL"`
	FromName       string `json:"from_name" envconfig:"PAYD_MAIL_FROM_NAME"`
	PayoutBcc      string `json:"payout_bcc" envconfig:"PAYD_MAIL_PAYOUT_BCC"`
	SupportEmail   string `json:"support_email" envconfig:"PAYD_MAIL_SUPPORT_EMAIL"`
}

type FeesConfig struct {
	DefaultCrowdpenPct    float64 `json:"default_crowdpen_pct" envconfig:"PAYD_FEES_DEFAULT_CROWDPEN_PCT"`
	DefaultStartbuttonPct float64 `json:"default_startbutton_pct" envconfig:"PAYD_FEES_DEFAULT_STARTBUTTON_PCT"`
	CacheTTLSec           int     `json:"cache_ttl_sec" envconfig:"PAYD_FEES_CACHE_TTL_SEC"`
}

type QueueConfig struct {
	ReceiptQueue       string `json:"receipt_queue" envconfig:"PAYD_QUEUE_RECEIPT"`
	WebhookQueue       string `json:"webhook_queue" envconfig:"PAYD_QUEUE_WEBHOOK"`
	EarningsQueue      string `json:"earnings_queue" envconfig:"PAYD_QUEUE_EARNINGS"`
	ReconcileCron      string `json:"reconcile_cron" envconfig:"PAYD_QUEUE_RECONCILE_CRON"`
	ReconcileBatchSize int    `json:"reconcile_batch_size" envconfig:"PAYD_QUEUE_RECONCILE_BATCH_SIZE"`
	MaxRetryAttempts   int    `json:"max_retry_attempts" envconfig:"PAYD_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort     string `json:"monitoring_port" envconfig:"PAYD_QUEUE_MONITORING_PORT"`
	WorkerConcurrency  int    `json:"worker_concurrency" envconfig:"PAYD_QUEUE_WORKER_CONCURRENCY"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type PostHogConfig struct {
	ApiKey   string `json:"api_key" envconfig:"PAYD_POSTHOG_API_KEY"`
	Endpoint string `json:"endpoint" envconfig:"PAYD_POSTHOG_ENDPOINT"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	PostHog PostHogConfig `json:"posthog"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type TelemetryConfig struct {
	OtlpEndpoint string `json:"otlp_endpoint" envconfig:"PAYD_TELEMETRY_OTLP_ENDPOINT"`
	Insecure     bool   `json:"insecure" envconfig:"PAYD_TELEMETRY_INSECURE"`
}

type Configuration struct {
	ProjectName      string                 `json:"project_name" envconfig:"PAYD_PROJECT_NAME"`
	Environment      string                 `json:"environment" envconfig:"PAYD_ENVIRONMENT"`
	EnableTelemetry  bool                   `json:"enable_telemetry" envconfig:"PAYD_ENABLE_TELEMETRY"`
	Telemetry        TelemetryConfig        `json:"telemetry"`
	Server           ServerConfig           `json:"server"`
	DataSource       DataSourceConfig       `json:"data_source"`
	Redis            RedisConfig            `json:"redis"`
	Gateways         GatewayConfig          `json:"gateways"`
	Payments         PaymentsConfig         `json:"payments"`
	WebhookRateLimit WebhookRateLimitConfig `json:"webhook_rate_limit"`
	RateLimit        RateLimitConfig        `json:"rate_limit"`
	Mail             MailConfig             `json:"mail"`
	Fees             FeesConfig             `json:"fees"`
	Queue            QueueConfig            `json:"queue"`
	Notification     Notification           `json:"notification"`
}

// IsProduction reports whether webhook secrets are mandatory and error
// messages must stay generic.
func (cnf *Configuration) IsProduction() bool {
	return strings.EqualFold(cnf.Environment, EnvProduction)
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("payd", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payd.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Payd Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Environment = strings.ToLower(strings.TrimSpace(cnf.Environment))
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Environment == "" {
		cnf.Environment = EnvDevelopment
	}
	if cnf.Environment != EnvDevelopment && cnf.Environment != EnvProduction {
		return errors.New("environment must be either development or production")
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Gateways.Paystack.BaseUrl == "" {
		cnf.Gateways.Paystack.BaseUrl = DEFAULT_PAYSTACK_BASE_URL
	}
	cnf.Gateways.Paystack.BaseUrl = strings.TrimRight(cnf.Gateways.Paystack.BaseUrl, "/")
	if cnf.Gateways.Paystack.VerifyTimeoutSec <= 0 {
		cnf.Gateways.Paystack.VerifyTimeoutSec = DEFAULT_VERIFY_TIMEOUT_SEC
	}

	if cnf.IsProduction() {
		if cnf.Gateways.Paystack.SecretKey == "" {
			log.Println("Warning: paystack secret key is empty. Paystack webhooks will be rejected.")
		}
		if cnf.Gateways.Startbutton.WebhookSecret == "" {
			log.Println("Warning: startbutton webhook secret is empty. Startbutton webhooks will be rejected.")
		}
	}

	if cnf.Payments.AmountToleranceMinor <= 0 {
		cnf.Payments.AmountToleranceMinor = DEFAULT_AMOUNT_TOLERANCE_MINOR
	}

	if cnf.WebhookRateLimit.Limit <= 0 {
		cnf.WebhookRateLimit.Limit = DEFAULT_WEBHOOK_RATE_LIMIT
	}
	if cnf.WebhookRateLimit.WindowSec <= 0 {
		cnf.WebhookRateLimit.WindowSec = DEFAULT_WEBHOOK_RATE_WINDOW_SEC
	}

	if cnf.Fees.DefaultCrowdpenPct < 0 || cnf.Fees.DefaultCrowdpenPct >= 1 ||
		cnf.Fees.DefaultStartbuttonPct < 0 || cnf.Fees.DefaultStartbuttonPct >= 1 {
		return errors.New("default fee percentages must be fractions between 0 and 1")
	}

	if cnf.Mail.FromName == "" {
		cnf.Mail.FromName = cnf.ProjectName
	}

	cnf.setQueueDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.ReceiptQueue == "" {
		cnf.Queue.ReceiptQueue = "payout_receipts"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "outbound_webhooks"
	}
	if cnf.Queue.EarningsQueue == "" {
		cnf.Queue.EarningsQueue = "earnings_reconcile"
	}
	if cnf.Queue.ReconcileCron == "" {
		cnf.Queue.ReconcileCron = "@every 15m"
	}
	if cnf.Queue.ReconcileBatchSize <= 0 {
		cnf.Queue.ReconcileBatchSize = 100
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
	if cnf.Queue.WorkerConcurrency <= 0 {
		cnf.Queue.WorkerConcurrency = 4
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
