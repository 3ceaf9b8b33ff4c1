package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/internal/request"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var errVerificationRejected = errors.New("verification rejected")

// Verification is the gateway's own view of a charge.
type Verification struct {
	Status    string
	Reference string
	Amount    int64
	Currency  string
	PaidAt    *time.Time
}

// Successful reports whether the gateway considers the charge paid.
func (v Verification) Successful() bool {
	return normalize(v.Status) == "success"
}

// TransactionVerifier confirms a charge with the gateway before an order
// is marked paid.
type TransactionVerifier interface {
	VerifyTransaction(ctx context.Context, reference string) (*Verification, error)
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string     `json:"status"`
		Reference string     `json:"reference"`
		Amount    int64      `json:"amount"`
		Currency  string     `json:"currency"`
		PaidAt    *time.Time `json:"paid_at"`
	} `json:"data"`
}

// PaystackClient calls paystack's verify-by-reference endpoint. Transient
// failures are retried within the request timeout and repeated failures
// open a circuit breaker.
type PaystackClient struct {
	baseURL    string
	secret     string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewPaystackClient(cfg config.PaystackConfig) *PaystackClient {
	timeout := time.Duration(cfg.VerifyTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DEFAULT_VERIFY_TIMEOUT_SEC) * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseUrl, "/")
	if baseURL == "" {
		baseURL = config.DEFAULT_PAYSTACK_BASE_URL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "paystack-verify",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.Warnf("circuit breaker %s changed from %s to %s", name, from, to)
		},
	})

	return &PaystackClient{
		baseURL:    baseURL,
		secret:     cfg.SecretKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// VerifyTransaction fetches the charge for reference. Every failure is
// returned wrapped; callers map it to an upstream error.
func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	if reference == "" {
		return nil, errors.New("paystack verify: empty reference")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.verifyWithRetry(ctx, reference)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "paystack verify %s", reference)
	}
	return result.(*Verification), nil
}

func (c *PaystackClient) verifyWithRetry(ctx context.Context, reference string) (*Verification, error) {
	var out *Verification

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = c.timeout

	operation := func() error {
		v, err := c.verifyOnce(ctx, reference)
		if err != nil {
			var statusErr *request.StatusError
			if errors.As(err, &statusErr) && !statusErr.Temporary() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, errVerificationRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logrus.Warnf("paystack verify %s failed, retrying in %s: %v", reference, wait, err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PaystackClient) verifyOnce(ctx context.Context, reference string) (*Verification, error) {
	endpoint := fmt.Sprintf("%s/transaction/verify/%s", c.baseURL, url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", request.BearerAuth(c.secret))

	var resp paystackVerifyResponse
	if _, err := request.CallWith(c.httpClient, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, errors.Wrap(errVerificationRejected, resp.Message)
	}

	return &Verification{
		Status:    resp.Data.Status,
		Reference: resp.Data.Reference,
		Amount:    resp.Data.Amount,
		Currency:  strings.ToUpper(resp.Data.Currency),
		PaidAt:    resp.Data.PaidAt,
	}, nil
}
