package payd

import (
	"context"
	"errors"
	"net/http"

	"github.com/crowdpen/payd/internal/apierror"
	"github.com/crowdpen/payd/internal/gateway"
	"github.com/crowdpen/payd/internal/metrics"
	"github.com/crowdpen/payd/internal/notification"
	"github.com/crowdpen/payd/model"
	"github.com/sirupsen/logrus"
)

type Outcome string

const (
	OutcomeAcceptedSuccess   Outcome = "accepted_success"
	OutcomeAcceptedFailure   Outcome = "accepted_failure"
	OutcomeAcceptedNoop      Outcome = "accepted_noop"
	OutcomeRejectedAuth      Outcome = "rejected_auth"
	OutcomeRejectedMalformed Outcome = "rejected_malformed"
	OutcomeError             Outcome = "error"

	streamCollection = "collection"
	streamTransfer   = "transfer"
)

// WebhookResult is what an inbound webhook is answered with.
type WebhookResult struct {
	Outcome    Outcome `json:"outcome"`
	HTTPStatus int     `json:"-"`
	Message    string  `json:"message"`
	Err        error   `json:"-"`
}

// ResponseStatus is the status field of the webhook response body.
func (r WebhookResult) ResponseStatus() string {
	if r.HTTPStatus >= 200 && r.HTTPStatus < 300 {
		return "success"
	}
	return "error"
}

// HandleCollectionWebhook authenticates a payment webhook over its raw body
// and applies it to the order it names. Transfer events delivered on the
// same url are routed to the transfer reconciler.
func (p *Payd) HandleCollectionWebhook(ctx context.Context, gatewayName string, body []byte, headers http.Header) WebhookResult {
	adapter, res, ok := p.authenticate(gatewayName, streamCollection, body, headers)
	if !ok {
		return res
	}
	if adapter.IsTransfer(body) {
		return p.applyTransfer(ctx, adapter, body)
	}

	event := adapter.ParsePayment(body)
	result, err := p.ReconcileOrder(ctx, event)
	if err != nil {
		return p.failure(adapter.Name(), streamCollection, event.GatewayRef, err)
	}

	res = WebhookResult{HTTPStatus: http.StatusOK}
	switch result.Transition {
	case model.TransitionMarkPaid:
		res.Outcome, res.Message = OutcomeAcceptedSuccess, "payment recorded"
	case model.TransitionMarkFailed:
		res.Outcome, res.Message = OutcomeAcceptedFailure, "payment failure recorded"
	case model.TransitionAlreadyProcessed:
		res.Outcome, res.Message = OutcomeAcceptedNoop, "order already processed"
	default:
		res.Outcome, res.Message = OutcomeAcceptedNoop, "event noted"
	}
	metrics.RecordWebhookOutcome(adapter.Name(), streamCollection, string(res.Outcome))
	return res
}

// HandleTransferWebhook authenticates a transfer status webhook and applies
// it to the payout it names. Unmatched transfers are acknowledged.
func (p *Payd) HandleTransferWebhook(ctx context.Context, gatewayName string, body []byte, headers http.Header) WebhookResult {
	adapter, res, ok := p.authenticate(gatewayName, streamTransfer, body, headers)
	if !ok {
		return res
	}
	return p.applyTransfer(ctx, adapter, body)
}

func (p *Payd) applyTransfer(ctx context.Context, adapter gateway.Adapter, body []byte) WebhookResult {
	event := adapter.ParseTransfer(body)
	result, err := p.ApplyTransferEvent(ctx, event)
	if err != nil {
		return p.failure(adapter.Name(), streamTransfer, event.Reference, err)
	}

	res := WebhookResult{HTTPStatus: http.StatusOK, Outcome: OutcomeAcceptedNoop, Message: "transfer received"}
	switch {
	case !result.Matched:
	case result.Changed && model.RequiresDebitReversal(result.To):
		res.Outcome, res.Message = OutcomeAcceptedFailure, "transfer "+result.To
	case result.Changed:
		res.Outcome, res.Message = OutcomeAcceptedSuccess, "transfer "+result.To
	}
	metrics.RecordWebhookOutcome(adapter.Name(), streamTransfer, string(res.Outcome))
	return res
}

// authenticate resolves the gateway and verifies the signature. Rejections
// never say which check failed.
func (p *Payd) authenticate(gatewayName, stream string, body []byte, headers http.Header) (gateway.Adapter, WebhookResult, bool) {
	adapter, err := p.gateways.Get(gatewayName)
	if err != nil {
		metrics.RecordWebhookOutcome(gatewayName, stream, string(OutcomeRejectedMalformed))
		return nil, WebhookResult{
			Outcome:    OutcomeRejectedMalformed,
			HTTPStatus: http.StatusNotFound,
			Message:    "unknown gateway",
			Err:        err,
		}, false
	}

	if err := adapter.Verify(body, headers); err != nil {
		res := WebhookResult{
			Outcome:    OutcomeRejectedAuth,
			HTTPStatus: http.StatusUnauthorized,
			Message:    "unauthorized",
			Err:        err,
		}
		if errors.Is(err, gateway.ErrMissingSecret) {
			res.HTTPStatus = http.StatusInternalServerError
			res.Message = "webhook not configured"
		}
		notification.Report(err, notification.Tags{
			Stage:     "verify",
			Route:     stream,
			Gateway:   adapter.Name(),
			Signature: "invalid",
		})
		metrics.RecordWebhookOutcome(adapter.Name(), stream, string(res.Outcome))
		return nil, res, false
	}
	return adapter, WebhookResult{}, true
}

// failure maps an engine error to a webhook response. Internal details are
// hidden in production.
func (p *Payd) failure(gatewayName, stream, reference string, err error) WebhookResult {
	status := apierror.MapErrorToHTTPStatus(err)
	res := WebhookResult{
		Outcome:    OutcomeError,
		HTTPStatus: status,
		Message:    apierror.PublicMessage(err, p.config.IsProduction()),
		Err:        err,
	}
	if apierror.Is(err, apierror.ErrBadRequest) && reference == "" {
		res.Outcome = OutcomeRejectedMalformed
	}

	entry := logrus.WithFields(logrus.Fields{"gateway": gatewayName, "stream": stream, "reference": reference})
	if status >= http.StatusInternalServerError {
		notification.Report(err, notification.Tags{Stage: stream, Route: stream, Gateway: gatewayName, Reference: reference})
	} else {
		entry.Warnf("webhook rejected: %v", err)
	}
	metrics.RecordWebhookOutcome(gatewayName, stream, string(res.Outcome))
	return res
}
