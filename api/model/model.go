package model

import (
	"errors"
	"strings"
	"time"

	"github.com/crowdpen/payd/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// CreatePayout is the operator's payout request body. Settlement dates are
// YYYY-MM-DD or RFC 3339 and are widened to whole UTC days.
type CreatePayout struct {
	RecipientID    string `json:"recipient_id"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	Provider       string `json:"provider"`
	SettlementFrom string `json:"settlement_from"`
	SettlementTo   string `json:"settlement_to"`
	Reference      string `json:"reference"`
	Note           string `json:"note"`
}

func validateDate(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := parseDate(s); err != nil {
		return errors.New("please format the date as 'YYYY-MM-DD' (e.g., 2025-03-01)")
	}
	return nil
}

func validateStatus(value interface{}) error {
	s, _ := value.(string)
	if s == "" || model.IsValidPayoutStatus(strings.ToLower(strings.TrimSpace(s))) {
		return nil
	}
	return errors.New("must be one of pending, completed, failed, cancelled, refunded, partially_refunded, reversed")
}

func (p *CreatePayout) ValidateCreatePayout() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.RecipientID, validation.Required),
		validation.Field(&p.Currency, validation.Required, validation.Length(3, 3), is.UpperCase.Error("must be an ISO 4217 code")),
		validation.Field(&p.Status, validation.By(validateStatus)),
		validation.Field(&p.SettlementFrom, validation.Required, validation.By(validateDate)),
		validation.Field(&p.SettlementTo, validation.Required, validation.By(validateDate)),
		validation.Field(&p.Reference, validation.Length(0, 128)),
	)
}

// ToPayoutRequest converts the body into an engine request attributed to
// actor.
func (p *CreatePayout) ToPayoutRequest(actor string) (model.PayoutRequest, error) {
	from, err := parseDate(p.SettlementFrom)
	if err != nil {
		return model.PayoutRequest{}, err
	}
	to, err := parseDate(p.SettlementTo)
	if err != nil {
		return model.PayoutRequest{}, err
	}
	from, to = model.StartOfDay(from), model.EndOfDay(to)
	if to.Before(from) {
		return model.PayoutRequest{}, errors.New("settlement_to must not be before settlement_from")
	}
	return model.PayoutRequest{
		RecipientID: strings.TrimSpace(p.RecipientID),
		Currency:    strings.ToUpper(p.Currency),
		Status:      p.Status,
		Provider:    p.Provider,
		From:        from,
		To:          to,
		Reference:   strings.TrimSpace(p.Reference),
		Note:        p.Note,
		Actor:       actor,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(model.DateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
