package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/crowdpen/payd/internal/apierror"
	"github.com/lib/pq"
)

const (
	constraintPeriodOverlap = "payout_periods_no_overlap"
	constraintPeriodRange   = "payout_periods_valid_range"
)

var (
	// ErrPayoutPeriodOverlap marks an active payout period overlapping an
	// existing one for the same recipient.
	ErrPayoutPeriodOverlap = errors.New("payout period overlaps an existing active period")

	// ErrInvalidPayoutPeriod marks a period whose start is after its end.
	ErrInvalidPayoutPeriod = errors.New("invalid payout period")

	// ErrInsufficientStock marks a product without enough stock for an order.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// translatePeriodError rewrites constraint violations raised by a payout
// period insert into domain errors.
func translatePeriodError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "exclusion_violation":
			return apierror.NewAPIError(apierror.ErrConflict,
				"already paid for part/all of this date range",
				fmt.Errorf("%w: %s", ErrPayoutPeriodOverlap, pqErr.Message))
		case "check_violation":
			if pqErr.Constraint == "" || pqErr.Constraint == constraintPeriodRange {
				return apierror.NewAPIError(apierror.ErrBadRequest, "invalid payout period",
					fmt.Errorf("%w: %s", ErrInvalidPayoutPeriod, pqErr.Message))
			}
		case "unique_violation":
			return apierror.NewAPIError(apierror.ErrConflict, "payout period already recorded for this transaction", err)
		}
	}
	return wrapDBError(err, "Failed to record payout period")
}

// wrapDBError maps driver errors to API errors. It leaves API errors
// untouched so callers can wrap freely.
func wrapDBError(err error, message string) error {
	if err == nil {
		return nil
	}
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NewAPIError(apierror.ErrNotFound, message, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apierror.NewAPIError(apierror.ErrConflict, message, err)
		case "foreign_key_violation", "check_violation":
			return apierror.NewAPIError(apierror.ErrBadRequest, message, err)
		}
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
}

func notFound(format string, args ...interface{}) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf(format, args...), nil)
}
