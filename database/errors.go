package database

import (
	"github.com/lib/pq"

	"github.com/railrelay/railrelay/internal/apierror"
)

// SQLSTATE codes raised by the store routines and triggers.
const (
	sqlStateStaleLease   = "P7002"
	sqlStateInvalidState = "P7001"
	sqlStateAppendOnly   = "P0001"
)

// mapPostgresError translates the store's distinct error signals into
// typed errors so callers can tell "someone else completed this" apart
// from a generic failure.
func mapPostgresError(err error, fallback string) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch string(pqErr.Code) {
		case sqlStateStaleLease:
			return apierror.NewAPIError(apierror.ErrStaleLease, "lease is no longer held", err)
		case sqlStateInvalidState:
			return apierror.NewAPIError(apierror.ErrInvalidInput, pqErr.Message, err)
		case sqlStateAppendOnly:
			return apierror.NewAPIError(apierror.ErrImmutableViolation, pqErr.Message, err)
		}
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, fallback, err)
}
