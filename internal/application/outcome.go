// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

// ClassifyOutcome maps a Sync error onto the outcome recorded in logs and the
// audit trail. A nil error is OutcomeOK.
func ClassifyOutcome(err error) model.SyncOutcome {
	switch {
	case err == nil:
		return model.OutcomeOK
	case errors.Is(err, driven.ErrConflict):
		return model.OutcomeConflict
	case errors.Is(err, driven.ErrRemoteUnreachable), errors.Is(err, context.DeadlineExceeded):
		return model.OutcomeRemoteUnreachable
	case errors.Is(err, driven.ErrRemoteRejected):
		return model.OutcomeRemoteRejected
	case errors.Is(err, driven.ErrMalformedStore):
		return model.OutcomeMalformed
	case errors.Is(err, driven.ErrLocalIO):
		return model.OutcomeLocalIO
	default:
		return model.OutcomeError
	}
}
