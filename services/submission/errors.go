package submission

import (
	"errors"

	"linkboost-controlplane/pkg/errutil"
)

var (
	ErrSubmissionNotFound = errutil.NotFound("submission not found", nil)
	ErrAlreadySubmitted   = errutil.Conflict("proof already submitted for this campaign", nil)
	ErrOwnLink            = errutil.Forbidden("cannot submit proof for your own campaign", nil)
	ErrCampaignInactive   = errutil.UnprocessableEntity("campaign is not active", nil)
	ErrSlotsFull          = errutil.UnprocessableEntity("campaign has no free slots", nil)
	ErrNotEnoughProofs    = errutil.ValidationFailed("not enough proof artifacts", nil)
	ErrUnauthorized       = errutil.Forbidden("not allowed to act on this submission", nil)
	ErrMissingReason      = errutil.ValidationFailed("a rejection reason is required", nil)
	ErrMissingMessage     = errutil.ValidationFailed("a report message is required", nil)
	ErrWindowExpired      = errutil.UnprocessableEntity("the dispute window has closed", nil)
	ErrInvalidDecision    = errutil.ValidationFailed("decision must be VISITOR_WINS or OWNER_WINS", nil)

	ErrNotPending  = errutil.Conflict("submission is not pending", nil)
	ErrNotRejected = errutil.Conflict("submission is not rejected", nil)
	ErrNotReported = errutil.Conflict("submission is not reported", nil)
)

// IsStateConflict reports whether err is a lost race on the submission
// status. Callers treat it as a no-op.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrNotPending) || errors.Is(err, ErrNotRejected) || errors.Is(err, ErrNotReported)
}

func conflictFor(from Status) error {
	switch from {
	case StatusRejected:
		return ErrNotRejected
	case StatusReported:
		return ErrNotReported
	default:
		return ErrNotPending
	}
}
