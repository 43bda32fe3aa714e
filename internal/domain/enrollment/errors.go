package enrollment

import "errors"

// Errors surfaced by the enrollment state machine. None of them are
// retried inside the engine.
var (
	// ErrDuplicateEnrollment: enroll was called while an ACTIVE enrollment
	// already exists for the (subject, schedule) pair.
	ErrDuplicateEnrollment = errors.New("subject already has an active enrollment for this schedule")
	// ErrUnknownEnrollment: fulfillment or unenrollment referenced a pair
	// with no ACTIVE enrollment.
	ErrUnknownEnrollment = errors.New("no active enrollment for subject and schedule")
	// ErrUnknownMilestone: the referenced milestone is not part of the
	// schedule definition.
	ErrUnknownMilestone = errors.New("milestone not defined in schedule")
)
