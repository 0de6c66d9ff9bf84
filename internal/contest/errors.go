package contest

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNotInitialized   = errors.New("stage state not initialized")
	ErrNoActiveContest  = errors.New("no active contest")
	ErrStageClosed      = errors.New("action not allowed in current stage")
	ErrNotAssigned      = errors.New("not assigned to review this submission")
	ErrAlreadyReviewed  = errors.New("submission already reviewed")
	ErrInvalidRatings   = errors.New("invalid ratings")
	ErrInvalidArtifact  = errors.New("invalid artifact reference")
	ErrAssignmentsExist = errors.New("assignments already created for round")
	ErrConflict         = errors.New("concurrent update")
	ErrInvalidRules     = errors.New("invalid rules")
)

// ValidationError is a user-visible rejection. Kind is one of the sentinels
// above so callers can still match with errors.Is.
type ValidationError struct {
	Kind error
	Msg  string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return e.Kind }

// Reject builds a ValidationError for kind with a user-facing message.
func Reject(kind error, msg string) error {
	return &ValidationError{Kind: kind, Msg: msg}
}
