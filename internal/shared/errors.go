package shared

import "errors"

// Error kinds for the circulation engine. Services wrap these with
// fmt.Errorf("%w: reason") so callers can branch with errors.Is while
// still surfacing a human-readable message.
var (
	// ErrValidation indicates malformed input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates current state disagrees with the request.
	ErrConflict = errors.New("conflict")
	// ErrBusiness indicates a policy rule was violated.
	ErrBusiness = errors.New("business rule violated")
	// ErrForbidden indicates the actor lacks rights over the target entity.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated indicates no caller identity is established.
	ErrUnauthenticated = errors.New("unauthenticated")
)
