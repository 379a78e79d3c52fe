package signature

import "errors"

var (
	// ErrNotFound is returned when the request or contract does not exist.
	ErrNotFound = errors.New("signature: not found")
	// ErrForbidden is returned when the caller may not act on the entity.
	ErrForbidden = errors.New("signature: forbidden")
	// ErrConflict is returned when the requested transition is illegal in
	// the entity's current state.
	ErrConflict = errors.New("signature: conflict")
	// ErrValidation is returned for bad input shape or bounds.
	ErrValidation = errors.New("signature: validation failed")
	// ErrProviderUnavailable is returned when the signing provider failed
	// transiently; the caller may retry the whole operation.
	ErrProviderUnavailable = errors.New("signature: provider unavailable")
	// ErrStorageFailure is returned when the signed artifact could not be
	// persisted; completion is held back and redelivery is safe.
	ErrStorageFailure = errors.New("signature: storage failure")
	// ErrEventAlreadyProcessed signals the processed-event ledger already
	// holds this external event id.
	ErrEventAlreadyProcessed = errors.New("signature: event already processed")
)
