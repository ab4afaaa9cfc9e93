package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so the issuance workflow can classify them into domain
// errors without knowing which backend produced them.
//
//   - ErrNotFound: row does not exist
//   - ErrAlreadyUsed: the application already has a title deed
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrInvalidState: attempt is in the wrong state for the requested step
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
)
