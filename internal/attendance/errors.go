package attendance

import "errors"

// Storage-level errors returned by Ledger implementations.
var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional shift write loses a race:
	// either the open-shift uniqueness rule rejected an insert or a close
	// matched no open row.
	ErrConflict = errors.New("shift write conflict")
)

// Errors surfaced by the tap processor.
var (
	ErrInvalidTap         = errors.New("invalid tap request")
	ErrUnauthorizedDevice = errors.New("unauthorized device")
	ErrInvalidCredential  = errors.New("invalid or inactive RFID card")
	ErrShiftConflict      = errors.New("concurrent tap conflict")
	ErrDuplicateTap       = errors.New("duplicate tap")
)
